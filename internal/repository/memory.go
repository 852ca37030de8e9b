package repository

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is the in-process repository. It is the default backend and also
// backs the container-info side of the sqlite repository.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	containers map[string]*ContainerInfo
}

func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[string]*Session),
		containers: make(map[string]*ContainerInfo),
	}
}

func (m *Memory) Save(session *Session) error {
	if session.ID == "" {
		return fmt.Errorf("saving session: missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) Find(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

func (m *Memory) List() ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) CountByStatus(status string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sess := range m.sessions {
		if sess.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveContainerInfo(info *ContainerInfo) error {
	if info.SessionID == "" {
		return fmt.Errorf("saving container info: missing session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[info.SessionID] = info
	return nil
}

func (m *Memory) GetContainerInfo(sessionID string) (*ContainerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.containers[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return info, nil
}

func (m *Memory) DeleteContainerInfo(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, sessionID)
	return nil
}

func (m *Memory) Close() error { return nil }
