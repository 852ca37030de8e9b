package api

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, opts session.CreateOpts) (*repository.Session, *session.WebsocketInfo, error) {
	args := m.Called(ctx, opts)
	var sess *repository.Session
	var info *session.WebsocketInfo
	if v := args.Get(0); v != nil {
		sess = v.(*repository.Session)
	}
	if v := args.Get(1); v != nil {
		info = v.(*session.WebsocketInfo)
	}
	return sess, info, args.Error(2)
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*repository.Session, error) {
	args := m.Called(ctx, id)
	if sess := args.Get(0); sess != nil {
		return sess.(*repository.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context) ([]*repository.Session, error) {
	args := m.Called(ctx)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*repository.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionService) WebsocketInfo(id string) (*session.WebsocketInfo, error) {
	args := m.Called(id)
	if info := args.Get(0); info != nil {
		return info.(*session.WebsocketInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

// stubSocketHandler satisfies SocketHandler for router construction.
type stubSocketHandler struct{}

func (stubSocketHandler) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (stubSocketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}
