// Package session owns the session lifecycle: admission against the active
// cap, sandbox and bucket provisioning with rollback on partial failure,
// and best-effort teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gamgui/gamgui-server/internal/config"
	"github.com/gamgui/gamgui-server/internal/kubernetes"
	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/terminal"
)

// sandboxReadyTimeout bounds how long Create waits for a freshly scheduled
// pod to reach the running phase before rolling the session back.
const sandboxReadyTimeout = 60 * time.Second

type Service struct {
	cfg        *config.Config
	repo       repository.Repository
	containers ContainerService
	buckets    BucketService
	term       TerminalReleaser
	conns      ConnectionCloser
	logger     *slog.Logger
}

// NewService wires the session lifecycle. containers may be nil when no
// control plane is reachable; sessions are then served by the virtual
// terminal. buckets may be nil when storage integration is disabled.
func NewService(cfg *config.Config, repo repository.Repository, containers ContainerService, buckets BucketService, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		repo:       repo,
		containers: containers,
		buckets:    buckets,
		logger:     logger,
	}
}

// SetCleanup late-binds the teardown collaborators that depend on this
// service themselves, breaking the construction cycle with the websocket
// and terminal layers.
func (s *Service) SetCleanup(term TerminalReleaser, conns ConnectionCloser) {
	s.term = term
	s.conns = conns
}

type CreateOpts struct {
	Name              string
	Image             string
	Config            map[string]string
	CredentialsSecret string
	UserID            string
}

// WebsocketInfo is the relay addressing returned to REST callers.
type WebsocketInfo struct {
	URL        string `json:"websocketUrl"`
	Path       string `json:"websocketPath"`
	Kubernetes bool   `json:"kubernetes"`
}

func newSessionID() string {
	id := uuid.New()
	return fmt.Sprintf("sess_%x", id[:4])
}

func newContainerInfoID() string {
	id := uuid.New()
	return fmt.Sprintf("ci_%x", id[:4])
}

// Create provisions a new session: record first, then bucket, then sandbox.
// Any provisioning failure rolls back what was already created (best
// effort, rollback failures are logged) and surfaces the original error.
func (s *Service) Create(ctx context.Context, opts CreateOpts) (*repository.Session, *WebsocketInfo, error) {
	if opts.Name == "" {
		return nil, nil, ErrNameRequired
	}

	active, err := s.repo.CountByStatus(repository.StatusActive)
	if err != nil {
		return nil, nil, fmt.Errorf("counting active sessions: %w", err)
	}
	if active >= s.cfg.Session.MaxActive {
		return nil, nil, fmt.Errorf("%w (%d)", ErrCapacityExceeded, s.cfg.Session.MaxActive)
	}

	image := opts.Image
	if image == "" {
		image = s.cfg.Session.Image
	}
	secret := opts.CredentialsSecret
	if secret == "" {
		secret = s.cfg.Session.CredentialsSecret
	}

	now := time.Now().UTC()
	sess := &repository.Session{
		ID:           newSessionID(),
		Name:         opts.Name,
		Image:        image,
		Config:       opts.Config,
		Status:       repository.StatusCreating,
		UserID:       opts.UserID,
		CreatedAt:    now,
		LastModified: now,
	}
	if ttl := s.cfg.Session.TTL; ttl > 0 {
		sess.ExpiresAt = now.Add(ttl)
	}
	if err := s.repo.Save(sess); err != nil {
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}

	if s.buckets != nil && s.cfg.Storage.Enabled {
		bucket, err := s.buckets.EnsureBucket(ctx, sess.ID)
		if err != nil {
			s.rollbackRecord(sess.ID)
			return nil, nil, fmt.Errorf("provisioning session bucket: %w", err)
		}
		sess.BucketName = bucket
	}

	info, err := s.provisionSandbox(ctx, sess, secret)
	if err != nil {
		s.rollbackBucket(ctx, sess.BucketName)
		s.rollbackRecord(sess.ID)
		return nil, nil, err
	}

	sess.PodName = info.PodName
	sess.Status = repository.StatusActive
	sess.LastModified = time.Now().UTC()
	if err := s.repo.Save(sess); err != nil {
		s.rollbackSandbox(ctx, sess.ID)
		s.rollbackBucket(ctx, sess.BucketName)
		s.rollbackRecord(sess.ID)
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}
	if err := s.repo.SaveContainerInfo(info); err != nil {
		s.rollbackSandbox(ctx, sess.ID)
		s.rollbackBucket(ctx, sess.BucketName)
		s.rollbackRecord(sess.ID)
		return nil, nil, fmt.Errorf("saving container info: %w", err)
	}

	s.logger.Info("session created",
		"session_id", sess.ID, "name", sess.Name, "virtual", info.Virtual, "pod", info.PodName)

	wsInfo := &WebsocketInfo{
		URL:        config.ExpandSessionID(s.cfg.Websocket.URLTemplate, sess.ID),
		Path:       info.WebsocketPath,
		Kubernetes: !info.Virtual,
	}
	return sess, wsInfo, nil
}

// provisionSandbox creates the real sandbox when a control plane is
// configured. Provisioning failures are hard errors; a session never falls
// back to the virtual terminal once real provisioning was attempted.
func (s *Service) provisionSandbox(ctx context.Context, sess *repository.Session, secret string) (*repository.ContainerInfo, error) {
	if s.containers == nil {
		return &repository.ContainerInfo{
			ID:            newContainerInfoID(),
			SessionID:     sess.ID,
			Virtual:       true,
			WebsocketPath: config.ExpandSessionID(s.cfg.Websocket.PathTemplate, sess.ID),
		}, nil
	}

	handle, err := s.containers.CreateContainer(ctx, sess.ID, kubernetes.CreateOptions{
		Image:             sess.Image,
		CredentialsSecret: secret,
		Env:               sess.Config,
	})
	if err != nil {
		return nil, err
	}
	if err := s.containers.WaitReady(ctx, sess.ID, sandboxReadyTimeout); err != nil {
		s.rollbackSandbox(ctx, sess.ID)
		return nil, err
	}
	return &repository.ContainerInfo{
		ID:            newContainerInfoID(),
		SessionID:     sess.ID,
		PodName:       handle.PodName,
		ServiceName:   handle.ServiceName,
		WebsocketPath: handle.WebsocketPath,
	}, nil
}

func (s *Service) rollbackRecord(sessionID string) {
	if err := s.repo.Delete(sessionID); err != nil {
		s.logger.Error("rollback: deleting session record failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) rollbackBucket(ctx context.Context, bucket string) {
	if bucket == "" || s.buckets == nil {
		return
	}
	if err := s.buckets.DeleteBucket(ctx, bucket); err != nil {
		s.logger.Error("rollback: deleting session bucket failed", "bucket", bucket, "error", err)
	}
}

func (s *Service) rollbackSandbox(ctx context.Context, sessionID string) {
	if s.containers == nil {
		return
	}
	if err := s.containers.DeleteContainer(ctx, sessionID); err != nil {
		s.logger.Error("rollback: deleting sandbox failed", "session_id", sessionID, "error", err)
	}
}

// Get returns the session record, refreshing its status from the control
// plane for real sandboxes. A pod that disappeared out of band moves the
// session to the error status.
func (s *Service) Get(ctx context.Context, id string) (*repository.Session, error) {
	sess, err := s.repo.Find(id)
	if err != nil {
		return nil, err
	}

	s.refreshStatus(ctx, sess)
	return sess, nil
}

// List returns all session records, newest first, refreshing the status of
// active sessions from the control plane.
func (s *Service) List(ctx context.Context) ([]*repository.Session, error) {
	sessions, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		s.refreshStatus(ctx, sess)
	}
	return sessions, nil
}

// refreshStatus re-derives an active session's status from its pod phase.
// A pod that disappeared or failed out of band moves the session to the
// error status; lookup failures leave the record untouched.
func (s *Service) refreshStatus(ctx context.Context, sess *repository.Session) {
	if s.containers == nil || sess.Status != repository.StatusActive || sess.PodName == "" {
		return
	}
	phase, err := s.containers.Status(ctx, sess.ID)
	if err != nil {
		s.logger.Warn("refreshing session status failed", "session_id", sess.ID, "error", err)
		return
	}
	if phase == kubernetes.PhaseNotFound || phase == kubernetes.PhaseFailed {
		sess.Status = repository.StatusError
		sess.LastModified = time.Now().UTC()
		if err := s.repo.Save(sess); err != nil {
			s.logger.Error("persisting refreshed status failed", "session_id", sess.ID, "error", err)
		}
	}
}

// Delete tears the session down best effort: sandbox, bucket, handle,
// record. Sub-step failures are logged and do not stop the remainder; the
// repository never keeps orphaned entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.repo.Find(id)
	if err != nil {
		return err
	}

	if s.conns != nil {
		s.conns.DisconnectSession(id)
	}
	if info, err := s.repo.GetContainerInfo(id); err == nil && info.Stream != nil {
		info.Stream.Close()
	}
	if s.term != nil {
		s.term.Release(id)
	}

	if s.containers != nil && sess.PodName != "" {
		if err := s.containers.DeleteContainer(ctx, id); err != nil {
			s.logger.Error("sandbox teardown failed", "session_id", id, "error", err)
		}
	}

	if s.buckets != nil && sess.BucketName != "" {
		if err := s.buckets.DeleteBucket(ctx, sess.BucketName); err != nil {
			s.logger.Error("bucket teardown failed", "session_id", id, "bucket", sess.BucketName, "error", err)
		}
	}

	if err := s.repo.DeleteContainerInfo(id); err != nil {
		s.logger.Error("removing container info failed", "session_id", id, "error", err)
	}
	if err := s.repo.Delete(id); err != nil {
		return fmt.Errorf("removing session record: %w", err)
	}

	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// WebsocketInfo computes the relay addressing for a session, lazily filling
// the path for real sandboxes created before the path template was known.
func (s *Service) WebsocketInfo(id string) (*WebsocketInfo, error) {
	if _, err := s.repo.Find(id); err != nil {
		return nil, err
	}
	info, err := s.repo.GetContainerInfo(id)
	if err != nil {
		return nil, err
	}

	path := info.WebsocketPath
	if path == "" {
		if s.containers != nil && !info.Virtual {
			path = s.containers.WebsocketPath(id)
		} else {
			path = config.ExpandSessionID(s.cfg.Websocket.PathTemplate, id)
		}
		info.WebsocketPath = path
		if err := s.repo.SaveContainerInfo(info); err != nil {
			return nil, fmt.Errorf("caching websocket path: %w", err)
		}
	}

	return &WebsocketInfo{
		URL:        config.ExpandSessionID(s.cfg.Websocket.URLTemplate, id),
		Path:       path,
		Kubernetes: !info.Virtual,
	}, nil
}

// ContainerInfo returns the sandbox handle for a session.
func (s *Service) ContainerInfo(id string) (*repository.ContainerInfo, error) {
	return s.repo.GetContainerInfo(id)
}

// ContainerInfoUpdate is a shallow merge applied to a stored handle; zero
// fields are left untouched.
type ContainerInfoUpdate struct {
	WebsocketPath string
	Stream        *terminal.Stream
}

// UpdateContainerInfo merges updates into the stored handle. Used to cache
// the lazily created terminal stream on first join.
func (s *Service) UpdateContainerInfo(id string, update ContainerInfoUpdate) (*repository.ContainerInfo, error) {
	info, err := s.repo.GetContainerInfo(id)
	if err != nil {
		return nil, err
	}
	if update.WebsocketPath != "" {
		info.WebsocketPath = update.WebsocketPath
	}
	if update.Stream != nil {
		info.Stream = update.Stream
	}
	if err := s.repo.SaveContainerInfo(info); err != nil {
		return nil, fmt.Errorf("saving container info: %w", err)
	}
	return info, nil
}
