package session

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
)

type MockContainerService struct {
	mock.Mock
}

func (m *MockContainerService) CreateContainer(ctx context.Context, sessionID string, opts kubernetes.CreateOptions) (*kubernetes.Handle, error) {
	args := m.Called(ctx, sessionID, opts)
	switch handle := args.Get(0).(type) {
	case *kubernetes.Handle:
		return handle, args.Error(1)
	case func(string) *kubernetes.Handle:
		// session ids are generated inside Create; derive the handle
		return handle(sessionID), args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

func (m *MockContainerService) WaitReady(ctx context.Context, sessionID string, timeout time.Duration) error {
	args := m.Called(ctx, sessionID, timeout)
	return args.Error(0)
}

func (m *MockContainerService) DeleteContainer(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockContainerService) Status(ctx context.Context, sessionID string) (kubernetes.Phase, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(kubernetes.Phase), args.Error(1)
}

func (m *MockContainerService) WebsocketPath(sessionID string) string {
	args := m.Called(sessionID)
	return args.String(0)
}

type MockBucketService struct {
	mock.Mock
}

func (m *MockBucketService) EnsureBucket(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(sessionID), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func (m *MockBucketService) DeleteBucket(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}
