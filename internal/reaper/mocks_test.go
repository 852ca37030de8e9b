package reaper

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
)

type MockSandboxStatus struct {
	mock.Mock
}

func (m *MockSandboxStatus) Status(ctx context.Context, sessionID string) (kubernetes.Phase, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(kubernetes.Phase), args.Error(1)
}

type MockSessionDeleter struct {
	mock.Mock
}

func (m *MockSessionDeleter) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
