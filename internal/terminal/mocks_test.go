package terminal

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, sessionID, command string) (string, string, error) {
	args := m.Called(ctx, sessionID, command)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockRunner) RunGAM(ctx context.Context, sessionID string, argv []string, stdout, stderr io.Writer) <-chan error {
	args := m.Called(ctx, sessionID, argv, stdout, stderr)
	return args.Get(0).(<-chan error)
}

func (m *MockRunner) RunScript(ctx context.Context, sessionID, dir, script string) (string, string, error) {
	args := m.Called(ctx, sessionID, dir, script)
	return args.String(0), args.String(1), args.Error(2)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Exec(ctx context.Context, sessionID string, command []string) (string, string, error) {
	args := m.Called(ctx, sessionID, command)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockExecutor) ExecStream(ctx context.Context, sessionID string, command []string, stdout, stderr io.Writer) <-chan error {
	args := m.Called(ctx, sessionID, command, stdout, stderr)
	return args.Get(0).(<-chan error)
}
