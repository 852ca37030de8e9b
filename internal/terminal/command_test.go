package terminal

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCommandService(exec *MockExecutor) *CommandService {
	return NewCommandService(exec, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunWrapsInShell(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("Exec", mock.Anything, "sess_abc", []string{"/bin/sh", "-c", "ls -la"}).
		Return("total 0\n", "", nil)

	svc := newCommandService(exec)
	stdout, stderr, err := svc.Run(context.Background(), "sess_abc", "ls -la")

	require.NoError(t, err)
	assert.Equal(t, "total 0\n", stdout)
	assert.Empty(t, stderr)
	exec.AssertExpectations(t)
}

func TestRunGAMPrependsBinary(t *testing.T) {
	exec := &MockExecutor{}
	done := make(chan error, 1)
	done <- nil
	exec.On("ExecStream", mock.Anything, "sess_abc", []string{"gam", "info", "domain"}, mock.Anything, mock.Anything).
		Return((<-chan error)(done))

	svc := newCommandService(exec)
	err := <-svc.RunGAM(context.Background(), "sess_abc", []string{"info", "domain"}, io.Discard, io.Discard)

	require.NoError(t, err)
	exec.AssertExpectations(t)
}

func TestRunScriptChangesDirectoryFirst(t *testing.T) {
	exec := &MockExecutor{}
	exec.On("Exec", mock.Anything, "sess_abc", []string{"/bin/sh", "-c", `cd "/workspace/scripts" && bash ./setup.sh`}).
		Return("ok", "", nil)

	svc := newCommandService(exec)
	stdout, _, err := svc.RunScript(context.Background(), "sess_abc", "/workspace/scripts", "setup.sh")

	require.NoError(t, err)
	assert.Equal(t, "ok", stdout)
	exec.AssertExpectations(t)
}
