package terminal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// ContainerExecutor is the exec primitive the Kubernetes adapter provides.
type ContainerExecutor interface {
	Exec(ctx context.Context, sessionID string, command []string) (stdout, stderr string, err error)
	ExecStream(ctx context.Context, sessionID string, command []string, stdout, stderr io.Writer) <-chan error
}

// gamBinary is where the session image installs the GAM tool.
const gamBinary = "gam"

// CommandService turns terminal-level requests (raw shell line, GAM
// invocation, script run) into exec calls against the sandbox. It is the
// Runner used by real-pod sessions.
type CommandService struct {
	executor ContainerExecutor
	logger   *slog.Logger
}

func NewCommandService(executor ContainerExecutor, logger *slog.Logger) *CommandService {
	return &CommandService{executor: executor, logger: logger}
}

func (c *CommandService) Run(ctx context.Context, sessionID, command string) (string, string, error) {
	return c.executor.Exec(ctx, sessionID, []string{"/bin/sh", "-c", command})
}

func (c *CommandService) RunGAM(ctx context.Context, sessionID string, args []string, stdout, stderr io.Writer) <-chan error {
	command := append([]string{gamBinary}, args...)
	c.logger.Debug("executing gam command", "session_id", sessionID, "args", args)
	return c.executor.ExecStream(ctx, sessionID, command, stdout, stderr)
}

func (c *CommandService) RunScript(ctx context.Context, sessionID, dir, script string) (string, string, error) {
	command := fmt.Sprintf("cd %q && bash ./%s", dir, script)
	return c.executor.Exec(ctx, sessionID, []string{"/bin/sh", "-c", command})
}
