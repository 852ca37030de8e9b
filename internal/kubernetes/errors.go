package kubernetes

import "fmt"

// ContainerError wraps a control-plane failure with the session and the
// attempted operation.
type ContainerError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("%s for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// CommandError reports a command that completed with a non-success status.
// The raw status payload is preserved so callers can render or inspect it.
type CommandError struct {
	SessionID string
	Command   []string
	ExitCode  int
	Stderr    string
	Err       error
}

func (e *CommandError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %v failed with exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %v failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
