// Package terminal implements the per-session command interpreter that sits
// between websocket connections and a session's sandbox. Sessions backed by
// a real pod execute commands remotely with the tracked working directory
// re-applied on every call (the pod has no persistent shell process);
// virtual sessions run the same command vocabulary against an in-memory
// filesystem.
package terminal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gamgui/gamgui-server/internal/vfs"
)

// Auditor records executed command lines for a session's audit trail.
type Auditor interface {
	Record(sessionID, command string)
}

// Runner executes commands inside a session's sandbox.
type Runner interface {
	// Run executes a shell command and returns the accumulated output.
	Run(ctx context.Context, sessionID, command string) (stdout, stderr string, err error)
	// RunGAM executes the GAM tool with streaming output; the returned
	// channel yields exactly one completion value.
	RunGAM(ctx context.Context, sessionID string, args []string, stdout, stderr io.Writer) <-chan error
	// RunScript executes a script by basename from within dir.
	RunScript(ctx context.Context, sessionID, dir, script string) (stdout, stderr string, err error)
}

type Service struct {
	runner  Runner
	fs      *vfs.FS
	audit   Auditor
	logger  *slog.Logger
	version string

	// promptDelay lets in-flight async output chunks reach the client
	// before the prompt is re-emitted. Soft ordering, not a guarantee.
	promptDelay time.Duration

	mu       sync.Mutex
	workdirs map[string]string
}

func NewService(runner Runner, fs *vfs.FS, version string, logger *slog.Logger) *Service {
	return &Service{
		runner:      runner,
		fs:          fs,
		logger:      logger,
		version:     version,
		promptDelay: 100 * time.Millisecond,
		workdirs:    make(map[string]string),
	}
}

// SetAuditor attaches the command audit log. A nil auditor disables
// recording.
func (s *Service) SetAuditor(audit Auditor) {
	s.audit = audit
}

// CreateStream builds the stream pair for a session and starts its
// interpreter goroutine. Callers must create at most one stream per handle;
// the session layer caches the result on the container info.
func (s *Service) CreateStream(ctx context.Context, sessionID string, virtual bool, sink func(text string)) *Stream {
	s.mu.Lock()
	s.workdirs[sessionID] = vfs.Root
	s.mu.Unlock()

	st := newStream(sessionID, virtual, sink)
	go st.run(ctx, s)
	return st
}

// Workdir returns the tracked working directory for a session.
func (s *Service) Workdir(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wd, ok := s.workdirs[sessionID]; ok {
		return wd
	}
	return vfs.Root
}

func (s *Service) setWorkdir(sessionID, wd string) {
	s.mu.Lock()
	s.workdirs[sessionID] = wd
	s.mu.Unlock()
}

// Release drops interpreter state for a session after teardown.
func (s *Service) Release(sessionID string) {
	s.mu.Lock()
	delete(s.workdirs, sessionID)
	s.mu.Unlock()
}

func (s *Service) prompt(sessionID string) string {
	return s.Workdir(sessionID) + " $ "
}

// emitPrompt re-emits the prompt after the settle delay.
func (s *Service) emitPrompt(st *Stream) {
	if s.promptDelay > 0 {
		time.Sleep(s.promptDelay)
	}
	st.emit("\r\n" + s.prompt(st.sessionID))
}
