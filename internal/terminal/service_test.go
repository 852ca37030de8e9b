package terminal

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gamgui/gamgui-server/internal/vfs"
)

type capture struct {
	chunks []string
}

func (c *capture) sink(text string) {
	c.chunks = append(c.chunks, text)
}

func (c *capture) all() string {
	return strings.Join(c.chunks, "")
}

func newTestService(t *testing.T) (*Service, *MockRunner, *capture, *Stream) {
	t.Helper()
	runner := &MockRunner{}
	fs := vfs.New(t.TempDir())
	svc := NewService(runner, fs, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.promptDelay = 0

	out := &capture{}
	st := newStream("sess_test0001", true, out.sink)
	svc.workdirs[st.sessionID] = vfs.Root
	return svc, runner, out, st
}

func newRealStream(svc *Service, out *capture) *Stream {
	st := newStream("sess_real0001", false, out.sink)
	svc.workdirs[st.sessionID] = vfs.Root
	return st
}

func TestPwdReturnsCachedWorkdir(t *testing.T) {
	svc, runner, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "pwd\n")

	assert.Contains(t, out.all(), vfs.Root)
	assert.Contains(t, out.all(), vfs.Root+" $ ")
	// pwd never touches the backend
	runner.AssertNotCalled(t, "Run")
}

func TestEcho(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "echo hello world")
	assert.Contains(t, out.all(), "hello world")
}

func TestCdVirtual(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "cd uploads")
	assert.Equal(t, vfs.UploadsDir, svc.Workdir(st.sessionID))

	svc.handleLine(context.Background(), st, "pwd")
	assert.Contains(t, out.all(), vfs.UploadsDir)
}

func TestCdUnknownDirectoryLeavesWorkdirUnchanged(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "cd nowhere")

	assert.Equal(t, vfs.Root, svc.Workdir(st.sessionID))
	assert.Contains(t, out.all(), "no such directory")
}

func TestCdDotDotAtRootIsNoop(t *testing.T) {
	svc, _, _, st := newTestService(t)

	svc.handleLine(context.Background(), st, "cd ..")
	assert.Equal(t, vfs.Root, svc.Workdir(st.sessionID))
}

func TestCdRealAdoptsVerifiedPath(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	runner.On("Run", mock.Anything, st.sessionID, `cd "/workspace/uploads" && pwd`).
		Return("/workspace/uploads\n", "", nil)

	svc.handleLine(context.Background(), st, "cd uploads")
	assert.Equal(t, "/workspace/uploads", svc.Workdir(st.sessionID))
	runner.AssertExpectations(t)
}

func TestCdRealVerificationFailureLeavesWorkdirUnchanged(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	runner.On("Run", mock.Anything, st.sessionID, mock.Anything).
		Return("sh: cd: missing: No such file or directory", "", nil)

	svc.handleLine(context.Background(), st, "cd missing")
	assert.Equal(t, vfs.Root, svc.Workdir(st.sessionID))
	assert.Contains(t, out.all(), "no such directory")
}

func TestPassthroughRealPrefixesWorkdir(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	runner.On("Run", mock.Anything, st.sessionID, `cd "/workspace" && grep -r foo .`).
		Return("match\n", "", nil)

	svc.handleLine(context.Background(), st, "grep -r foo .")

	assert.Contains(t, out.all(), "match")
	assert.Contains(t, out.all(), vfs.Root+" $ ")
	runner.AssertExpectations(t)
}

func TestPassthroughVirtualReportsCommandNotFound(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "kubectl get pods")
	assert.Contains(t, out.all(), "command not found: kubectl")
}

func TestExecutionErrorRendersOneLineAndPrompt(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	runner.On("Run", mock.Anything, st.sessionID, mock.Anything).
		Return("", "", assertError("exec transport broke"))

	svc.handleLine(context.Background(), st, "top")

	assert.Contains(t, out.all(), "error: exec transport broke")
	assert.Contains(t, out.all(), " $ ")
}

func TestVirtualFileCommands(t *testing.T) {
	svc, _, out, st := newTestService(t)
	ctx := context.Background()

	svc.handleLine(ctx, st, "mkdir reports")
	svc.handleLine(ctx, st, "ls")
	assert.Contains(t, out.all(), "reports/")

	require.NoError(t, svc.fs.WriteFile(vfs.Root+"/notes.txt", []byte("remember")))
	svc.handleLine(ctx, st, "cat notes.txt")
	assert.Contains(t, out.all(), "remember")

	svc.handleLine(ctx, st, "rm notes.txt")
	out.chunks = nil
	svc.handleLine(ctx, st, "cat notes.txt")
	assert.Contains(t, out.all(), "no such file")
}

func TestBashVirtualRunsScriptAndMovesWorkdir(t *testing.T) {
	svc, _, out, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.fs.Mkdir(vfs.Root+"/scripts"))
	require.NoError(t, svc.fs.WriteFile(vfs.Root+"/scripts/run.sh", []byte("# setup\necho done\n")))

	svc.handleLine(ctx, st, "bash scripts/run.sh")

	assert.Equal(t, vfs.Root+"/scripts", svc.Workdir(st.sessionID))
	assert.Contains(t, out.all(), "done")
}

func TestBashRealExecutesByBasename(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	runner.On("RunScript", mock.Anything, st.sessionID, "/workspace/scripts", "run.sh").
		Return("script output", "", nil)

	svc.handleLine(context.Background(), st, "bash scripts/run.sh")

	assert.Equal(t, "/workspace/scripts", svc.Workdir(st.sessionID))
	assert.Contains(t, out.all(), "script output")
	runner.AssertExpectations(t)
}

func TestGAMStreamsOutputThenPrompt(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	done := make(chan error, 1)
	done <- nil
	runner.On("RunGAM", mock.Anything, st.sessionID, []string{"info", "domain"}, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			w := args.Get(3).(io.Writer)
			w.Write([]byte("domain info here"))
		}).
		Return((<-chan error)(done))

	svc.handleLine(context.Background(), st, "gam info domain")

	assert.Contains(t, out.all(), "domain info here")
	assert.Contains(t, out.all(), " $ ")
	runner.AssertExpectations(t)
}

func TestGAMFailureIsRenderedNotSwallowed(t *testing.T) {
	svc, runner, _, _ := newTestService(t)
	out := &capture{}
	st := newRealStream(svc, out)

	done := make(chan error, 1)
	done <- assertError("exit status 1")
	runner.On("RunGAM", mock.Anything, st.sessionID, mock.Anything, mock.Anything, mock.Anything).
		Return((<-chan error)(done))

	svc.handleLine(context.Background(), st, "gam print users")

	assert.Contains(t, out.all(), "gam: exit status 1")
	assert.Contains(t, out.all(), " $ ")
}

func TestGAMVirtualIsUnavailable(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "gam info domain")
	assert.Contains(t, out.all(), "not available in a virtual session")
}

func TestHelpAndVersion(t *testing.T) {
	svc, _, out, st := newTestService(t)

	svc.handleLine(context.Background(), st, "help")
	assert.Contains(t, out.all(), "Available commands")

	svc.handleLine(context.Background(), st, "version")
	assert.Contains(t, out.all(), "gamgui-server test")
}

func TestStreamProcessesInputSequentially(t *testing.T) {
	runner := &MockRunner{}
	fs := vfs.New(t.TempDir())
	svc := NewService(runner, fs, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.promptDelay = 0

	outCh := make(chan string, 64)
	st := svc.CreateStream(context.Background(), "sess_stream01", true, func(text string) { outCh <- text })
	defer st.Close()

	st.WriteInput("echo one\n")
	st.WriteInput("echo two\n")

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case chunk := <-outCh:
			got = append(got, chunk)
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	joined := strings.Join(got, "")
	assert.Less(t, strings.Index(joined, "one"), strings.Index(joined, "two"))
}

// assertError is a trivial error type for mock returns.
type assertError string

func (e assertError) Error() string { return string(e) }

type recordingAuditor struct {
	commands []string
}

func (r *recordingAuditor) Record(sessionID, command string) {
	r.commands = append(r.commands, command)
}

func TestHandleLineRecordsCommands(t *testing.T) {
	svc, _, _, st := newTestService(t)
	auditor := &recordingAuditor{}
	svc.SetAuditor(auditor)

	svc.handleLine(context.Background(), st, "echo hello\n")
	svc.handleLine(context.Background(), st, "pwd")
	svc.handleLine(context.Background(), st, "   \n") // blank lines are not commands

	assert.Equal(t, []string{"echo hello", "pwd"}, auditor.commands)
}
