package terminal

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gamgui/gamgui-server/internal/vfs"
)

func (s *Service) handleEcho(st *Stream, args []string) {
	st.emit(strings.Join(args, " "))
}

func (s *Service) handleLs(ctx context.Context, st *Stream, line string, args []string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}

	dir := s.Workdir(st.sessionID)
	if len(args) > 0 {
		dir = vfs.Resolve(dir, args[len(args)-1])
	}
	names, err := s.fs.List(dir)
	if err != nil {
		st.emit("ls: " + err.Error())
		return
	}
	st.emit(strings.Join(names, "  "))
}

// handleCd resolves the target against the tracked working directory and
// only adopts it once the backend (or the virtual tree) confirms the
// directory exists. A failed verification leaves the cached directory
// untouched.
func (s *Service) handleCd(ctx context.Context, st *Stream, args []string) {
	if len(args) == 0 {
		st.emit("cd: missing argument")
		return
	}
	wd := s.Workdir(st.sessionID)
	if args[0] == ".." && wd == vfs.Root {
		// the terminal root has no parent
		return
	}
	target := vfs.Resolve(wd, args[0])

	if st.virtual {
		if !s.fs.DirExists(target) {
			st.emit("cd: no such directory: " + args[0])
			return
		}
		s.setWorkdir(st.sessionID, target)
		return
	}

	stdout, _, err := s.runner.Run(ctx, st.sessionID, fmt.Sprintf("cd %q && pwd", target))
	if err != nil {
		st.emit("cd: no such directory: " + args[0])
		return
	}
	resolved := lastLine(stdout)
	if !strings.HasPrefix(resolved, "/") {
		st.emit("cd: no such directory: " + args[0])
		return
	}
	s.setWorkdir(st.sessionID, resolved)
}

func (s *Service) handleCat(ctx context.Context, st *Stream, line string, args []string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}
	if len(args) == 0 {
		st.emit("cat: missing file operand")
		return
	}
	p := vfs.Resolve(s.Workdir(st.sessionID), args[0])
	data, err := s.fs.ReadFile(p)
	if err != nil {
		st.emit("cat: " + err.Error())
		return
	}
	st.emit(string(data))
}

func (s *Service) handleMkdir(ctx context.Context, st *Stream, line string, args []string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}
	if len(args) == 0 {
		st.emit("mkdir: missing operand")
		return
	}
	dir := vfs.Resolve(s.Workdir(st.sessionID), args[0])
	if err := s.fs.Mkdir(dir); err != nil {
		st.emit("mkdir: " + err.Error())
	}
}

func (s *Service) handleRm(ctx context.Context, st *Stream, line string, args []string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}
	if len(args) == 0 {
		st.emit("rm: missing operand")
		return
	}
	// flags like -r are meaningless for the virtual tree
	target := args[len(args)-1]
	p := vfs.Resolve(s.Workdir(st.sessionID), target)
	if err := s.fs.Remove(p); err != nil {
		st.emit("rm: " + err.Error())
	}
}

func (s *Service) handleWhoami(ctx context.Context, st *Stream, line string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}
	st.emit("gamgui")
}

func (s *Service) handleDate(ctx context.Context, st *Stream, line string) {
	if !st.virtual {
		s.runInWorkdir(ctx, st, line)
		return
	}
	st.emit(time.Now().UTC().Format(time.UnixDate))
}

// handleBash runs a script. The tracked working directory moves to the
// script's parent first, then the script is executed by basename from
// there, so relative paths inside the script behave as if the user had
// cd'ed before running it.
func (s *Service) handleBash(ctx context.Context, st *Stream, args []string) {
	if len(args) == 0 {
		st.emit("bash: missing script path")
		return
	}
	scriptPath := vfs.Resolve(s.Workdir(st.sessionID), args[0])
	dir := path.Dir(scriptPath)
	name := path.Base(scriptPath)

	if st.virtual {
		if !s.fs.DirExists(dir) {
			st.emit("bash: no such directory: " + dir)
			return
		}
		data, err := s.fs.ReadFile(scriptPath)
		if err != nil {
			st.emit("bash: " + err.Error())
			return
		}
		s.setWorkdir(st.sessionID, dir)
		s.runVirtualScript(ctx, st, string(data))
		return
	}

	s.setWorkdir(st.sessionID, dir)
	stdout, stderr, err := s.runner.RunScript(ctx, st.sessionID, dir, name)
	if err != nil {
		st.emit("bash: " + err.Error())
		return
	}
	if stdout != "" {
		st.emit(stdout)
	}
	if stderr != "" {
		st.emit(stderr)
	}
}

// runVirtualScript feeds a script's lines through the interpreter one at a
// time, skipping blanks and comments. Prompts are suppressed between lines.
func (s *Service) runVirtualScript(ctx context.Context, st *Stream, script string) {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		switch classify(tokens[0]) {
		case builtinEcho:
			s.handleEcho(st, tokens[1:])
		case builtinLs:
			s.handleLs(ctx, st, line, tokens[1:])
		case builtinCd:
			s.handleCd(ctx, st, tokens[1:])
		case builtinPwd:
			st.emit(s.Workdir(st.sessionID))
		case builtinCat:
			s.handleCat(ctx, st, line, tokens[1:])
		case builtinMkdir:
			s.handleMkdir(ctx, st, line, tokens[1:])
		case builtinRm:
			s.handleRm(ctx, st, line, tokens[1:])
		default:
			st.emit("command not found: " + tokens[0])
		}
	}
}

// handleGAM forwards everything after the leading token to the GAM
// execution path with streaming output. The prompt is re-emitted by the
// completion path, not the dispatcher.
func (s *Service) handleGAM(ctx context.Context, st *Stream, args []string) {
	if st.virtual {
		st.emit("gam is not available in a virtual session")
		s.emitPrompt(st)
		return
	}

	w := &emitWriter{st: st}
	done := s.runner.RunGAM(ctx, st.sessionID, args, w, w)

	if err := <-done; err != nil {
		s.logger.Error("gam command failed", "session_id", st.sessionID, "error", err)
		st.emit("\r\ngam: " + err.Error())
	}
	s.emitPrompt(st)
}

// emitWriter adapts the stream's output sink to io.Writer for streaming
// command output.
type emitWriter struct {
	st *Stream
}

func (w *emitWriter) Write(p []byte) (int, error) {
	w.st.emit(string(p))
	return len(p), nil
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\r\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
