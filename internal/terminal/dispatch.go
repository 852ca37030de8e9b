package terminal

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// builtin enumerates the interpreter's fixed command vocabulary. Dispatch is
// an exhaustive switch rather than a string-keyed handler table so that an
// unhandled kind fails to compile instead of falling through silently.
type builtin int

const (
	builtinNone builtin = iota
	builtinEcho
	builtinLs
	builtinCd
	builtinPwd
	builtinCat
	builtinMkdir
	builtinRm
	builtinWhoami
	builtinDate
	builtinHelp
	builtinVersion
	builtinBash
	builtinGAM
)

func classify(token string) builtin {
	switch token {
	case "echo":
		return builtinEcho
	case "ls":
		return builtinLs
	case "cd":
		return builtinCd
	case "pwd":
		return builtinPwd
	case "cat":
		return builtinCat
	case "mkdir":
		return builtinMkdir
	case "rm":
		return builtinRm
	case "whoami":
		return builtinWhoami
	case "date":
		return builtinDate
	case "help":
		return builtinHelp
	case "version":
		return builtinVersion
	case "bash":
		return builtinBash
	case "gam":
		return builtinGAM
	default:
		return builtinNone
	}
}

// handleLine interprets one line of terminal input. Interpreter failures are
// rendered as a one-line message followed by the prompt; they never
// terminate the stream.
func (s *Service) handleLine(ctx context.Context, st *Stream, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		s.emitPrompt(st)
		return
	}
	if s.audit != nil {
		s.audit.Record(st.sessionID, line)
	}

	tokens, err := shlex.Split(line)
	if err != nil {
		// Unbalanced quoting; fall back to whitespace splitting so the
		// pass-through path still sees the raw line.
		tokens = strings.Fields(line)
	}
	if len(tokens) == 0 {
		s.emitPrompt(st)
		return
	}

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
	case builtinWhoami:
		s.handleWhoami(ctx, st, line)
	case builtinDate:
		s.handleDate(ctx, st, line)
	case builtinHelp:
		st.emit(helpText)
	case builtinVersion:
		st.emit("gamgui-server " + s.version)
	case builtinBash:
		s.handleBash(ctx, st, tokens[1:])
	case builtinGAM:
		s.handleGAM(ctx, st, tokens[1:])
		// the completion path emits the prompt
		return
	case builtinNone:
		s.handlePassthrough(ctx, st, line, tokens[0])
	}

	s.emitPrompt(st)
}

// passthrough executes an arbitrary command on a real sandbox with the
// tracked working directory re-applied; virtual sessions have nothing to
// fall through to.
func (s *Service) handlePassthrough(ctx context.Context, st *Stream, line, cmd string) {
	if st.virtual {
		st.emit("command not found: " + cmd)
		return
	}
	s.runInWorkdir(ctx, st, line)
}

// runInWorkdir executes `cd "<workdir>" && <line>` in the sandbox and emits
// the output. The directory prefix hides the statelessness of the exec
// channel from the user.
func (s *Service) runInWorkdir(ctx context.Context, st *Stream, line string) {
	wd := s.Workdir(st.sessionID)
	command := fmt.Sprintf("cd %q && %s", wd, line)

	stdout, stderr, err := s.runner.Run(ctx, st.sessionID, command)
	if err != nil {
		s.logger.Error("command execution failed", "session_id", st.sessionID, "error", err)
		st.emit("error: " + err.Error())
		return
	}
	if stdout != "" {
		st.emit(stdout)
	}
	if stderr != "" {
		st.emit(stderr)
	}
}

const helpText = `Available commands:
  gam <args>      run a GAM command
  ls [path]       list directory contents
  cd <path>       change directory
  pwd             print working directory
  cat <file>      print file contents
  mkdir <dir>     create directory
  rm <path>       remove file or directory
  echo <text>     print text
  bash <script>   run a shell script
  whoami, date, version, help`
