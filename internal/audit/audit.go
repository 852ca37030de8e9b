// Package audit keeps a per-session log of executed terminal commands.
// Command lines routinely carry admin credentials, so every entry is
// scrubbed of password, token and key arguments before it is stored.
package audit

import (
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// maxEntriesPerSession bounds the in-memory history of one session; the
// oldest entries are evicted first.
const maxEntriesPerSession = 500

const redacted = "***REDACTED***"

// sensitivePatterns match credential-bearing argument shapes. The capture
// group keeps the argument name so the redacted line stays readable.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)[\s=]+\S+`),
	regexp.MustCompile(`(?i)(token|key|secret)[\s=]+\S+`),
	regexp.MustCompile(`(?i)(--password)[\s=]+\S+`),
	regexp.MustCompile(`(-p)[\s=]+\S+`),
	regexp.MustCompile(`(?i)(export \w*(?:PASSWORD|TOKEN|KEY|SECRET)\w*)[\s=]+\S+`),
}

// Redact scrubs credential arguments from a command line.
func Redact(command string) string {
	for _, p := range sensitivePatterns {
		command = p.ReplaceAllString(command, "${1}="+redacted)
	}
	return command
}

// Entry is one executed command.
type Entry struct {
	SessionID string    `json:"sessionId"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder is the in-memory audit log shared by all sessions.
type Recorder struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	logger  *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		entries: make(map[string][]Entry),
		logger:  logger,
	}
}

// Record appends one command to the session's history, redacted.
func (r *Recorder) Record(sessionID, command string) {
	entry := Entry{
		SessionID: sessionID,
		Command:   Redact(command),
		Timestamp: time.Now().UTC(),
	}

	r.mu.Lock()
	log := append(r.entries[sessionID], entry)
	if len(log) > maxEntriesPerSession {
		log = log[len(log)-maxEntriesPerSession:]
	}
	r.entries[sessionID] = log
	r.mu.Unlock()

	r.logger.Debug("command recorded", "session_id", sessionID, "command", entry.Command)
}

// History returns the session's commands, oldest first.
func (r *Recorder) History(sessionID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries[sessionID]...)
}

// Drop discards a session's history.
func (r *Recorder) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}
