package audit

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder() *Recorder {
	return NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRedactScrubsCredentials(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"password flag": {
			in:   "gam create user jo password hunter2",
			want: "gam create user jo password=***REDACTED***",
		},
		"long option": {
			in:   "gam oauth create --password s3cret",
			want: "gam oauth create --password=***REDACTED***",
		},
		"token assignment": {
			in:   "gam config token=abc123 save",
			want: "gam config token=***REDACTED*** save",
		},
		"exported secret": {
			in:   "export GAM_API_TOKEN=abc123",
			want: "export GAM_API_TOKEN=***REDACTED***",
		},
		"plain command untouched": {
			in:   "gam info domain",
			want: "gam info domain",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Redact(tc.in))
		})
	}
}

func TestRecordAndHistory(t *testing.T) {
	rec := newTestRecorder()

	rec.Record("sess_aaaa0001", "gam info domain")
	rec.Record("sess_aaaa0001", "gam print users")
	rec.Record("sess_bbbb0001", "whoami")

	history := rec.History("sess_aaaa0001")
	require.Len(t, history, 2)
	assert.Equal(t, "gam info domain", history[0].Command)
	assert.Equal(t, "gam print users", history[1].Command)
	assert.False(t, history[0].Timestamp.IsZero())

	assert.Len(t, rec.History("sess_bbbb0001"), 1)
	assert.Empty(t, rec.History("sess_unknown1"))
}

func TestRecordRedactsBeforeStoring(t *testing.T) {
	rec := newTestRecorder()

	rec.Record("sess_aaaa0001", "gam user jo update password hunter2")

	history := rec.History("sess_aaaa0001")
	require.Len(t, history, 1)
	assert.NotContains(t, history[0].Command, "hunter2")
	assert.Contains(t, history[0].Command, "***REDACTED***")
}

func TestHistoryCapsOldestFirstEviction(t *testing.T) {
	rec := newTestRecorder()

	for i := 0; i < maxEntriesPerSession+25; i++ {
		rec.Record("sess_aaaa0001", fmt.Sprintf("echo %d", i))
	}

	history := rec.History("sess_aaaa0001")
	require.Len(t, history, maxEntriesPerSession)
	assert.Equal(t, "echo 25", history[0].Command)
}

func TestDrop(t *testing.T) {
	rec := newTestRecorder()

	rec.Record("sess_aaaa0001", "gam info domain")
	rec.Drop("sess_aaaa0001")

	assert.Empty(t, rec.History("sess_aaaa0001"))
}
