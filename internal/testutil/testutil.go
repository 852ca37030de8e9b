package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gamgui/gamgui-server/internal/config"
	"github.com/gamgui/gamgui-server/internal/repository"
)

// TestConfig returns a Config with sensible test defaults. The control
// plane URL is left empty so sessions run virtual.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Listen:     "127.0.0.1:0",
		APIKey:     "test-api-key",
		UploadsDir: filepath.Join(t.TempDir(), "uploads"),
		Session: config.SessionConfig{
			MaxActive:         20,
			Image:             "gamgui/gam-session:test",
			CredentialsSecret: "gam-credentials",
			ReapInterval:      time.Minute,
		},
		Kubernetes: config.KubernetesConfig{
			Namespace:           "gamgui",
			PodPrefix:           "gam-session",
			ServiceNameTemplate: "gam-session-{{SESSION_ID}}-svc",
			ContainerName:       "gam",
			CredentialsPath:     "/etc/gam/credentials",
			UploadMountPath:     "/workspace/uploads",
		},
		Storage: config.StorageConfig{
			BucketPrefix: "gamgui-session",
		},
		Websocket: config.WebsocketConfig{
			URLTemplate:  "ws://127.0.0.1:0/sessions/{{SESSION_ID}}/ws",
			PathTemplate: "/sessions/{{SESSION_ID}}/ws",
		},
	}
}

// NewTestRepository creates a sqlite repository backed by a temp file that
// is removed when the test finishes.
func NewTestRepository(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// QuietLogger returns a logger that only surfaces errors, keeping test
// output readable.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
