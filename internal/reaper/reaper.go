// Package reaper reconciles stored sessions against the sandboxes that
// actually exist on the cluster. Pods can be evicted or killed outside of
// gamgui's control; the reaper sweeps active sessions on an interval and
// flags the ones whose pod is gone or failed so clients stop routing
// terminals to them.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/gamgui/gamgui-server/internal/kubernetes"
	"github.com/gamgui/gamgui-server/internal/repository"
)

type Reaper struct {
	repo     ReaperStore
	sandbox  SandboxStatus
	sessions SessionDeleter
	interval time.Duration
	logger   *slog.Logger
}

func New(repo ReaperStore, sandbox SandboxStatus, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		repo:     repo,
		sandbox:  sandbox,
		interval: interval,
		logger:   logger,
	}
}

// SetSessions late-binds the session teardown dependency; the session
// service is constructed after the reaper during startup.
func (r *Reaper) SetSessions(sessions SessionDeleter) {
	r.sessions = sessions
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// The immediate sweep catches sessions whose pods disappeared while the
// server was down.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	sessions, err := r.repo.List()
	if err != nil {
		r.logger.Error("reaper: list sessions", "error", err)
		return
	}

	reaped := 0
	expired := 0
	now := time.Now().UTC()
	for _, sess := range sessions {
		if sess.Status != repository.StatusActive {
			continue
		}

		if r.sessions != nil && !sess.ExpiresAt.IsZero() && now.After(sess.ExpiresAt) {
			r.logger.Info("reaper: session expired, tearing down",
				"session_id", sess.ID, "expired_at", sess.ExpiresAt)
			if err := r.sessions.Delete(ctx, sess.ID); err != nil {
				r.logger.Error("reaper: expiry teardown failed", "session_id", sess.ID, "error", err)
				continue
			}
			expired++
			continue
		}

		// Virtual sessions have no pod to check.
		if info, err := r.repo.GetContainerInfo(sess.ID); err == nil && info.Virtual {
			continue
		}

		phase, err := r.sandbox.Status(ctx, sess.ID)
		if err != nil {
			r.logger.Warn("reaper: status check failed",
				"session_id", sess.ID, "error", err)
			continue
		}

		if phase != kubernetes.PhaseFailed && phase != kubernetes.PhaseNotFound {
			continue
		}

		r.logger.Warn("reaper: sandbox gone, marking session",
			"session_id", sess.ID, "phase", phase)

		sess.Status = repository.StatusError
		sess.LastModified = time.Now().UTC()
		if err := r.repo.Save(sess); err != nil {
			r.logger.Error("reaper: update status", "session_id", sess.ID, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 || expired > 0 {
		r.logger.Info("reaper: swept sessions", "flagged", reaped, "expired", expired)
	}
}
