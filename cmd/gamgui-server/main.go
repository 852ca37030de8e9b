package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamgui/gamgui-server/internal/api"
	"github.com/gamgui/gamgui-server/internal/audit"
	"github.com/gamgui/gamgui-server/internal/config"
	"github.com/gamgui/gamgui-server/internal/kubernetes"
	"github.com/gamgui/gamgui-server/internal/reaper"
	"github.com/gamgui/gamgui-server/internal/repository"
	"github.com/gamgui/gamgui-server/internal/session"
	"github.com/gamgui/gamgui-server/internal/storage"
	"github.com/gamgui/gamgui-server/internal/terminal"
	"github.com/gamgui/gamgui-server/internal/vfs"
	"github.com/gamgui/gamgui-server/internal/ws"
)

// version is stamped at build time.
var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "path to gamgui.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.APIKey == "" {
		logger.Warn("no API key configured, running in open access mode")
	}

	var repo repository.Repository
	if cfg.DBPath != "" {
		repo, err = repository.NewSQLite(cfg.DBPath)
		if err != nil {
			logger.Error("open session database", "error", err)
			os.Exit(1)
		}
	} else {
		repo = repository.NewMemory()
	}
	defer repo.Close()

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		logger.Error("create uploads directory", "error", err)
		os.Exit(1)
	}
	fs := vfs.New(cfg.UploadsDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The control plane is optional: without it every session is served by
	// the virtual terminal.
	var containers session.ContainerService
	var runner terminal.Runner
	var rpr *reaper.Reaper
	kube, err := kubernetes.NewClient(ctx, cfg.Kubernetes, cfg.Websocket,
		kubernetes.NewSource(cfg.Kubernetes.ControlPlaneURL), logger)
	if err != nil {
		logger.Warn("control plane unavailable, sessions will run in virtual mode", "error", err)
	} else {
		kube.StartRenewal(ctx)
		containers = kube
		runner = terminal.NewCommandService(kube, logger)
		rpr = reaper.New(repo, kube, cfg.Session.ReapInterval, logger)
	}

	var buckets session.BucketService
	if cfg.Storage.Enabled {
		gcs, err := storage.NewClient(ctx, cfg.Storage.ProjectID, cfg.Storage.BucketPrefix, logger)
		if err != nil {
			logger.Error("storage client", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		buckets = gcs
	}

	sessions := session.NewService(cfg, repo, containers, buckets, logger)
	term := terminal.NewService(runner, fs, version, logger)
	recorder := audit.NewRecorder(logger)
	term.SetAuditor(recorder)
	sockets := ws.NewService(sessions, term, ws.NewSocketManager(), logger)
	sessions.SetCleanup(term, sockets)
	if rpr != nil {
		rpr.SetSessions(sessions)
		go rpr.Run(ctx)
	}
	srv := api.NewServer(cfg, sessions, sockets, recorder, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen, "version", version)
	fmt.Fprintf(os.Stderr, "\n  gamgui-server ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
