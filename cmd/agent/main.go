package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/pipetrace/agent/internal/api"
	"github.com/pipetrace/agent/internal/config"
	"github.com/pipetrace/agent/internal/db"
	"github.com/pipetrace/agent/internal/jobsvc"
	"github.com/pipetrace/agent/internal/logging"
	"github.com/pipetrace/agent/internal/poller"
	"github.com/pipetrace/agent/internal/session"
	"github.com/pipetrace/agent/internal/store"
	"github.com/pipetrace/agent/internal/ui"
	"github.com/pipetrace/agent/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, logCloser := logging.NewWithFile(cfg.LogLevel(), logging.FileOptions{Path: cfg.LogFile()})
	defer logCloser.Close()
	logger.Info("starting pipetrace agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	deviceID, err := store.EnsureDeviceID(context.Background(), repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := store.EnsureAuthToken(context.Background(), repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	printBanner(cfg, authToken, deviceID)

	client := newClient(cfg, deviceID, logger)
	orch := session.New(session.Config{
		Client: client,
		Poller: poller.New(client, poller.Config{Interval: cfg.PollInterval()}, logger),
		Logger: logger,
	})
	defer orch.Close()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		UploadDir:  cfg.UploadDir(),
		Session:    orch,
		Repository: repo,
		Logger:     logger,
		StartTime:  startTime,
		DeviceID:   deviceID,
		Simulated:  cfg.Simulated(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inbox := watcher.NewFSWatcher(logger, watcher.DefaultSettle)
	inbox.OnChange(func(path string, event watcher.EventType) {
		if event == watcher.EventDelete {
			return
		}
		// SubmitFile blocks for the upload; keep the watcher loop free.
		go submitDropped(ctx, orch, path, logger)
	})

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Session: orch,
			Logger:  logger,
			OnOpenInbox: func() error {
				return openFolder(cfg.InboxDir())
			},
			OnQuit: stop,
		})
		go tray.Run()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Start()
	})
	g.Go(func() error {
		return inbox.Watch(gctx, cfg.InboxDir())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		orch.Close()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newClient(cfg config.Config, deviceID string, logger *slog.Logger) jobsvc.Client {
	if cfg.Simulated() {
		logger.Info("no job service configured, using the built-in simulator")
		return jobsvc.NewSimulator(jobsvc.SimulatorConfig{}, logger)
	}
	c := jobsvc.NewHTTPClient(cfg.ServiceURL(), cfg.HTTPTimeout(), logger)
	c.SetDeviceID(deviceID)
	logger.Info("job service configured", "base_url", cfg.ServiceURL())
	return c
}

func submitDropped(ctx context.Context, orch *session.Orchestrator, path string, logger *slog.Logger) {
	err := orch.SubmitFile(ctx, path, "")
	switch {
	case err == nil:
		logger.Info("inbox document submitted", "path", logging.SanitizePath(path))
	case errors.Is(err, session.ErrBusy):
		logger.Info("inbox document ignored while processing", "path", logging.SanitizePath(path))
	default:
		logger.Warn("inbox document rejected", "path", logging.SanitizePath(path), "kind", session.Classify(err), "error", err)
	}
}

func printBanner(cfg config.Config, authToken, deviceID string) {
	bold := color.New(color.Bold, color.FgCyan)
	label := color.New(color.Faint)

	mode := color.GreenString("job service %s", cfg.ServiceURL())
	if cfg.Simulated() {
		mode = color.YellowString("simulator (set %s to use a real service)", config.EnvServiceURL)
	}

	fmt.Println()
	bold.Printf("  PIPETRACE AGENT v%s\n", config.Version)
	fmt.Printf("  %s http://127.0.0.1:%d\n", label.Sprint("API URL:   "), cfg.Port())
	fmt.Printf("  %s %s\n", label.Sprint("Auth Token:"), authToken)
	fmt.Printf("  %s %s\n", label.Sprint("Device ID: "), deviceID)
	fmt.Printf("  %s %s\n", label.Sprint("Inbox:     "), logging.SanitizePath(cfg.InboxDir()))
	fmt.Printf("  %s %s\n", label.Sprint("Mode:      "), mode)
	fmt.Println()
}

func openFolder(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
