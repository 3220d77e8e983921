package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"agentmux/internal/api"
	"agentmux/internal/config"
	"agentmux/internal/delegate"
	"agentmux/internal/event"
	"agentmux/internal/flow"
	"agentmux/internal/inbox"
	"agentmux/internal/logging"
	"agentmux/internal/retention"
	"agentmux/internal/store"
	"agentmux/internal/terminal"
	"agentmux/internal/tmux"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("agentmux: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := settings.EnsureDirectories(); err != nil {
		os.Stderr.WriteString("agentmux: " + err.Error() + "\n")
		os.Exit(1)
	}

	level, ok := logging.ParseLevel(settings.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	logBuffer := logging.NewBuffer(logging.DefaultBufferSize)
	logger := logging.NewLoggerWithOutput(logBuffer, level, os.Stderr)

	db, err := store.Open(settings.DatabasePath)
	if err != nil {
		logger.Error("open database failed", map[string]string{
			"path":  settings.DatabasePath,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer db.Close()

	bus := event.NewBus()
	defer bus.Close()

	tmuxClient := tmux.NewClient()
	tmuxClient.SetEnv(config.APIBaseURLEnv, settings.APIBaseURL)

	manager := terminal.NewManager(terminal.Options{
		Store:           db,
		Mux:             tmuxClient,
		Logger:          logger,
		Bus:             bus,
		LogDir:          settings.TerminalLogDir,
		DefaultProvider: settings.DefaultProvider,
	})

	engine := inbox.NewEngine(inbox.EngineOptions{
		Store:   db,
		Manager: manager,
		Logger:  logger,
		Bus:     bus,
	})
	watcher, err := inbox.NewWatcher(inbox.WatcherOptions{
		Engine: engine,
		LogDir: settings.TerminalLogDir,
		Logger: logger,
	})
	if err != nil {
		logger.Error("start capture watcher failed", map[string]string{
			"dir":   settings.TerminalLogDir,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer watcher.Close()

	delegator := delegate.NewService(delegate.Options{
		Manager:                manager,
		Inbox:                  engine,
		Logger:                 logger,
		CallerID:               settings.TerminalID,
		EnableWorkingDirectory: settings.EnableWorkingDirectory,
	})

	flows := flow.NewService(flow.ServiceOptions{
		Store:   db,
		Manager: manager,
		Logger:  logger,
		Bus:     bus,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := flow.NewScheduler(flow.SchedulerOptions{
		Service:  flows,
		Logger:   logger,
		Interval: settings.SchedulerInterval,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	sweeper := retention.NewSweeper(retention.Options{
		Store:         db,
		Logger:        logger,
		LogDir:        settings.TerminalLogDir,
		RetentionDays: settings.RetentionDays,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RouterOptions{
		Rest: &api.RestHandler{
			Manager:  manager,
			Inbox:    engine,
			Delegate: delegator,
			Flows:    flows,
			Logger:   logger,
		},
		Bus:    bus,
		Logger: logger,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(settings.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("agentmux listening", map[string]string{
		"addr": server.Addr,
	})

	select {
	case <-ctx.Done():
		logger.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", map[string]string{"error": err.Error()})
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}
}
