package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redalert-live/alertmon/internal/config"
	"github.com/redalert-live/alertmon/internal/engine"
	"github.com/redalert-live/alertmon/internal/feed"
	"github.com/redalert-live/alertmon/internal/prefs"
	"github.com/redalert-live/alertmon/internal/proxy"
	"github.com/redalert-live/alertmon/internal/server"
	"github.com/redalert-live/alertmon/internal/stream"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	cfg := config.Load(logger)

	prefStore, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		logger.Warn("preference store unavailable, continuing without it", "path", cfg.PrefsPath, "error", err.Error())
		prefStore = nil
	} else {
		defer prefStore.Close()
	}

	hub := stream.NewHub(logger)

	cats := engine.NewCategoryRegistry()
	audio := engine.NewAudioController(hub, logger)
	arbiter := engine.NewArbiter(cats, audio, cfg.Lookback, logger)
	pipeline := engine.NewRenderPipeline(cats, hub)
	fetcher := feed.NewClient(cfg.FeedBaseURL, logger)

	scheduler := engine.NewScheduler(
		engine.SchedulerConfig{
			City:     cfg.City,
			Range:    cfg.Range,
			Interval: cfg.PollInterval,
		},
		fetcher,
		engine.NewLedger(),
		cats,
		pipeline,
		arbiter,
		audio,
		hub,
		logger,
	)

	proxyHandler := proxy.New(logger)
	srv := server.New(scheduler, hub, proxyHandler, prefStore, cfg.StaticDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	}()

	logger.Info("server starting", "addr", httpServer.Addr, "city", cfg.City, "interval", cfg.PollInterval)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
