// cmd/camkeepd/main.go
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

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/camkeep/camkeep/internal/bus"
	"github.com/camkeep/camkeep/internal/capture"
	"github.com/camkeep/camkeep/internal/config"
	"github.com/camkeep/camkeep/internal/dvr"
	"github.com/camkeep/camkeep/internal/httpapi"
	"github.com/camkeep/camkeep/internal/job"
	"github.com/camkeep/camkeep/internal/manager"
	"github.com/camkeep/camkeep/internal/pool"
	"github.com/camkeep/camkeep/internal/preview"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		fatal(logger, "daemon failed", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Manager.SpoolRoot, 0o755); err != nil {
		return err
	}
	if cfg.Manager.StorageDir != "" {
		if err := os.MkdirAll(cfg.Manager.StorageDir, 0o755); err != nil {
			return err
		}
	}

	var loc *time.Location
	if cfg.DVR.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.DVR.Timezone); err != nil {
			return err
		}
	}

	recorder, err := dvr.New(dvr.Options{
		BaseURL:     cfg.DVR.BaseURL,
		Username:    cfg.DVR.Username,
		Password:    cfg.DVR.Password,
		CameraNames: cfg.DVR.CameraNames,
		Location:    loc,
		Logger:      logger.With("component", "dvr"),
	})
	if err != nil {
		return err
	}

	var publisher bus.Publisher = bus.Noop{}
	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	}

	sizes, err := preview.ParseSizes(cfg.Previews)
	if err != nil {
		return err
	}
	var previews *preview.Extractor
	if len(sizes) > 0 {
		previews = preview.NewExtractor(cfg.Capture.FFmpegPath, sizes, logger.With("component", "preview"))
	}

	runner := capture.NewRunner(capture.Options{
		FFmpegPath:   cfg.Capture.FFmpegPath,
		PollInterval: cfg.Capture.PollInterval,
		ReadBuffer:   cfg.Capture.ReadBuffer,
		Username:     cfg.Capture.Username,
		Password:     cfg.Capture.Password,
		Publisher:    publisher,
		Previews:     previews,
		Logger:       logger.With("component", "capture"),
	})

	workers := pool.New(pool.Config{
		Workers:          cfg.Pool.Workers,
		MaxJobsPerWorker: cfg.Pool.MaxJobsPerWorker,
		QueueSize:        cfg.Pool.QueueSize,
	}, logger.With("component", "pool"))

	mgr, err := manager.New(manager.Options{
		SpoolRoot:       cfg.Manager.SpoolRoot,
		StorageDir:      cfg.Manager.StorageDir,
		Store:           job.NewStore(),
		Pool:            workers,
		Runner:          runner,
		CallbackTimeout: cfg.Manager.CallbackTimeout,
		Publisher:       publisher,
		Logger:          logger.With("component", "manager"),
	})
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Options{
		Recorder: recorder,
		Jobs:     mgr,
		Token:    cfg.APIToken,
		Logger:   logger.With("component", "api"),
	})
	if err != nil {
		return err
	}

	workers.Start(ctx)
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		mgr.Run()
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", cfg.HTTPAddr, "workers", cfg.Pool.Workers, "spool_root", cfg.Manager.SpoolRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}

		// Stop accepting work, then wait for in-flight captures to reach
		// a terminal state and for the manager to retire them.
		workers.Close()
		workers.Wait()
		<-managerDone
		return nil
	})

	return g.Wait()
}

func logLevel(s string) slog.Level {
	switch s {
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

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
