package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/config"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/lifecycle"
	"github.com/antfarm-network/antfarm/internal/messaging"
	"github.com/antfarm-network/antfarm/internal/metrics"
	"github.com/antfarm-network/antfarm/internal/notify"
	"github.com/antfarm-network/antfarm/internal/server"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g)
		},
	}
}

func serve(ctx context.Context, g *globalFlags) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	log, level, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	pub, err := connectEvents(cfg.Events, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	m := metrics.New()
	engine := lifecycle.New(db, lifecycle.Options{
		MaturationThreshold: cfg.Lifecycle.MaturationThreshold,
		Publisher:           pub,
		Metrics:             m,
		Logger:              log.Named("lifecycle"),
	})
	msgs := messaging.New(db, messaging.Options{
		Publisher: pub,
		Metrics:   m,
		Logger:    log.Named("messaging"),
	})
	notifier := notify.New(db, notify.Options{
		BaseURL:     cfg.Server.BaseURL,
		Timeout:     cfg.Webhook.Timeout,
		UserAgent:   cfg.Webhook.UserAgent,
		Concurrency: cfg.Webhook.Concurrency,
		Metrics:     m,
		Logger:      log.Named("notify"),
	})
	defer notifier.Wait()

	srv := server.New(db, engine, msgs, notifier, server.Options{
		BaseURL:        cfg.Server.BaseURL,
		AdminSecret:    cfg.Server.AdminSecret,
		RateLimit:      cfg.Server.RateLimit.Requests,
		RateWindow:     cfg.Server.RateLimit.Window,
		FloodThreshold: cfg.Workers.FloodThreshold,
		Metrics:        m,
		Logger:         log.Named("http"),
	})

	loader := config.NewLoader(g.configPath, log.Named("config"))
	if _, err := loader.Load(); err != nil {
		return err
	}
	loader.OnChange(func(next *config.Config) {
		g.apply(next)
		engine.SetMaturationThreshold(next.Lifecycle.MaturationThreshold)
		if err := level.UnmarshalText([]byte(next.Log.Level)); err != nil {
			log.Warn("ignoring log level", zap.String("level", next.Log.Level), zap.Error(err))
		}
		log.Info("config reloaded",
			zap.Int("maturation_threshold", engine.MaturationThreshold()),
			zap.String("log_level", level.String()))
	})
	if err := loader.Watch(ctx); err != nil {
		return err
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	srv.StartWorkers(workerCtx, server.WorkerIntervals{
		Reconcile: cfg.Workers.ReconcileInterval,
		Anomaly:   cfg.Workers.AnomalyInterval,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     zap.NewStdLog(log.Named("http")),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	log.Info("antfarm running",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("db", db.Driver()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}
	cancelWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// connectEvents returns a NATS publisher, or a no-op one when no broker is configured.
func connectEvents(cfg config.EventsConfig, log *zap.Logger) (events.Publisher, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return events.Nop{}, nil
	}
	pub, err := events.Connect(cfg.NATSURL, cfg.SubjectPrefix, log.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("connect events: %w", err)
	}
	return pub, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	return nil
}
