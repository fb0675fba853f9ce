// Command medsbuddy serves the medication list over HTTP, backed by the
// optimistic cache and the configured remote store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/config"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/di"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medsbuddy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir = pflag.String("config-dir", envOr("CONFIG_DIR", "config"), "directory holding base.yaml and per-environment files")
		env       = pflag.String("env", string(config.EnvironmentFromEnv()), "environment: development, staging, production or test")
		addr      = pflag.String("addr", "", "override the listen address host:port")
		noReload  = pflag.Bool("no-reload", false, "disable configuration hot reloading in development")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configDir, config.Environment(*env))
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, level, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded", zap.Strings("sources", cfg.LoadedFrom))

	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Tracer shutdown failed", zap.Error(err))
		}
	}()

	app, cleanup, err := di.InitializeApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	if *addr != "" {
		app.Server.Addr = *addr
	}

	if cfg.IsDevelopment() && !*noReload {
		watcher := config.NewWatcher(loader, cfg, logger.Named("config"))
		watcher.OnChange(func(next *config.Config) {
			app.Queries.SetStaleTime(next.Cache.StaleTime)
			if err := observability.SetLevel(level, next.Logging.Level); err != nil {
				logger.Warn("Ignoring log level from reloaded configuration", zap.Error(err))
			}
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Configuration hot reloading unavailable", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
