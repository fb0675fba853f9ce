// Package di wires the application together with Google Wire.
//
// wire.go declares the injector; wire_gen.go is its generated form. Run
// `go generate ./internal/di` after changing a provider signature.
package di

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/config"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/query"
)

// App holds the long-lived components main needs to run and stop.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Server    *http.Server
	Queries   *query.Controller
	Mutations *mutation.Controller
	Metrics   *observability.Collector
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts down
// gracefully within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("Starting server",
			zap.String("address", a.Server.Addr),
			zap.String("environment", string(a.Config.Environment)),
			zap.String("provider", a.Config.Remote.Provider),
		)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting requests and waits for in-flight remote writes
// so their placeholders settle before the cache is torn down.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("Shutting down server...")

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Mutations.Shutdown(ctx); err != nil {
		a.Logger.Warn("Remote writes still pending at shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
