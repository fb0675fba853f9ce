//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/config"
)

// InitializeApp creates a fully wired application. The cleanup function
// stops the query controller, closes the cache and stops the loop.
func InitializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
