package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/wire"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/cache"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/config"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/handlers"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/identity"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/mutation"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/query"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/remote"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/scheduler"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/service/medications"
)

// CacheSet builds the loop-confined cache and its controllers.
var CacheSet = wire.NewSet(
	ProvideLoop,
	ProvideStore,
	ProvideQueryController,
	ProvideMutationController,
)

// RemoteSet builds the remote store and identity source for the configured provider.
var RemoteSet = wire.NewSet(
	ProvideSupabaseClient,
	ProvideRemoteStore,
	ProvideIdentitySource,
)

// HTTPSet builds the service and its HTTP surface.
var HTTPSet = wire.NewSet(
	ProvideMedicationService,
	ProvideMedicationHandler,
	ProvideRouter,
	ProvideHTTPServer,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideMetrics,
	CacheSet,
	RemoteSet,
	HTTPSet,
	wire.Struct(new(App), "*"),
)

// ProvideMetrics returns nil when metrics are disabled; a nil collector
// records nothing.
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideLoop starts the scheduler loop and stops it on cleanup.
func ProvideLoop(logger *zap.Logger) (*scheduler.Loop, func()) {
	loop := scheduler.New(logger.Named("scheduler"))
	loop.Start()
	return loop, loop.Stop
}

// ProvideStore creates the cache store. Cleanup closes it on the loop, or
// directly once the loop has stopped.
func ProvideStore(loop *scheduler.Loop, logger *zap.Logger) (*cache.Store, func()) {
	store := cache.NewStore(logger.Named("cache"))
	return store, func() {
		if err := loop.Do(context.Background(), store.Close); err != nil {
			store.Close()
		}
	}
}

// ProvideSupabaseClient returns nil unless the supabase provider is selected.
func ProvideSupabaseClient(cfg *config.Config) (*supabase.Client, error) {
	if cfg.Remote.Provider != config.ProviderSupabase {
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.Remote.Supabase.URL, cfg.Remote.Supabase.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}

// ProvideRemoteStore selects the remote store, wraps it in the circuit
// breaker when enabled, and instruments it.
func ProvideRemoteStore(
	ctx context.Context,
	cfg *config.Config,
	client *supabase.Client,
	metrics *observability.Collector,
	logger *zap.Logger,
) (remote.Store, error) {
	var store remote.Store

	switch cfg.Remote.Provider {
	case config.ProviderSupabase:
		store = remote.NewSupabase(client)
	case config.ProviderDynamoDB:
		ddb, err := provideDynamoDBClient(ctx, cfg.Remote.DynamoDB)
		if err != nil {
			return nil, err
		}
		store = remote.NewDynamoDB(ddb, cfg.Remote.DynamoDB.TableName, logger.Named("dynamodb"))
	case config.ProviderMemory:
		store = remote.NewMemory()
	default:
		return nil, fmt.Errorf("unknown remote provider %q", cfg.Remote.Provider)
	}

	if b := cfg.Remote.Breaker; b.Enabled {
		store = remote.WithBreaker(store, remote.BreakerConfig{
			Name:             "remote-" + cfg.Remote.Provider,
			MaxRequests:      b.MaxRequests,
			Interval:         b.Interval,
			Timeout:          b.Timeout,
			FailureThreshold: b.FailureThreshold,
			MinRequests:      b.MinRequests,
		}, metrics, logger)
	}

	logger.Info("Remote store configured",
		zap.String("provider", cfg.Remote.Provider),
		zap.Bool("breaker", cfg.Remote.Breaker.Enabled),
	)
	return remote.Instrument(store, metrics), nil
}

func provideDynamoDBClient(ctx context.Context, cfg config.DynamoDB) (*awsdynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// ProvideIdentitySource resolves the owner from a Supabase session when the
// supabase provider has an access token, and from the configured owner
// otherwise.
func ProvideIdentitySource(ctx context.Context, cfg *config.Config, client *supabase.Client, logger *zap.Logger) identity.Source {
	if client != nil && cfg.Identity.AccessToken != "" {
		source := identity.NewSupabase(client, logger.Named("identity"))
		source.SetToken(ctx, cfg.Identity.AccessToken)
		return source
	}

	if cfg.Identity.OwnerID == "" {
		logger.Warn("No owner configured; reads report not ready and writes are rejected")
	}
	return identity.NewStatic(identity.Identity{ID: cfg.Identity.OwnerID})
}

// ProvideQueryController starts the controller and stops it on cleanup.
func ProvideQueryController(
	loop *scheduler.Loop,
	store *cache.Store,
	remoteStore remote.Store,
	source identity.Source,
	cfg *config.Config,
	metrics *observability.Collector,
	logger *zap.Logger,
) (*query.Controller, func()) {
	ctrl := query.NewController(loop, store, remoteStore, source, query.Options{
		StaleTime:           cfg.Cache.StaleTime,
		RefetchOnInvalidate: cfg.Cache.RefetchOnInvalidate,
	}, metrics, logger.Named("query"))
	ctrl.Start()
	return ctrl, ctrl.Stop
}

// ProvideMutationController creates the optimistic write controller.
func ProvideMutationController(
	loop *scheduler.Loop,
	store *cache.Store,
	remoteStore remote.Store,
	source identity.Source,
	metrics *observability.Collector,
	logger *zap.Logger,
) *mutation.Controller {
	return mutation.NewController(loop, store, remoteStore, source, metrics, logger.Named("mutation"))
}

// ProvideMedicationService creates the medication service.
func ProvideMedicationService(queries *query.Controller, mutations *mutation.Controller, logger *zap.Logger) medications.Service {
	return medications.NewService(queries, mutations, logger)
}

// ProvideMedicationHandler creates the medication HTTP handler.
func ProvideMedicationHandler(service medications.Service, logger *zap.Logger) *handlers.MedicationHandler {
	return handlers.NewMedicationHandler(service, logger)
}

// ProvideRouter creates the HTTP router.
func ProvideRouter(
	cfg *config.Config,
	medicationHandler *handlers.MedicationHandler,
	metrics *observability.Collector,
	logger *zap.Logger,
) *handlers.Router {
	return handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsEnabled: cfg.Metrics.Enabled,
		Provider:       cfg.Remote.Provider,
		Environment:    string(cfg.Environment),
	}, medicationHandler, metrics, logger)
}

// ProvideHTTPServer creates the HTTP server; the caller starts it.
func ProvideHTTPServer(cfg *config.Config, router *handlers.Router) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
