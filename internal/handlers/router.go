package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/middleware"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/observability"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/api"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MetricsEnabled bool
	Provider       string
	Environment    string
}

// Router creates and configures the HTTP router
type Router struct {
	config      RouterConfig
	medications *MedicationHandler
	metrics     *observability.Collector
	logger      *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(config RouterConfig, medications *MedicationHandler, metrics *observability.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		config:      config,
		medications: medications,
		metrics:     metrics,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Recovery(rt.logger))
	router.Use(middleware.Observe(rt.logger, rt.metrics))

	origins := rt.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	if rt.config.MetricsEnabled && rt.metrics != nil {
		router.Handle("/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(rt.config.RequestTimeout))

		r.Route("/medications", func(r chi.Router) {
			r.Get("/", rt.medications.List)
			r.Post("/", rt.medications.Create)
			r.Post("/invalidate", rt.medications.Invalidate)
			r.Get("/pending", rt.medications.Pending)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, api.HealthResponse{
		Status:      "healthy",
		Provider:    rt.config.Provider,
		Environment: rt.config.Environment,
	})
}
