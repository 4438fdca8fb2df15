// Package api exposes the HTTP surface: send and bulk-send endpoints,
// provider webhooks, suppression administration, provider health and
// rate-limit inspection, and delivery metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/titledesk/mailroom/internal/dispatch"
	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/health"
	"github.com/titledesk/mailroom/internal/ratelimit"
	"github.com/titledesk/mailroom/internal/reconcile"
	"github.com/titledesk/mailroom/internal/suppression"
)

// SuppressionStore is the paging read path behind the admin listing.
type SuppressionStore interface {
	List(ctx context.Context, limit, offset int) ([]domain.SuppressionEntry, int, error)
}

// MetricsReader aggregates delivery metrics over a window.
type MetricsReader interface {
	Metrics(ctx context.Context, q domain.MetricsQuery) (domain.EmailMetrics, error)
	MetricsByProvider(ctx context.Context, q domain.MetricsQuery, providers []domain.ProviderConfig) ([]domain.ProviderMetrics, error)
}

// JobQueue is the slice of the durable queue the ops endpoints need.
type JobQueue interface {
	Stats() (domain.QueueStats, error)
	RetryJob(jobID string) error
	CancelScheduled(jobID string) error
}

// Handlers carries the wired components behind the HTTP surface.
type Handlers struct {
	engine      *dispatch.Engine
	bulk        *dispatch.Coordinator
	suppression *suppression.Registry
	suppStore   SuppressionStore
	monitor     *health.Monitor
	limiter     *ratelimit.Limiter
	reconciler  *reconcile.Reconciler
	metrics     MetricsReader
	queue       JobQueue
	providers   []domain.ProviderConfig
}

// NewHandlers wires the handler set. queue, suppStore, and metrics may be
// nil; their endpoints then report 503.
func NewHandlers(
	engine *dispatch.Engine,
	bulk *dispatch.Coordinator,
	supp *suppression.Registry,
	suppStore SuppressionStore,
	monitor *health.Monitor,
	limiter *ratelimit.Limiter,
	reconciler *reconcile.Reconciler,
	metrics MetricsReader,
	queue JobQueue,
	providers []domain.ProviderConfig,
) *Handlers {
	return &Handlers{
		engine:      engine,
		bulk:        bulk,
		suppression: supp,
		suppStore:   suppStore,
		monitor:     monitor,
		limiter:     limiter,
		reconciler:  reconciler,
		metrics:     metrics,
		queue:       queue,
		providers:   providers,
	}
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.titledesk.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Provider webhooks: acknowledged fast, never authenticated beyond
	// their HMAC signatures.
	r.Post("/webhooks/{kind}", h.HandleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Post("/send/bulk", h.SendBulk)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/stats", h.QueueStats)
			r.Post("/{id}/retry", h.RetryJob)
			r.Delete("/{id}", h.CancelJob)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Get("/check", h.CheckSuppression)
			r.Delete("/{email}", h.RemoveSuppression)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Get("/{id}/health", h.ProviderHealth)
			r.Get("/{id}/usage", h.ProviderUsage)
			r.Post("/{id}/reactivate", h.ReactivateProvider)
			r.Post("/{id}/disable", h.DisableProvider)
			r.Post("/{id}/maintenance", h.MaintenanceProvider)
		})

		r.Get("/metrics", h.GetMetrics)
	})

	return r
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
