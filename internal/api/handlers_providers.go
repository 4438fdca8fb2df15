package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/titledesk/mailroom/internal/domain"
)

// providerView joins static configuration with live health and usage.
type providerView struct {
	ID     string                       `json:"id"`
	Kind   domain.ProviderKind          `json:"kind"`
	Name   string                       `json:"name"`
	Health *domain.ProviderHealthStatus `json:"health,omitempty"`
	Usage  *domain.RateLimitInfo        `json:"usage,omitempty"`
}

// ListProviders returns every configured provider with its current health
// and rate-limit state.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]providerView, 0, len(h.providers))
	for _, p := range h.providers {
		view := providerView{ID: p.ID, Kind: p.Kind, Name: p.Name}
		if status, ok := h.monitor.Status(p.ID); ok {
			view.Health = &status
		}
		if usage, err := h.limiter.Usage(r.Context(), p.ID); err == nil {
			view.Usage = &usage
		}
		out = append(out, view)
	}
	respondJSON(w, http.StatusOK, out)
}

// ProviderHealth returns one provider's health state.
func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := h.monitor.Status(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ProviderUsage returns one provider's rate-limit window counters.
func (h *Handlers) ProviderUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.knownProvider(id) {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	usage, err := h.limiter.Usage(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, usage)
}

// ReactivateProvider clears FAILED/DISABLED state and readmits the
// provider to selection.
func (h *Handlers) ReactivateProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderStatus(w, r, "reactivated", h.monitor.Reactivate)
}

// DisableProvider removes the provider from selection until reactivated.
func (h *Handlers) DisableProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderStatus(w, r, "disabled", h.monitor.Disable)
}

// MaintenanceProvider parks the provider without health penalty.
func (h *Handlers) MaintenanceProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderStatus(w, r, "maintenance", h.monitor.Maintenance)
}

func (h *Handlers) setProviderStatus(w http.ResponseWriter, r *http.Request, action string, apply func(ctx context.Context, providerID string)) {
	id := chi.URLParam(r, "id")
	if !h.knownProvider(id) {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}
	apply(r.Context(), id)
	respondJSON(w, http.StatusOK, map[string]string{"status": action, "provider_id": id})
}

func (h *Handlers) knownProvider(id string) bool {
	for _, p := range h.providers {
		if p.ID == id {
			return true
		}
	}
	return false
}

// GetMetrics aggregates delivery metrics over a window, defaulting to the
// trailing 24 hours. Optional provider_id, message_type, and category
// filters narrow the window; by_provider=true adds a per-provider split.
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics store not configured")
		return
	}

	q := domain.MetricsQuery{
		From:        time.Now().Add(-24 * time.Hour),
		To:          time.Now(),
		ProviderID:  r.URL.Query().Get("provider_id"),
		MessageType: r.URL.Query().Get("message_type"),
		Category:    r.URL.Query().Get("category"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		q.To = t
	}

	totals, err := h.metrics.Metrics(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{"totals": totals, "from": q.From, "to": q.To}
	if r.URL.Query().Get("by_provider") == "true" {
		perProvider, err := h.metrics.MetricsByProvider(r.Context(), q, h.providers)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["providers"] = perProvider
	}
	respondJSON(w, http.StatusOK, resp)
}
