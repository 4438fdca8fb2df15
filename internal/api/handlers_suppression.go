package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/suppression"
)

// ListSuppressions returns a page of active entries from the durable store.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	if h.suppStore == nil {
		respondError(w, http.StatusServiceUnavailable, "suppression store not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, total, err := h.suppStore.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"cached":  h.suppression.Count(),
	})
}

// addSuppressionRequest is the POST /api/suppressions body.
type addSuppressionRequest struct {
	Email  string                   `json:"email"`
	Reason domain.SuppressionReason `json:"reason"`
	Detail string                   `json:"detail,omitempty"`
}

// AddSuppression manually blocks an address.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req addSuppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonManual
	}

	err := h.suppression.Add(r.Context(), domain.SuppressionEntry{
		Email:  req.Email,
		Reason: req.Reason,
		Source: domain.SourceManual,
		Detail: req.Detail,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"status": "suppressed",
		"email":  domain.NormalizeEmail(req.Email),
	})
}

// CheckSuppression answers whether an address is currently blocked.
func (h *Handlers) CheckSuppression(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}
	respondJSON(w, http.StatusOK, h.suppression.Check(email))
}

// RemoveSuppression deactivates an entry (operator resubscribe).
func (h *Handlers) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || email == "" {
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	}

	if err := h.suppression.Remove(r.Context(), email); err != nil {
		if errors.Is(err, suppression.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no active suppression for address")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "removed",
		"email":  domain.NormalizeEmail(email),
	})
}
