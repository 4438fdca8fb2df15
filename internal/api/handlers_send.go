package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/titledesk/mailroom/internal/domain"
)

// sendRequest is the POST /api/send body.
type sendRequest struct {
	Message domain.EmailData   `json:"message"`
	Options domain.SendOptions `json:"options"`
}

// Send dispatches a single message. The response carries the terminal
// SendResult, including the failover chain when providers were traversed.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Message.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.engine.Send(r.Context(), &req.Message, req.Options)

	status := http.StatusOK
	if !result.Success && !result.Queued {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, result)
}

// bulkSendRequest is the POST /api/send/bulk body.
type bulkSendRequest struct {
	Messages []domain.EmailData     `json:"messages"`
	Options  domain.BulkSendOptions `json:"options"`
}

// SendBulk dispatches a batch. Per-message failures never abort the batch;
// the caller gets per-recipient errors in the result.
func (h *Handlers) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "no messages")
		return
	}

	messages := make([]*domain.EmailData, len(req.Messages))
	for i := range req.Messages {
		messages[i] = &req.Messages[i]
	}

	result := h.bulk.SendBulk(r.Context(), messages, req.Options)
	respondJSON(w, http.StatusOK, result)
}

// QueueStats reports durable queue depth.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	stats, err := h.queue.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// RetryJob forces an immediate run of a queued job.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	jobID := chi.URLParam(r, "id")
	if err := h.queue.RetryJob(jobID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued", "job_id": jobID})
}

// CancelJob removes a not-yet-run scheduled job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	jobID := chi.URLParam(r, "id")
	if err := h.queue.CancelScheduled(jobID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": jobID})
}
