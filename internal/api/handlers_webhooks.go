package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
	"github.com/titledesk/mailroom/internal/reconcile"
)

// webhookKinds maps URL path segments to provider kinds. Static on
// purpose: a webhook URL is part of each provider account's configuration
// and never derived from request content.
var webhookKinds = map[string]domain.ProviderKind{
	"sparkpost": domain.ProviderSparkPost,
	"ses":       domain.ProviderSES,
	"mailgun":   domain.ProviderMailgun,
	"sendgrid":  domain.ProviderSendGrid,
}

// maxWebhookBody bounds inbound payloads; SparkPost batches cap well
// below this.
const maxWebhookBody = 10 << 20

// HandleWebhook ingests one provider event payload. The provider is
// always acknowledged quickly; processing happens off the request path.
// Signature failures are acknowledged too — an attacker learns nothing,
// and providers never retry-storm over our rejections.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	kind, ok := webhookKinds[chi.URLParam(r, "kind")]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body")
		return
	}

	// SNS wraps SES notifications; subscription handshakes carry a
	// confirmation URL that an operator visits once.
	if kind == domain.ProviderSES && snsHandshake(body) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "confirmation_logged"})
		return
	}

	headers := reconcile.Headers{
		Signature: firstHeader(r, "X-Webhook-Signature", "X-Mailgun-Signature", "X-Twilio-Email-Event-Webhook-Signature"),
		Timestamp: firstHeader(r, "X-Webhook-Timestamp", "X-Mailgun-Timestamp", "X-Twilio-Email-Event-Webhook-Timestamp"),
		Token:     r.Header.Get("X-Mailgun-Token"),
	}

	result, err := h.reconciler.Ingest(r.Context(), kind, body, headers)
	if err != nil {
		// Unknown-kind config errors only; still 2xx so the provider
		// does not disable the endpoint.
		logger.Error("webhook ingest failed", "kind", string(kind), "error", err.Error())
		respondJSON(w, http.StatusOK, map[string]string{"status": "error_logged"})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// snsHandshake detects and logs an SNS subscription confirmation.
func snsHandshake(body []byte) bool {
	var env struct {
		Type         string `json:"Type"`
		SubscribeURL string `json:"SubscribeURL"`
		TopicArn     string `json:"TopicArn"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	if env.Type != "SubscriptionConfirmation" {
		return false
	}
	logger.Info("sns subscription confirmation received",
		"topic", env.TopicArn, "subscribe_url", env.SubscribeURL)
	return true
}

func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}
