package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// SendGridSender sends mail via the SendGrid v3 Mail Send API.
type SendGridSender struct {
	cfg     domain.ProviderConfig
	baseURL string
	client  *http.Client
}

// NewSendGridSender creates a SendGrid binding.
func NewSendGridSender(cfg domain.ProviderConfig) *SendGridSender {
	return &SendGridSender{
		cfg:     cfg,
		baseURL: "https://api.sendgrid.com/v3",
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (s *SendGridSender) Kind() domain.ProviderKind { return domain.ProviderSendGrid }

// SendOne delivers a single message through SendGrid.
func (s *SendGridSender) SendOne(ctx context.Context, msg *domain.EmailData) (string, error) {
	if s.cfg.APIKey == "" {
		return "", &SendError{Class: ClassProviderLevel, Message: "SendGrid API key not configured"}
	}

	to := make([]map[string]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, map[string]string{"email": addr})
	}
	personalization := map[string]interface{}{"to": to}
	if len(msg.Metadata) > 0 {
		personalization["custom_args"] = msg.Metadata
	}

	content := []map[string]string{}
	if msg.TextContent != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.TextContent})
	}
	if msg.HTMLContent != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTMLContent})
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{personalization},
		"from":             map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject":          msg.Subject,
		"content":          content,
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", &SendError{Class: ClassMessageLevel, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &SendError{Class: ClassTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", newHTTPError(resp.StatusCode, fmt.Sprintf("SendGrid: %s", string(body)))
	}

	// SendGrid returns 202 with the id in a header.
	id := resp.Header.Get("X-Message-Id")

	logger.Debug("sendgrid send accepted", "provider", s.cfg.ID, "email", msg.To[0], "message_id", id)
	return id, nil
}
