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

// SparkPostSender sends mail via the SparkPost Transmissions API.
type SparkPostSender struct {
	cfg     domain.ProviderConfig
	baseURL string
	client  *http.Client
}

// NewSparkPostSender creates a binding targeting the SparkPost v1 API.
func NewSparkPostSender(cfg domain.ProviderConfig) *SparkPostSender {
	return &SparkPostSender{
		cfg:     cfg,
		baseURL: "https://api.sparkpost.com/api/v1",
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (s *SparkPostSender) Kind() domain.ProviderKind { return domain.ProviderSparkPost }

// SendOne delivers a single message through SparkPost.
func (s *SparkPostSender) SendOne(ctx context.Context, msg *domain.EmailData) (string, error) {
	if s.cfg.APIKey == "" {
		return "", &SendError{Class: ClassProviderLevel, Message: "SparkPost API key not configured"}
	}

	recipients := make([]map[string]interface{}, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, map[string]interface{}{
			"address": map[string]string{"email": to},
		})
	}

	transmission := map[string]interface{}{
		"recipients": recipients,
		"content": map[string]interface{}{
			"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"subject": msg.Subject,
			"html":    msg.HTMLContent,
			"text":    msg.TextContent,
		},
	}
	if msg.ReplyTo != "" {
		content := transmission["content"].(map[string]interface{})
		content["reply_to"] = msg.ReplyTo
	}
	if len(msg.Metadata) > 0 {
		transmission["metadata"] = msg.Metadata
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		return "", &SendError{Class: ClassMessageLevel, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &SendError{Class: ClassTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", newHTTPError(resp.StatusCode, fmt.Sprintf("SparkPost: %s", string(body)))
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	json.Unmarshal(body, &result)

	logger.Debug("sparkpost send accepted", "provider", s.cfg.ID, "email", msg.To[0], "message_id", result.Results.ID)
	return result.Results.ID, nil
}
