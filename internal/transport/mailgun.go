package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// MailgunSender sends mail via the Mailgun Messages API.
type MailgunSender struct {
	cfg     domain.ProviderConfig
	baseURL string
	client  *http.Client
}

// NewMailgunSender creates a Mailgun binding targeting the configured
// sending domain.
func NewMailgunSender(cfg domain.ProviderConfig) *MailgunSender {
	return &MailgunSender{
		cfg:     cfg,
		baseURL: "https://api.mailgun.net/v3",
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (s *MailgunSender) Kind() domain.ProviderKind { return domain.ProviderMailgun }

// SendOne delivers a single message through Mailgun.
func (s *MailgunSender) SendOne(ctx context.Context, msg *domain.EmailData) (string, error) {
	if s.cfg.APIKey == "" {
		return "", &SendError{Class: ClassProviderLevel, Message: "Mailgun API key not configured"}
	}

	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail))
	for _, to := range msg.To {
		form.Add("to", to)
	}
	for _, cc := range msg.CC {
		form.Add("cc", cc)
	}
	for _, bcc := range msg.BCC {
		form.Add("bcc", bcc)
	}
	form.Add("subject", msg.Subject)
	form.Add("html", msg.HTMLContent)
	if msg.TextContent != "" {
		form.Add("text", msg.TextContent)
	}
	if msg.ReplyTo != "" {
		form.Add("h:Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		form.Add("h:"+k, v)
	}
	for k, v := range msg.Metadata {
		form.Add("v:"+k, v)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.cfg.SendingDomain)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &SendError{Class: ClassTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", newHTTPError(resp.StatusCode, fmt.Sprintf("Mailgun: %s", string(body)))
	}

	var result struct {
		ID string `json:"id"`
	}
	json.Unmarshal(body, &result)
	// Mailgun wraps ids in angle brackets: "<id@domain>"
	id := strings.Trim(result.ID, "<>")

	logger.Debug("mailgun send accepted", "provider", s.cfg.ID, "email", msg.To[0], "message_id", id)
	return id, nil
}
