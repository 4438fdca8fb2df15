// Package transport contains the provider transport bindings and the send
// error taxonomy.
//
// Each binding exposes exactly one capability: send one message. Bindings are
// split into individual files:
//   - sparkpost.go: SparkPost Transmissions API
//   - ses.go:       AWS SES v2 (SDK)
//   - mailgun.go:   Mailgun Messages API
//   - sendgrid.go:  SendGrid v3 Mail Send
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
)

// Sender is the narrow capability contract every provider binding satisfies.
// The orchestrator assumes nothing else about a provider.
type Sender interface {
	// SendOne delivers a single message and returns the provider message id.
	SendOne(ctx context.Context, msg *domain.EmailData) (string, error)
	// Kind reports which provider this binding talks to.
	Kind() domain.ProviderKind
}

// defaultRequestTimeout bounds each transport attempt. Exceeding it is a
// transient error for retry-classification purposes.
const defaultRequestTimeout = 30 * time.Second

// Registry maps provider ids to their bindings. The kind-to-binding mapping
// is compiled statically in New; there is no open-ended dynamic dispatch.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds bindings for every configured provider.
func NewRegistry(configs []domain.ProviderConfig) (*Registry, error) {
	senders := make(map[string]Sender, len(configs))
	for i := range configs {
		cfg := configs[i]
		s, err := newSender(cfg)
		if err != nil {
			return nil, err
		}
		senders[cfg.ID] = s
	}
	return &Registry{senders: senders}, nil
}

// NewRegistryFromSenders wires pre-built senders (used by tests and by the
// worker, which injects instrumented bindings).
func NewRegistryFromSenders(senders map[string]Sender) *Registry {
	return &Registry{senders: senders}
}

// Sender returns the binding for a provider id.
func (r *Registry) Sender(providerID string) (Sender, bool) {
	s, ok := r.senders[providerID]
	return s, ok
}

func newSender(cfg domain.ProviderConfig) (Sender, error) {
	switch cfg.Kind {
	case domain.ProviderSparkPost:
		return NewSparkPostSender(cfg), nil
	case domain.ProviderSES:
		return NewSESSender(cfg), nil
	case domain.ProviderMailgun:
		return NewMailgunSender(cfg), nil
	case domain.ProviderSendGrid:
		return NewSendGridSender(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q for provider %s", cfg.Kind, cfg.ID)
	}
}
