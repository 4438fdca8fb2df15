package domain

import (
	"fmt"
	"strings"
	"time"
)

// EmailData is the fully-resolved message handed to the dispatch engine.
// By the time a message reaches this struct, all template substitution and
// header generation is complete.
type EmailData struct {
	ID          string            `json:"id"`
	To          []string          `json:"to"`
	CC          []string          `json:"cc,omitempty"`
	BCC         []string          `json:"bcc,omitempty"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
	MessageType string            `json:"message_type,omitempty"` // transactional, marketing
	Category    string            `json:"category,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Recipients returns all addresses (to + cc + bcc) the message targets.
func (e EmailData) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.CC)+len(e.BCC))
	out = append(out, e.To...)
	out = append(out, e.CC...)
	out = append(out, e.BCC...)
	return out
}

// Validate checks the minimum shape required before dispatch.
func (e EmailData) Validate() error {
	if len(e.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}
	if e.FromEmail == "" {
		return fmt.Errorf("email has no from address")
	}
	if e.Subject == "" && e.HTMLContent == "" && e.TextContent == "" {
		return fmt.Errorf("email has no subject or content")
	}
	return nil
}

// NormalizeEmail canonicalizes an address for suppression and dedup keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SendOptions tunes a single dispatch.
type SendOptions struct {
	// PreferredProvider reorders the ranked list; it is a hint, not a
	// hard requirement.
	PreferredProvider string `json:"preferred_provider,omitempty"`
	// RequireProvider collapses selection to a single candidate.
	RequireProvider  string      `json:"require_provider,omitempty"`
	ExcludeProviders []string    `json:"exclude_providers,omitempty"`
	OptimizeFor      OptimizeFor `json:"optimize_for,omitempty"`

	MaxAttempts    int  `json:"max_attempts,omitempty"` // per-provider retry budget
	EnableFailover bool `json:"enable_failover"`

	// TestMode short-circuits success without any network action.
	TestMode bool `json:"test_mode,omitempty"`
	DryRun   bool `json:"dry_run,omitempty"`

	// ScheduledFor in the future enqueues instead of dispatching now.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// FailoverAttempt records one provider tried and abandoned during a send.
type FailoverAttempt struct {
	ProviderID     string       `json:"provider_id"`
	Kind           ProviderKind `json:"kind"`
	Attempts       int          `json:"attempts"`
	Error          string       `json:"error"`
	ErrorClass     string       `json:"error_class"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at"`
	ResponseTimeMs int64        `json:"response_time_ms"`
}

// SendResult is the terminal outcome of one dispatch.
type SendResult struct {
	Success      bool              `json:"success"`
	MessageID    string            `json:"message_id,omitempty"`
	ProviderID   string            `json:"provider_id,omitempty"`
	ProviderName string            `json:"provider_name,omitempty"`
	Kind         ProviderKind      `json:"kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorClass   string            `json:"error_class,omitempty"`
	Queued       bool              `json:"queued,omitempty"` // scheduled, not dispatched
	JobID        string            `json:"job_id,omitempty"`
	SentAt       time.Time         `json:"sent_at,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	Failovers    []FailoverAttempt `json:"failovers,omitempty"`
}

// BulkProgress is invoked after every completed chunk.
type BulkProgress func(completed, total int)

// BulkSendOptions tunes a batch dispatch.
type BulkSendOptions struct {
	SendOptions
	BatchSize int `json:"batch_size,omitempty"`
	// DistributeAcrossProviders round-robins chunks over the top-N ranked
	// providers instead of letting every chunk re-select.
	DistributeAcrossProviders bool         `json:"distribute_across_providers,omitempty"`
	TopN                      int          `json:"top_n,omitempty"`
	Progress                  BulkProgress `json:"-"`
}

// BulkSendError pairs a failed recipient with its error.
type BulkSendError struct {
	Recipient  string `json:"recipient"`
	Error      string `json:"error"`
	ErrorClass string `json:"error_class,omitempty"`
}

// BulkSendResult aggregates per-message outcomes of a batch.
type BulkSendResult struct {
	TotalSuccess int             `json:"total_success"`
	TotalFailed  int             `json:"total_failed"`
	Results      []SendResult    `json:"results"`
	Errors       []BulkSendError `json:"errors,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
}
