package domain

import "time"

// EventType is the canonical delivery event vocabulary. Every provider's
// native webhook payload is translated into these before processing.
type EventType string

const (
	EventQueued       EventType = "QUEUED"
	EventSent         EventType = "SENT"
	EventDelivered    EventType = "DELIVERED"
	EventOpened       EventType = "OPENED"
	EventClicked      EventType = "CLICKED"
	EventBounced      EventType = "BOUNCED"
	EventDeferred     EventType = "DEFERRED"
	EventDropped      EventType = "DROPPED"
	EventSpamReport   EventType = "SPAM_REPORT"
	EventUnsubscribed EventType = "UNSUBSCRIBED"
	EventProcessed    EventType = "PROCESSED"
	EventFailed       EventType = "FAILED"
	EventRejected     EventType = "REJECTED"
)

// BounceClass distinguishes permanent from transient bounces.
type BounceClass string

const (
	BounceHard BounceClass = "hard"
	BounceSoft BounceClass = "soft"
)

// EmailEvent is the canonical representation of one provider webhook
// notification item. Created once per inbound item, never mutated.
type EmailEvent struct {
	ID         string       `json:"id" db:"id"`
	ProviderID string       `json:"provider_id" db:"provider_id"`
	Kind       ProviderKind `json:"kind" db:"kind"`
	// ProviderEventID is the provider-native event id; (kind,
	// provider_event_id) is the dedup key.
	ProviderEventID string    `json:"provider_event_id" db:"provider_event_id"`
	Type            EventType `json:"type" db:"event_type"`
	MessageID       string    `json:"message_id" db:"message_id"`
	Recipient       string    `json:"recipient" db:"recipient"`
	Timestamp       time.Time `json:"timestamp" db:"event_timestamp"`

	// Event-specific payload.
	BounceClass   BounceClass `json:"bounce_class,omitempty" db:"bounce_class"`
	BounceReason  string      `json:"bounce_reason,omitempty" db:"bounce_reason"`
	ComplaintType string      `json:"complaint_type,omitempty" db:"complaint_type"`
	ClickURL      string      `json:"click_url,omitempty" db:"click_url"`
	UserAgent     string      `json:"user_agent,omitempty" db:"user_agent"`
	GeoIP         string      `json:"geo_ip,omitempty" db:"geo_ip"`
}

// DedupKey returns the idempotence key for this event.
func (e EmailEvent) DedupKey() string {
	return string(e.Kind) + ":" + e.ProviderEventID
}
