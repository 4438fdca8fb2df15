package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
)

// Mailgun posts one event per webhook call, wrapped in an event-data
// object alongside the signature block.

type mailgunPayload struct {
	EventData struct {
		Event     string  `json:"event"` // delivered, failed, opened, clicked, complained, unsubscribed
		ID        string  `json:"id"`
		Timestamp float64 `json:"timestamp"`
		Recipient string  `json:"recipient"`
		Severity  string  `json:"severity"` // permanent | temporary (failed only)
		Reason    string  `json:"reason"`
		URL       string  `json:"url"` // clicked only
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
		DeliveryStatus struct {
			Description string `json:"description"`
		} `json:"delivery-status"`
		ClientInfo struct {
			UserAgent string `json:"user-agent"`
		} `json:"client-info"`
	} `json:"event-data"`
}

func translateMailgun(providerID string, body []byte) ([]domain.EmailEvent, []error) {
	var payload mailgunPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, []error{fmt.Errorf("mailgun payload: %w", err)}
	}
	d := payload.EventData
	if d.ID == "" {
		return nil, []error{fmt.Errorf("mailgun event has no id")}
	}

	out := domain.EmailEvent{
		ProviderID:      providerID,
		Kind:            domain.ProviderMailgun,
		ProviderEventID: d.ID,
		MessageID:       d.Message.Headers.MessageID,
		Recipient:       domain.NormalizeEmail(d.Recipient),
		Timestamp:       time.Unix(int64(d.Timestamp), 0),
		UserAgent:       d.ClientInfo.UserAgent,
	}

	switch d.Event {
	case "accepted":
		out.Type = domain.EventQueued
	case "delivered":
		out.Type = domain.EventDelivered
	case "failed":
		out.Type = domain.EventBounced
		out.BounceReason = d.Reason
		if out.BounceReason == "" {
			out.BounceReason = d.DeliveryStatus.Description
		}
		if d.Severity == "permanent" {
			out.BounceClass = domain.BounceHard
		} else {
			out.BounceClass = domain.BounceSoft
		}
	case "opened":
		out.Type = domain.EventOpened
	case "clicked":
		out.Type = domain.EventClicked
		out.ClickURL = d.URL
	case "complained":
		out.Type = domain.EventSpamReport
	case "unsubscribed":
		out.Type = domain.EventUnsubscribed
	case "rejected":
		out.Type = domain.EventRejected
	default:
		return nil, []error{fmt.Errorf("unknown mailgun event %q", d.Event)}
	}

	return []domain.EmailEvent{out}, nil
}
