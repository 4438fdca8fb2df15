package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
)

// SendGrid posts a JSON array of flat event objects, up to 1000 per call.

type sendGridEvent struct {
	Event       string `json:"event"`
	SGEventID   string `json:"sg_event_id"`
	SGMessageID string `json:"sg_message_id"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Type        string `json:"type"`   // bounce subtype: bounce | blocked
	Reason      string `json:"reason"` // bounce/dropped detail
	URL         string `json:"url"`    // click only
	UserAgent   string `json:"useragent"`
}

func translateSendGrid(providerID string, body []byte) ([]domain.EmailEvent, []error) {
	var raw []sendGridEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, []error{fmt.Errorf("sendgrid payload: %w", err)}
	}

	var events []domain.EmailEvent
	var errs []error

	for i, e := range raw {
		if e.SGEventID == "" {
			errs = append(errs, fmt.Errorf("sendgrid item %d: no sg_event_id", i))
			continue
		}

		out := domain.EmailEvent{
			ProviderID:      providerID,
			Kind:            domain.ProviderSendGrid,
			ProviderEventID: e.SGEventID,
			MessageID:       e.SGMessageID,
			Recipient:       domain.NormalizeEmail(e.Email),
			Timestamp:       time.Unix(e.Timestamp, 0),
			UserAgent:       e.UserAgent,
		}

		switch e.Event {
		case "processed":
			out.Type = domain.EventProcessed
		case "delivered":
			out.Type = domain.EventDelivered
		case "deferred":
			out.Type = domain.EventDeferred
		case "bounce":
			out.Type = domain.EventBounced
			out.BounceReason = e.Reason
			// "blocked" bounces are transient; real bounces permanent.
			if e.Type == "blocked" {
				out.BounceClass = domain.BounceSoft
			} else {
				out.BounceClass = domain.BounceHard
			}
		case "dropped":
			out.Type = domain.EventDropped
		case "spamreport":
			out.Type = domain.EventSpamReport
		case "unsubscribe", "group_unsubscribe":
			out.Type = domain.EventUnsubscribed
		case "open":
			out.Type = domain.EventOpened
		case "click":
			out.Type = domain.EventClicked
			out.ClickURL = e.URL
		default:
			errs = append(errs, fmt.Errorf("sendgrid item %d: unknown event %q", i, e.Event))
			continue
		}

		events = append(events, out)
	}
	return events, errs
}
