package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
)

// SparkPost delivers batches of events wrapped in an msys envelope whose
// single key names the event category.
//
//	[{"msys": {"message_event": {"type": "bounce", ...}}}, ...]

// sparkPost bounce_class values that indicate a permanent failure.
var sparkPostHardBounceClasses = map[string]bool{
	"10": true, // invalid recipient
	"30": true, // no RCPT
	"90": true, // unsubscribe via bounce
}

func translateSparkPost(providerID string, body []byte) ([]domain.EmailEvent, []error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, []error{fmt.Errorf("sparkpost payload: %w", err)}
	}

	var events []domain.EmailEvent
	var errs []error

	for i, wrapper := range raw {
		msysRaw, ok := wrapper["msys"]
		if !ok {
			errs = append(errs, fmt.Errorf("sparkpost item %d: missing msys envelope", i))
			continue
		}
		var msys map[string]sparkPostEvent
		if err := json.Unmarshal(msysRaw, &msys); err != nil {
			errs = append(errs, fmt.Errorf("sparkpost item %d: %w", i, err))
			continue
		}
		for _, data := range msys {
			event, err := data.toCanonical(providerID)
			if err != nil {
				errs = append(errs, fmt.Errorf("sparkpost item %d: %w", i, err))
				continue
			}
			events = append(events, event)
		}
	}
	return events, errs
}

type sparkPostEvent struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	MessageID   string `json:"message_id"`
	RcptTo      string `json:"rcpt_to"`
	Timestamp   string `json:"timestamp"`
	BounceClass string `json:"bounce_class"`
	Reason      string `json:"reason"`
	TargetLink  string `json:"target_link_url"`
	UserAgent   string `json:"user_agent"`
}

func (e sparkPostEvent) toCanonical(providerID string) (domain.EmailEvent, error) {
	if e.EventID == "" {
		return domain.EmailEvent{}, fmt.Errorf("event has no event_id")
	}

	out := domain.EmailEvent{
		ProviderID:      providerID,
		Kind:            domain.ProviderSparkPost,
		ProviderEventID: e.EventID,
		MessageID:       e.MessageID,
		Recipient:       domain.NormalizeEmail(e.RcptTo),
		Timestamp:       parseSparkPostTime(e.Timestamp),
		UserAgent:       e.UserAgent,
	}

	switch e.Type {
	case "injection":
		out.Type = domain.EventSent
	case "delivery":
		out.Type = domain.EventDelivered
	case "bounce", "out_of_band":
		out.Type = domain.EventBounced
		out.BounceReason = e.Reason
		if sparkPostHardBounceClasses[e.BounceClass] {
			out.BounceClass = domain.BounceHard
		} else {
			out.BounceClass = domain.BounceSoft
		}
	case "delay":
		out.Type = domain.EventDeferred
	case "spam_complaint":
		out.Type = domain.EventSpamReport
	case "open", "initial_open":
		out.Type = domain.EventOpened
	case "click":
		out.Type = domain.EventClicked
		out.ClickURL = e.TargetLink
	case "list_unsubscribe", "link_unsubscribe":
		out.Type = domain.EventUnsubscribed
	case "policy_rejection":
		out.Type = domain.EventRejected
	case "generation_failure", "generation_rejection":
		out.Type = domain.EventFailed
	default:
		return domain.EmailEvent{}, fmt.Errorf("unknown sparkpost event type %q", e.Type)
	}
	return out, nil
}

// parseSparkPostTime accepts both RFC3339 and unix-seconds timestamps;
// SparkPost has shipped both depending on webhook version.
func parseSparkPostTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	var unix int64
	if _, err := fmt.Sscanf(s, "%d", &unix); err == nil && unix > 0 {
		return time.Unix(unix, 0)
	}
	return time.Now()
}
