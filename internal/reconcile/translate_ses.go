package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
)

// SES notifications arrive wrapped in an SNS envelope; the actual event is
// a JSON string in the Message field. One notification can fan out to
// multiple recipients, producing one canonical event per recipient.

type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageId string `json:"MessageId"`
	Message   string `json:"Message"`
	// SubscribeURL is present on SubscriptionConfirmation; handled at the
	// HTTP layer, never by the translator.
	SubscribeURL string `json:"SubscribeURL"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"` // event-publishing configs use this key
	Mail             struct {
		MessageID   string   `json:"messageId"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string    `json:"bounceType"` // Permanent | Transient | Undetermined
		FeedbackID        string    `json:"feedbackId"`
		Timestamp         time.Time `json:"timestamp"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		FeedbackID            string    `json:"feedbackId"`
		ComplaintFeedbackType string    `json:"complaintFeedbackType"`
		Timestamp             time.Time `json:"timestamp"`
		ComplainedRecipients  []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
	Delivery *struct {
		Timestamp  time.Time `json:"timestamp"`
		Recipients []string  `json:"recipients"`
	} `json:"delivery"`
	Open *struct {
		Timestamp time.Time `json:"timestamp"`
		UserAgent string    `json:"userAgent"`
	} `json:"open"`
	Click *struct {
		Timestamp time.Time `json:"timestamp"`
		UserAgent string    `json:"userAgent"`
		Link      string    `json:"link"`
	} `json:"click"`
}

func translateSES(providerID string, body []byte) ([]domain.EmailEvent, []error) {
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, []error{fmt.Errorf("sns envelope: %w", err)}
	}
	if envelope.Type != "" && envelope.Type != "Notification" {
		// Confirmation and unsubscribe control messages carry no events.
		return nil, nil
	}

	message := envelope.Message
	if message == "" {
		// Raw message delivery puts the notification directly in the body.
		message = string(body)
	}

	var n sesNotification
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return nil, []error{fmt.Errorf("ses notification: %w", err)}
	}

	kind := n.NotificationType
	if kind == "" {
		kind = n.EventType
	}

	base := domain.EmailEvent{
		ProviderID: providerID,
		Kind:       domain.ProviderSES,
		MessageID:  n.Mail.MessageID,
	}

	switch kind {
	case "Bounce":
		if n.Bounce == nil {
			return nil, []error{fmt.Errorf("ses bounce notification without bounce block")}
		}
		events := make([]domain.EmailEvent, 0, len(n.Bounce.BouncedRecipients))
		for i, r := range n.Bounce.BouncedRecipients {
			e := base
			e.Type = domain.EventBounced
			e.ProviderEventID = fmt.Sprintf("%s:%d", n.Bounce.FeedbackID, i)
			e.Recipient = domain.NormalizeEmail(r.EmailAddress)
			e.Timestamp = n.Bounce.Timestamp
			e.BounceReason = r.DiagnosticCode
			if n.Bounce.BounceType == "Permanent" {
				e.BounceClass = domain.BounceHard
			} else {
				e.BounceClass = domain.BounceSoft
			}
			events = append(events, e)
		}
		return events, nil

	case "Complaint":
		if n.Complaint == nil {
			return nil, []error{fmt.Errorf("ses complaint notification without complaint block")}
		}
		events := make([]domain.EmailEvent, 0, len(n.Complaint.ComplainedRecipients))
		for i, r := range n.Complaint.ComplainedRecipients {
			e := base
			e.Type = domain.EventSpamReport
			e.ProviderEventID = fmt.Sprintf("%s:%d", n.Complaint.FeedbackID, i)
			e.Recipient = domain.NormalizeEmail(r.EmailAddress)
			e.Timestamp = n.Complaint.Timestamp
			e.ComplaintType = n.Complaint.ComplaintFeedbackType
			events = append(events, e)
		}
		return events, nil

	case "Delivery":
		if n.Delivery == nil {
			return nil, []error{fmt.Errorf("ses delivery notification without delivery block")}
		}
		events := make([]domain.EmailEvent, 0, len(n.Delivery.Recipients))
		for i, rcpt := range n.Delivery.Recipients {
			e := base
			e.Type = domain.EventDelivered
			e.ProviderEventID = fmt.Sprintf("%s:delivery:%d", envelope.MessageId, i)
			e.Recipient = domain.NormalizeEmail(rcpt)
			e.Timestamp = n.Delivery.Timestamp
			events = append(events, e)
		}
		return events, nil

	case "Open", "Click":
		e := base
		e.ProviderEventID = envelope.MessageId
		if len(n.Mail.Destination) > 0 {
			e.Recipient = domain.NormalizeEmail(n.Mail.Destination[0])
		}
		if kind == "Open" && n.Open != nil {
			e.Type = domain.EventOpened
			e.Timestamp = n.Open.Timestamp
			e.UserAgent = n.Open.UserAgent
		} else if n.Click != nil {
			e.Type = domain.EventClicked
			e.Timestamp = n.Click.Timestamp
			e.UserAgent = n.Click.UserAgent
			e.ClickURL = n.Click.Link
		} else {
			return nil, []error{fmt.Errorf("ses %s notification without detail block", kind)}
		}
		return []domain.EmailEvent{e}, nil

	case "Send":
		e := base
		e.Type = domain.EventSent
		e.ProviderEventID = envelope.MessageId
		if len(n.Mail.Destination) > 0 {
			e.Recipient = domain.NormalizeEmail(n.Mail.Destination[0])
		}
		e.Timestamp = time.Now()
		return []domain.EmailEvent{e}, nil

	default:
		return nil, []error{fmt.Errorf("unknown ses notification type %q", kind)}
	}
}
