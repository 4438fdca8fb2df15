package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
)

func TestTranslateSparkPostBatch(t *testing.T) {
	body := []byte(`[
		{"msys": {"message_event": {
			"type": "delivery",
			"event_id": "evt-1001",
			"message_id": "msg-1",
			"rcpt_to": "Escrow@Example.com",
			"timestamp": "2026-08-26T10:00:00Z"
		}}},
		{"msys": {"message_event": {
			"type": "bounce",
			"event_id": "evt-1002",
			"message_id": "msg-2",
			"rcpt_to": "gone@example.com",
			"timestamp": "2026-08-26T10:00:01Z",
			"bounce_class": "10",
			"reason": "550 user unknown"
		}}},
		{"msys": {"track_event": {
			"type": "click",
			"event_id": "evt-1003",
			"rcpt_to": "agent@example.com",
			"timestamp": "2026-08-26T10:00:02Z",
			"target_link_url": "https://app.titledesk.io/closing/42"
		}}}
	]`)

	events, errs := translateSparkPost("sp-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 3)

	assert.Equal(t, domain.EventDelivered, events[0].Type)
	assert.Equal(t, "evt-1001", events[0].ProviderEventID)
	assert.Equal(t, "escrow@example.com", events[0].Recipient)
	assert.Equal(t, domain.ProviderSparkPost, events[0].Kind)

	assert.Equal(t, domain.EventBounced, events[1].Type)
	assert.Equal(t, domain.BounceHard, events[1].BounceClass)
	assert.Equal(t, "550 user unknown", events[1].BounceReason)

	assert.Equal(t, domain.EventClicked, events[2].Type)
	assert.Equal(t, "https://app.titledesk.io/closing/42", events[2].ClickURL)
}

func TestTranslateSparkPostSoftBounce(t *testing.T) {
	body := []byte(`[{"msys": {"message_event": {
		"type": "bounce",
		"event_id": "evt-2001",
		"rcpt_to": "full@example.com",
		"bounce_class": "22",
		"reason": "452 mailbox full"
	}}}]`)

	events, errs := translateSparkPost("sp-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, domain.BounceSoft, events[0].BounceClass)
}

func TestTranslateSparkPostIsolatesBadItems(t *testing.T) {
	body := []byte(`[
		{"msys": {"message_event": {"type": "delivery", "event_id": "evt-1", "rcpt_to": "a@example.com"}}},
		{"nope": {}},
		{"msys": {"message_event": {"type": "wormhole", "event_id": "evt-2", "rcpt_to": "b@example.com"}}},
		{"msys": {"message_event": {"type": "open", "event_id": "evt-3", "rcpt_to": "c@example.com"}}}
	]`)

	events, errs := translateSparkPost("sp-1", body)
	assert.Len(t, errs, 2)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ProviderEventID)
	assert.Equal(t, "evt-3", events[1].ProviderEventID)
}

func TestTranslateSESBounceFansOutPerRecipient(t *testing.T) {
	body := []byte(`{
		"Type": "Notification",
		"MessageId": "sns-msg-1",
		"Message": "{\"notificationType\":\"Bounce\",\"mail\":{\"messageId\":\"ses-msg-1\"},\"bounce\":{\"bounceType\":\"Permanent\",\"feedbackId\":\"fb-1\",\"timestamp\":\"2026-08-26T10:00:00Z\",\"bouncedRecipients\":[{\"emailAddress\":\"a@example.com\",\"diagnosticCode\":\"550 5.1.1\"},{\"emailAddress\":\"B@Example.com\",\"diagnosticCode\":\"550 5.1.1\"}]}}"
	}`)

	events, errs := translateSES("ses-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 2)

	assert.Equal(t, "fb-1:0", events[0].ProviderEventID)
	assert.Equal(t, "fb-1:1", events[1].ProviderEventID)
	assert.Equal(t, "b@example.com", events[1].Recipient)
	for _, e := range events {
		assert.Equal(t, domain.EventBounced, e.Type)
		assert.Equal(t, domain.BounceHard, e.BounceClass)
		assert.Equal(t, "ses-msg-1", e.MessageID)
	}
}

func TestTranslateSESTransientBounceIsSoft(t *testing.T) {
	body := []byte(`{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Bounce\",\"mail\":{\"messageId\":\"m\"},\"bounce\":{\"bounceType\":\"Transient\",\"feedbackId\":\"fb-2\",\"bouncedRecipients\":[{\"emailAddress\":\"x@example.com\"}]}}"
	}`)

	events, errs := translateSES("ses-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, domain.BounceSoft, events[0].BounceClass)
}

func TestTranslateSESComplaint(t *testing.T) {
	body := []byte(`{
		"Type": "Notification",
		"Message": "{\"notificationType\":\"Complaint\",\"mail\":{\"messageId\":\"m\"},\"complaint\":{\"feedbackId\":\"fb-3\",\"complaintFeedbackType\":\"abuse\",\"complainedRecipients\":[{\"emailAddress\":\"angry@example.com\"}]}}"
	}`)

	events, errs := translateSES("ses-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSpamReport, events[0].Type)
	assert.Equal(t, "abuse", events[0].ComplaintType)
	assert.Equal(t, "angry@example.com", events[0].Recipient)
}

func TestTranslateSESControlMessagesProduceNoEvents(t *testing.T) {
	body := []byte(`{
		"Type": "SubscriptionConfirmation",
		"MessageId": "sns-sub-1",
		"SubscribeURL": "https://sns.us-east-1.amazonaws.com/confirm"
	}`)

	events, errs := translateSES("ses-1", body)
	assert.Empty(t, errs)
	assert.Empty(t, events)
}

func TestTranslateMailgunPermanentFailure(t *testing.T) {
	body := []byte(`{
		"event-data": {
			"event": "failed",
			"id": "mg-evt-1",
			"timestamp": 1787997600,
			"recipient": "Closed@Example.com",
			"severity": "permanent",
			"reason": "suppress-bounce",
			"message": {"headers": {"message-id": "mg-msg-1"}},
			"delivery-status": {"description": "previously bounced"}
		}
	}`)

	events, errs := translateMailgun("mg-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, domain.EventBounced, e.Type)
	assert.Equal(t, domain.BounceHard, e.BounceClass)
	assert.Equal(t, "mg-evt-1", e.ProviderEventID)
	assert.Equal(t, "closed@example.com", e.Recipient)
	assert.Equal(t, "suppress-bounce", e.BounceReason)
	assert.Equal(t, "mg-msg-1", e.MessageID)
}

func TestTranslateMailgunTemporaryFailureIsSoft(t *testing.T) {
	body := []byte(`{
		"event-data": {
			"event": "failed",
			"id": "mg-evt-2",
			"recipient": "busy@example.com",
			"severity": "temporary",
			"delivery-status": {"description": "421 try again later"}
		}
	}`)

	events, errs := translateMailgun("mg-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, domain.BounceSoft, events[0].BounceClass)
	assert.Equal(t, "421 try again later", events[0].BounceReason)
}

func TestTranslateMailgunEngagement(t *testing.T) {
	body := []byte(`{
		"event-data": {
			"event": "clicked",
			"id": "mg-evt-3",
			"recipient": "agent@example.com",
			"url": "https://app.titledesk.io/docs/7",
			"client-info": {"user-agent": "Mozilla/5.0"}
		}
	}`)

	events, errs := translateMailgun("mg-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventClicked, events[0].Type)
	assert.Equal(t, "https://app.titledesk.io/docs/7", events[0].ClickURL)
	assert.Equal(t, "Mozilla/5.0", events[0].UserAgent)
}

func TestTranslateMailgunRejectsEventWithoutID(t *testing.T) {
	body := []byte(`{"event-data": {"event": "delivered", "recipient": "a@example.com"}}`)
	events, errs := translateMailgun("mg-1", body)
	assert.Empty(t, events)
	assert.Len(t, errs, 1)
}

func TestTranslateSendGridBatch(t *testing.T) {
	body := []byte(`[
		{"event": "delivered", "sg_event_id": "sg-1", "sg_message_id": "m-1", "email": "a@example.com", "timestamp": 1787997600},
		{"event": "bounce", "sg_event_id": "sg-2", "email": "b@example.com", "timestamp": 1787997601, "type": "bounce", "reason": "550 user unknown"},
		{"event": "bounce", "sg_event_id": "sg-3", "email": "c@example.com", "timestamp": 1787997602, "type": "blocked", "reason": "greylisted"},
		{"event": "spamreport", "sg_event_id": "sg-4", "email": "d@example.com", "timestamp": 1787997603},
		{"event": "unsubscribe", "sg_event_id": "sg-5", "email": "e@example.com", "timestamp": 1787997604}
	]`)

	events, errs := translateSendGrid("sg-1", body)
	require.Empty(t, errs)
	require.Len(t, events, 5)

	assert.Equal(t, domain.EventDelivered, events[0].Type)
	assert.Equal(t, domain.BounceHard, events[1].BounceClass)
	assert.Equal(t, domain.BounceSoft, events[2].BounceClass)
	assert.Equal(t, domain.EventSpamReport, events[3].Type)
	assert.Equal(t, domain.EventUnsubscribed, events[4].Type)
}

func TestTranslateSendGridSkipsUnknownAndKeepsRest(t *testing.T) {
	body := []byte(`[
		{"event": "teleported", "sg_event_id": "sg-1", "email": "a@example.com"},
		{"event": "open", "email": "b@example.com"},
		{"event": "open", "sg_event_id": "sg-3", "email": "c@example.com"}
	]`)

	events, errs := translateSendGrid("sg-1", body)
	assert.Len(t, errs, 2)
	require.Len(t, events, 1)
	assert.Equal(t, "sg-3", events[0].ProviderEventID)
}
