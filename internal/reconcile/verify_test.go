package reconcile

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
)

func TestVerifySignatureDefaultScheme(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost, WebhookSecret: "topsecret"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`[{"msys":{}}]`)

	h := Headers{Signature: SignPayload("topsecret", ts, body), Timestamp: ts}
	assert.NoError(t, verifySignature(cfg, body, h, now))
}

func TestVerifySignatureRejectsMismatch(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost, WebhookSecret: "topsecret"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`[{"msys":{}}]`)

	h := Headers{Signature: SignPayload("wrong-secret", ts, body), Timestamp: ts}
	err := verifySignature(cfg, body, h, now)
	require.ErrorIs(t, err, ErrSignatureVerification)
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sg-1", Kind: domain.ProviderSendGrid, WebhookSecret: "topsecret"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`[{"event":"delivered"}]`)

	h := Headers{Signature: SignPayload("topsecret", ts, body), Timestamp: ts}
	tampered := []byte(`[{"event":"bounce"}]`)
	err := verifySignature(cfg, tampered, h, now)
	require.ErrorIs(t, err, ErrSignatureVerification)
}

func TestVerifySignatureRejectsReplay(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost, WebhookSecret: "topsecret"}
	now := time.Now()
	body := []byte(`[]`)

	for _, age := range []time.Duration{6 * time.Minute, -6 * time.Minute} {
		ts := strconv.FormatInt(now.Add(-age).Unix(), 10)
		h := Headers{Signature: SignPayload("topsecret", ts, body), Timestamp: ts}
		err := verifySignature(cfg, body, h, now)
		assert.ErrorIs(t, err, ErrSignatureVerification, "age %s", age)
	}
}

func TestVerifySignatureAcceptsRecentTimestamp(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost, WebhookSecret: "topsecret"}
	now := time.Now()
	body := []byte(`[]`)

	ts := strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10)
	h := Headers{Signature: SignPayload("topsecret", ts, body), Timestamp: ts}
	assert.NoError(t, verifySignature(cfg, body, h, now))
}

func TestVerifySignatureMailgunScheme(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "mg-1", Kind: domain.ProviderMailgun, WebhookSecret: "mg-secret"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	token := "0a1b2c3d4e5f"
	body := []byte(`{"event-data":{}}`)

	h := Headers{Signature: SignMailgun("mg-secret", ts, token), Timestamp: ts, Token: token}
	assert.NoError(t, verifySignature(cfg, body, h, now))

	h.Token = "different-token"
	assert.ErrorIs(t, verifySignature(cfg, body, h, now), ErrSignatureVerification)
}

func TestVerifySignatureSkippedWithoutSecret(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost}
	assert.NoError(t, verifySignature(cfg, []byte(`[]`), Headers{}, time.Now()))
}

func TestVerifySignatureMissingMaterial(t *testing.T) {
	cfg := domain.ProviderConfig{ID: "sp-1", Kind: domain.ProviderSparkPost, WebhookSecret: "topsecret"}
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`[]`)

	cases := map[string]Headers{
		"no signature":      {Timestamp: ts},
		"no timestamp":      {Signature: SignPayload("topsecret", ts, body)},
		"bad timestamp":     {Signature: SignPayload("topsecret", ts, body), Timestamp: "yesterday"},
		"non-hex signature": {Signature: "not hex!", Timestamp: ts},
	}
	for name, h := range cases {
		assert.ErrorIs(t, verifySignature(cfg, body, h, now), ErrSignatureVerification, name)
	}
}

func TestSignPayloadDeterministic(t *testing.T) {
	a := SignPayload("s", "1700000000", []byte("body"))
	b := SignPayload("s", "1700000000", []byte("body"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SignPayload("s", "1700000001", []byte("body")))
	assert.NotEqual(t, a, fmt.Sprintf("%s-x", a))
}
