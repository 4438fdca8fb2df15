package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
)

func testProviders() []domain.ProviderConfig {
	return []domain.ProviderConfig{
		{ID: "sp-1", Kind: domain.ProviderSparkPost},
		{ID: "ses-1", Kind: domain.ProviderSES},
	}
}

func TestNewMonitorStartsHealthy(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)

	s, ok := m.Status("sp-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, float64(100), s.HealthScore)

	_, ok = m.Status("unknown")
	assert.False(t, ok)
}

func TestConsecutiveFailuresForceFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailuresBeforeFailover = 3
	cfg.AutoRecovery = false
	m := NewMonitor(cfg, testProviders(), nil)
	ctx := context.Background()

	m.RecordOutcome(ctx, "sp-1", false, 100*time.Millisecond)
	m.RecordOutcome(ctx, "sp-1", false, 100*time.Millisecond)
	s, _ := m.Status("sp-1")
	assert.NotEqual(t, domain.StatusFailed, s.Status)

	m.RecordOutcome(ctx, "sp-1", false, 100*time.Millisecond)
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Equal(t, 3, s.ConsecutiveFailures)

	// The other provider is untouched.
	other, _ := m.Status("ses-1")
	assert.Equal(t, domain.StatusActive, other.Status)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailuresBeforeFailover = 3
	m := NewMonitor(cfg, testProviders(), nil)
	ctx := context.Background()

	m.RecordOutcome(ctx, "sp-1", false, time.Millisecond)
	m.RecordOutcome(ctx, "sp-1", false, time.Millisecond)
	m.RecordOutcome(ctx, "sp-1", true, time.Millisecond)
	m.RecordOutcome(ctx, "sp-1", false, time.Millisecond)

	s, _ := m.Status("sp-1")
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.NotEqual(t, domain.StatusFailed, s.Status)
}

func TestAutoRecoverySurfacesFailedAsDegraded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailuresBeforeFailover = 1
	cfg.AutoRecovery = true
	cfg.RecoveryInterval = 2 * time.Minute
	m := NewMonitor(cfg, testProviders(), nil)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	m.RecordOutcome(ctx, "sp-1", false, time.Millisecond)

	s, _ := m.Status("sp-1")
	require.Equal(t, domain.StatusFailed, s.Status)

	// Before the interval elapses the provider stays out of rotation.
	m.now = func() time.Time { return base.Add(time.Minute) }
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusFailed, s.Status)

	// After the interval it is offered again as DEGRADED; the next real
	// send acts as the probe.
	m.now = func() time.Time { return base.Add(3 * time.Minute) }
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusDegraded, s.Status)

	// A successful probe restores ACTIVE.
	m.RecordOutcome(ctx, "sp-1", true, time.Millisecond)
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusActive, s.Status)
}

func TestBouncesDegradeScore(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		m.RecordOutcome(ctx, "sp-1", true, 50*time.Millisecond)
	}
	before, _ := m.Status("sp-1")

	// 10% bounce rate zeroes the bounce sub-score.
	for i := 0; i < 10; i++ {
		m.RecordEvent(ctx, domain.EmailEvent{
			ProviderID:  "sp-1",
			Type:        domain.EventBounced,
			BounceClass: domain.BounceHard,
		})
	}
	after, _ := m.Status("sp-1")
	assert.Less(t, after.HealthScore, before.HealthScore)
	assert.InDelta(t, 10.0, after.BounceRate, 0.01)
}

func TestComplaintsDegradeStatus(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMonitor(cfg, testProviders(), nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		m.RecordOutcome(ctx, "sp-1", true, 50*time.Millisecond)
	}
	// 10% bounces and 2% complaints zero both sub-scores and drag the
	// blended score below the degraded threshold.
	for i := 0; i < 10; i++ {
		m.RecordEvent(ctx, domain.EmailEvent{ProviderID: "sp-1", Type: domain.EventBounced})
	}
	for i := 0; i < 2; i++ {
		m.RecordEvent(ctx, domain.EmailEvent{ProviderID: "sp-1", Type: domain.EventSpamReport})
	}

	s, _ := m.Status("sp-1")
	assert.Equal(t, domain.StatusDegraded, s.Status)
	assert.Less(t, s.HealthScore, cfg.DegradedThreshold)
}

func TestDeliveredEventDoesNotDoubleCount(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)
	ctx := context.Background()

	// One accepted send followed by its own DELIVERED confirmation. Only
	// the webhook counts toward Delivered, so the rate tops out at 100.
	m.RecordOutcome(ctx, "sp-1", true, 50*time.Millisecond)
	m.RecordEvent(ctx, domain.EmailEvent{ProviderID: "sp-1", Type: domain.EventDelivered})

	s, _ := m.Status("sp-1")
	assert.Equal(t, int64(1), s.Sent)
	assert.Equal(t, int64(1), s.Delivered)
	assert.LessOrEqual(t, s.DeliveryRate, 100.0)
	assert.InDelta(t, 100.0, s.DeliveryRate, 0.01)
}

func TestManualDisablePinsStatus(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)
	ctx := context.Background()

	m.Disable(ctx, "sp-1")
	s, _ := m.Status("sp-1")
	require.Equal(t, domain.StatusDisabled, s.Status)

	// Outcomes never override a manual pin.
	m.RecordOutcome(ctx, "sp-1", true, time.Millisecond)
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusDisabled, s.Status)

	m.Reactivate(ctx, "sp-1")
	s, _ = m.Status("sp-1")
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestRestoreSeedsCounters(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)

	m.Restore(domain.ProviderHealthStatus{
		ProviderID: "sp-1",
		Status:     domain.StatusActive,
		Sent:       1000,
		Delivered:  990,
		Bounced:    10,
	})

	s, _ := m.Status("sp-1")
	assert.Equal(t, int64(1000), s.Sent)
	assert.InDelta(t, 99.0, s.DeliveryRate, 0.01)
	assert.InDelta(t, 1.0, s.BounceRate, 0.01)
}

func TestAllReturnsEveryProvider(t *testing.T) {
	m := NewMonitor(DefaultConfig(), testProviders(), nil)
	assert.Len(t, m.All(), 2)
}
