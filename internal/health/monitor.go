// Package health tracks rolling per-provider delivery metrics and derives
// the 0-100 health score the selector ranks on.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// Weights blends the four normalized sub-scores into the health score.
// Fixed configuration, not per-call.
type Weights struct {
	Delivery       float64
	Bounce         float64
	Complaint      float64
	Responsiveness float64
}

// Config tunes failure cutoffs and recovery.
type Config struct {
	Weights Weights
	// MaxFailuresBeforeFailover forces status FAILED once consecutive
	// failures reach it, overriding the numeric score.
	MaxFailuresBeforeFailover int
	// DegradedThreshold is the score below which an otherwise healthy
	// provider is marked DEGRADED (still selectable, scored lower).
	DegradedThreshold float64
	AutoRecovery      bool
	RecoveryInterval  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Delivery:       0.40,
			Bounce:         0.25,
			Complaint:      0.20,
			Responsiveness: 0.15,
		},
		MaxFailuresBeforeFailover: 5,
		DegradedThreshold:         60,
		AutoRecovery:              true,
		RecoveryInterval:          2 * time.Minute,
	}
}

// SnapshotWriter persists health snapshots. Write failures are logged, not
// propagated: health is advisory state and the in-memory copy stays
// authoritative for selection.
type SnapshotWriter interface {
	SaveHealthSnapshot(ctx context.Context, status domain.ProviderHealthStatus) error
}

// providerState carries one provider's counters under its own lock so
// concurrent sends to different providers never contend.
type providerState struct {
	mu     sync.Mutex
	status domain.ProviderHealthStatus
	// manual is set by Disable/Maintenance and pins the status until
	// Reactivate.
	manual bool
	// responseTime EWMA smoothing
	ewmaInitialized bool
}

// Monitor is the provider health monitor.
type Monitor struct {
	cfg    Config
	writer SnapshotWriter

	mu        sync.RWMutex
	providers map[string]*providerState

	now func() time.Time
}

// NewMonitor registers the configured providers, all starting ACTIVE with a
// perfect score.
func NewMonitor(cfg Config, providers []domain.ProviderConfig, writer SnapshotWriter) *Monitor {
	if cfg.MaxFailuresBeforeFailover <= 0 {
		cfg.MaxFailuresBeforeFailover = DefaultConfig().MaxFailuresBeforeFailover
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = DefaultConfig().RecoveryInterval
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultConfig().Weights
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultConfig().DegradedThreshold
	}

	m := &Monitor{
		cfg:       cfg,
		writer:    writer,
		providers: make(map[string]*providerState, len(providers)),
		now:       time.Now,
	}
	for _, p := range providers {
		m.providers[p.ID] = &providerState{
			status: domain.ProviderHealthStatus{
				ProviderID:  p.ID,
				Status:      domain.StatusActive,
				HealthScore: 100,
			},
		}
	}
	return m
}

// RecordOutcome updates counters after a send attempt reached a terminal
// state against one provider (success, or retries exhausted).
func (m *Monitor) RecordOutcome(ctx context.Context, providerID string, success bool, responseTime time.Duration) {
	ps := m.state(providerID)
	if ps == nil {
		return
	}

	ps.mu.Lock()
	s := &ps.status
	s.Sent++
	if success {
		// Delivered stays untouched: the provider only accepted the
		// handoff here. The reconciled DELIVERED event confirms it.
		s.ConsecutiveFailures = 0
	} else {
		s.Failed++
		s.ConsecutiveFailures++
		s.LastFailureAt = m.now()
	}

	// EWMA over response times, alpha 0.2
	rt := float64(responseTime.Milliseconds())
	if !ps.ewmaInitialized {
		s.AvgResponseTimeMs = rt
		ps.ewmaInitialized = true
	} else {
		s.AvgResponseTimeMs = 0.8*s.AvgResponseTimeMs + 0.2*rt
	}

	m.recompute(ps)
	snapshot := ps.status
	ps.mu.Unlock()

	m.persist(ctx, snapshot)
}

// RecordEvent folds a reconciled delivery event into the counters. Only
// metric-bearing types change anything; suppression side effects live in
// the reconciler.
func (m *Monitor) RecordEvent(ctx context.Context, event domain.EmailEvent) {
	ps := m.state(event.ProviderID)
	if ps == nil {
		return
	}

	ps.mu.Lock()
	s := &ps.status
	switch event.Type {
	case domain.EventDelivered:
		s.Delivered++
		s.ConsecutiveFailures = 0
	case domain.EventBounced:
		s.Bounced++
	case domain.EventSpamReport:
		s.Complained++
	case domain.EventFailed, domain.EventRejected, domain.EventDropped:
		s.Failed++
	default:
		ps.mu.Unlock()
		return
	}

	m.recompute(ps)
	snapshot := ps.status
	ps.mu.Unlock()

	m.persist(ctx, snapshot)
}

// Status returns the provider's effective status. A FAILED provider whose
// recovery interval has elapsed is surfaced as DEGRADED when auto-recovery
// is on, letting the next real send double as the recovery probe.
func (m *Monitor) Status(providerID string) (domain.ProviderHealthStatus, bool) {
	ps := m.state(providerID)
	if ps == nil {
		return domain.ProviderHealthStatus{}, false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := ps.status
	if !ps.manual && out.Status == domain.StatusFailed && m.cfg.AutoRecovery &&
		m.now().Sub(out.LastFailureAt) >= m.cfg.RecoveryInterval {
		out.Status = domain.StatusDegraded
	}
	return out, true
}

// All returns a snapshot of every tracked provider.
func (m *Monitor) All() []domain.ProviderHealthStatus {
	m.mu.RLock()
	ids := make([]string, 0, len(m.providers))
	for id := range m.providers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]domain.ProviderHealthStatus, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.Status(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Reactivate clears a manual or failure-forced status (operator action).
func (m *Monitor) Reactivate(ctx context.Context, providerID string) {
	m.setManual(ctx, providerID, domain.StatusActive, false)
}

// Disable pins the provider out of selection until reactivated.
func (m *Monitor) Disable(ctx context.Context, providerID string) {
	m.setManual(ctx, providerID, domain.StatusDisabled, true)
}

// Maintenance pins the provider into maintenance mode.
func (m *Monitor) Maintenance(ctx context.Context, providerID string) {
	m.setManual(ctx, providerID, domain.StatusMaintenance, true)
}

func (m *Monitor) setManual(ctx context.Context, providerID string, status domain.ProviderStatus, manual bool) {
	ps := m.state(providerID)
	if ps == nil {
		return
	}
	ps.mu.Lock()
	ps.manual = manual
	ps.status.Status = status
	if status == domain.StatusActive {
		ps.status.ConsecutiveFailures = 0
	}
	snapshot := ps.status
	ps.mu.Unlock()

	logger.Info("provider status changed", "provider", providerID, "status", string(status))
	m.persist(ctx, snapshot)
}

// Restore seeds a provider's counters from a persisted snapshot.
func (m *Monitor) Restore(snapshot domain.ProviderHealthStatus) {
	ps := m.state(snapshot.ProviderID)
	if ps == nil {
		return
	}
	ps.mu.Lock()
	ps.status = snapshot
	ps.ewmaInitialized = snapshot.AvgResponseTimeMs > 0
	m.recompute(ps)
	ps.mu.Unlock()
}

func (m *Monitor) state(providerID string) *providerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[providerID]
}

// recompute derives rates, the blended score, and the status. Caller holds
// ps.mu. Manual states are never overridden here.
func (m *Monitor) recompute(ps *providerState) {
	s := &ps.status
	s.LastCheckedAt = m.now()

	if s.Sent > 0 {
		s.DeliveryRate = clamp(float64(s.Delivered)/float64(s.Sent)*100, 0, 100)
		s.BounceRate = float64(s.Bounced) / float64(s.Sent) * 100
		s.ComplaintRate = float64(s.Complained) / float64(s.Sent) * 100
	} else {
		s.DeliveryRate = 100
	}

	w := m.cfg.Weights
	score := w.Delivery*deliveryScore(s) +
		w.Bounce*bounceScore(s) +
		w.Complaint*complaintScore(s) +
		w.Responsiveness*responsivenessScore(s)
	s.HealthScore = clamp(score, 0, 100)

	if ps.manual {
		return
	}

	switch {
	case s.ConsecutiveFailures >= m.cfg.MaxFailuresBeforeFailover:
		s.Status = domain.StatusFailed
	case s.HealthScore < m.cfg.DegradedThreshold:
		s.Status = domain.StatusDegraded
	default:
		s.Status = domain.StatusActive
	}
}

func (m *Monitor) persist(ctx context.Context, snapshot domain.ProviderHealthStatus) {
	if m.writer == nil {
		return
	}
	if err := m.writer.SaveHealthSnapshot(ctx, snapshot); err != nil {
		logger.Warn("health snapshot write failed", "provider", snapshot.ProviderID, "error", err.Error())
	}
}

// Sub-score normalization. Each maps raw counters to [0,100].

// deliveryScore rates the accept ratio of send attempts rather than the
// webhook-confirmed DeliveryRate: confirmations lag the send by minutes
// and some deployments never wire webhooks, so scoring on them would
// punish a perfectly healthy provider.
func deliveryScore(s *domain.ProviderHealthStatus) float64 {
	if s.Sent == 0 {
		return 100
	}
	return clamp(float64(s.Sent-s.Failed)/float64(s.Sent)*100, 0, 100)
}

// bounceScore hits zero at a 5% bounce rate; anything above that is a
// deliverability incident.
func bounceScore(s *domain.ProviderHealthStatus) float64 {
	return clamp(100-s.BounceRate*20, 0, 100)
}

// complaintScore hits zero at 0.5% complaints, the threshold most mailbox
// providers treat as abusive.
func complaintScore(s *domain.ProviderHealthStatus) float64 {
	return clamp(100-s.ComplaintRate*200, 0, 100)
}

// responsivenessScore is 100 up to 200ms, falling linearly to 0 at 5s.
func responsivenessScore(s *domain.ProviderHealthStatus) float64 {
	const fast, slow = 200.0, 5000.0
	if s.AvgResponseTimeMs <= fast {
		return 100
	}
	if s.AvgResponseTimeMs >= slow {
		return 0
	}
	return 100 * (slow - s.AvgResponseTimeMs) / (slow - fast)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
