package domain

import "time"

// ProviderKind identifies the email service provider used for sending.
// The set is closed: adding a kind means adding a transport binding.
type ProviderKind string

const (
	ProviderSparkPost ProviderKind = "sparkpost"
	ProviderSES       ProviderKind = "ses"
	ProviderMailgun   ProviderKind = "mailgun"
	ProviderSendGrid  ProviderKind = "sendgrid"
)

// KnownProviderKinds returns all provider kinds the orchestrator can bind.
func KnownProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderSparkPost, ProviderSES, ProviderMailgun, ProviderSendGrid}
}

// ValidProviderKind reports whether k names a bindable provider.
func ValidProviderKind(k ProviderKind) bool {
	switch k {
	case ProviderSparkPost, ProviderSES, ProviderMailgun, ProviderSendGrid:
		return true
	}
	return false
}

// ProviderStatus is the operational state of a configured provider.
type ProviderStatus string

const (
	StatusActive      ProviderStatus = "ACTIVE"
	StatusDegraded    ProviderStatus = "DEGRADED"
	StatusFailed      ProviderStatus = "FAILED"
	StatusDisabled    ProviderStatus = "DISABLED"
	StatusMaintenance ProviderStatus = "MAINTENANCE"
)

// Selectable reports whether a provider in this status may receive traffic.
// DEGRADED providers remain selectable; they are just scored lower.
func (s ProviderStatus) Selectable() bool {
	return s == StatusActive || s == StatusDegraded
}

// RateCaps holds the fixed-window throughput caps for one provider account.
// A zero cap means the window is unlimited.
type RateCaps struct {
	PerSecond int `json:"per_second" yaml:"per_second"`
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	PerHour   int `json:"per_hour" yaml:"per_hour"`
	PerDay    int `json:"per_day" yaml:"per_day"`
}

// ProviderConfig is the identity of one configured transport account.
// Immutable once loaded; one instance per configured account.
type ProviderConfig struct {
	ID            string       `json:"id" yaml:"id"`
	Kind          ProviderKind `json:"kind" yaml:"kind"`
	Name          string       `json:"name" yaml:"name"`
	APIKey        string       `json:"-" yaml:"api_key"`
	APISecret     string       `json:"-" yaml:"api_secret"`
	AWSAccessKey  string       `json:"-" yaml:"aws_access_key"`
	AWSSecretKey  string       `json:"-" yaml:"aws_secret_key"`
	Region        string       `json:"region" yaml:"region"`
	SendingDomain string       `json:"sending_domain" yaml:"sending_domain"`
	WebhookSecret string       `json:"-" yaml:"webhook_secret"`
	// CostPerMille is a static per-provider cost figure ($/1000 sends)
	// used by cost-optimized selection.
	CostPerMille float64  `json:"cost_per_mille" yaml:"cost_per_mille"`
	RateCaps     RateCaps `json:"rate_caps" yaml:"rate_caps"`
	// DeclarationOrder preserves config-file ordering for deterministic
	// tie-breaking in selection.
	DeclarationOrder int `json:"-" yaml:"-"`
}

// ProviderHealthStatus is the per-provider mutable state maintained by the
// health monitor. The selector reads it; only the monitor mutates it.
type ProviderHealthStatus struct {
	ProviderID          string         `json:"provider_id" db:"provider_id"`
	Status              ProviderStatus `json:"status" db:"status"`
	HealthScore         float64        `json:"health_score" db:"health_score"` // 0-100
	ConsecutiveFailures int            `json:"consecutive_failures" db:"consecutive_failures"`
	LastCheckedAt       time.Time      `json:"last_checked_at" db:"last_checked_at"`
	LastFailureAt       time.Time      `json:"last_failure_at,omitempty" db:"last_failure_at"`

	// Cumulative counters since process start (persisted snapshots carry
	// them across restarts).
	Sent       int64 `json:"sent" db:"sent"`
	Delivered  int64 `json:"delivered" db:"delivered"`
	Failed     int64 `json:"failed" db:"failed"`
	Bounced    int64 `json:"bounced" db:"bounced"`
	Complained int64 `json:"complained" db:"complained"`

	DeliveryRate      float64 `json:"delivery_rate" db:"delivery_rate"`
	BounceRate        float64 `json:"bounce_rate" db:"bounce_rate"`
	ComplaintRate     float64 `json:"complaint_rate" db:"complaint_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" db:"avg_response_time_ms"`
}

// RateLimitInfo is a read-only snapshot of a provider's window counters.
type RateLimitInfo struct {
	ProviderID     string   `json:"provider_id"`
	Caps           RateCaps `json:"caps"`
	UsedSecond     int64    `json:"used_second"`
	UsedMinute     int64    `json:"used_minute"`
	UsedHour       int64    `json:"used_hour"`
	UsedDay        int64    `json:"used_day"`
	RemainingToday int64    `json:"remaining_today"`
}

// HasHeadroom reports whether at least one more send fits in every window.
func (r RateLimitInfo) HasHeadroom() bool {
	if r.Caps.PerSecond > 0 && r.UsedSecond >= int64(r.Caps.PerSecond) {
		return false
	}
	if r.Caps.PerMinute > 0 && r.UsedMinute >= int64(r.Caps.PerMinute) {
		return false
	}
	if r.Caps.PerHour > 0 && r.UsedHour >= int64(r.Caps.PerHour) {
		return false
	}
	if r.Caps.PerDay > 0 && r.UsedDay >= int64(r.Caps.PerDay) {
		return false
	}
	return true
}

// QuotaRemainingRatio returns the fraction of the daily cap still unused,
// in [0,1]. Unlimited daily caps count as full headroom.
func (r RateLimitInfo) QuotaRemainingRatio() float64 {
	if r.Caps.PerDay <= 0 {
		return 1
	}
	remaining := float64(int64(r.Caps.PerDay) - r.UsedDay)
	if remaining < 0 {
		remaining = 0
	}
	return remaining / float64(r.Caps.PerDay)
}

// OptimizeFor selects which bias the provider selector applies on top of
// health and quota headroom.
type OptimizeFor string

const (
	OptimizeReliability OptimizeFor = "reliability"
	OptimizeCost        OptimizeFor = "cost"
	OptimizeSpeed       OptimizeFor = "speed"
)

// SelectionCriteria narrows and biases provider selection for one send.
type SelectionCriteria struct {
	RequireProvider  string      `json:"require_provider,omitempty"`
	ExcludeProviders []string    `json:"exclude_providers,omitempty"`
	OptimizeFor      OptimizeFor `json:"optimize_for,omitempty"`
}

// ProviderScore is one ranked candidate returned by the selector.
type ProviderScore struct {
	ProviderID     string         `json:"provider_id"`
	Kind           ProviderKind   `json:"kind"`
	Status         ProviderStatus `json:"status"`
	HealthScore    float64        `json:"health_score"`
	QuotaRemaining float64        `json:"quota_remaining"` // 0-1 ratio
	CompositeScore float64        `json:"composite_score"`
}
