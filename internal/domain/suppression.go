package domain

import "time"

// SuppressionReason enumerates why an address must not receive mail.
type SuppressionReason string

const (
	ReasonHardBounce    SuppressionReason = "hard_bounce"
	ReasonSoftBounce    SuppressionReason = "soft_bounce"
	ReasonComplaint     SuppressionReason = "spam_complaint"
	ReasonUnsubscribe   SuppressionReason = "unsubscribe"
	ReasonManual        SuppressionReason = "manual"
	ReasonInvalidSyntax SuppressionReason = "invalid_syntax"
	ReasonRoleBased     SuppressionReason = "role_based"
	ReasonDisposable    SuppressionReason = "disposable"
	ReasonBlacklist     SuppressionReason = "blacklist"
	ReasonLegal         SuppressionReason = "legal"
)

// Permanent reports whether entries with this reason ever expire.
// Only soft bounces are time-bounded; everything else is a standing block.
func (r SuppressionReason) Permanent() bool {
	return r != ReasonSoftBounce
}

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceWebhook SuppressionSource = "provider_webhook"
	SourceManual  SuppressionSource = "manual"
	SourceImport  SuppressionSource = "import"
)

// SuppressionEntry is a single record in the suppression registry, keyed by
// normalized recipient address.
type SuppressionEntry struct {
	ID     string            `json:"id" db:"id"`
	Email  string            `json:"email" db:"email"`
	Reason SuppressionReason `json:"reason" db:"reason"`
	Source SuppressionSource `json:"source" db:"source"`
	// EventID links auto-generated entries to the originating EmailEvent.
	EventID   string     `json:"event_id,omitempty" db:"event_id"`
	Detail    string     `json:"detail,omitempty" db:"detail"`
	Active    bool       `json:"active" db:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	// SoftBounceCount tracks repeat soft bounces for escalation.
	SoftBounceCount int       `json:"soft_bounce_count,omitempty" db:"soft_bounce_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Blocks reports whether this entry blocks sends at the given instant.
func (s SuppressionEntry) Blocks(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return false
	}
	return true
}

// SuppressionCheckResult is returned by the registry's check path.
type SuppressionCheckResult struct {
	Suppressed bool              `json:"suppressed"`
	Email      string            `json:"email"`
	Reason     SuppressionReason `json:"reason,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}
