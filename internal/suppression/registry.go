// Package suppression maintains the authoritative list of recipients who
// must not receive mail.
//
// The check path is memory-only: the registry keeps a cache of active
// entries keyed by normalized address, refreshed periodically from the
// backing store, so a send never blocks on network I/O to decide whether a
// recipient is suppressed. Mutations write through to the store and update
// the cache synchronously.
package suppression

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// ErrNotFound is returned by Remove when no entry exists for the address.
var ErrNotFound = errors.New("suppression entry not found")

// Repository is the durable store behind the registry.
type Repository interface {
	Upsert(ctx context.Context, e *domain.SuppressionEntry) error
	Deactivate(ctx context.Context, email string) error
	LoadActive(ctx context.Context) ([]domain.SuppressionEntry, error)
}

// Config tunes expiry and escalation behavior.
type Config struct {
	// SoftBounceTTL bounds how long a soft-bounce block lasts.
	SoftBounceTTL time.Duration
	// SoftBounceEscalation promotes a recipient to a permanent block after
	// this many repeat soft bounces. Zero disables escalation.
	SoftBounceEscalation int
	// RefreshInterval controls periodic cache reloads from the store.
	RefreshInterval time.Duration
}

// DefaultConfig matches common deliverability practice: soft bounces block
// for 7 days, three repeats escalate to permanent.
func DefaultConfig() Config {
	return Config{
		SoftBounceTTL:        7 * 24 * time.Hour,
		SoftBounceEscalation: 3,
		RefreshInterval:      time.Minute,
	}
}

// Registry is the in-memory-cached suppression list.
type Registry struct {
	repo Repository
	cfg  Config

	mu      sync.RWMutex
	entries map[string]domain.SuppressionEntry

	now func() time.Time
}

// NewRegistry creates a registry over the given store. Call Refresh (or
// StartRefreshLoop) to populate the cache.
func NewRegistry(repo Repository, cfg Config) *Registry {
	if cfg.SoftBounceTTL <= 0 {
		cfg.SoftBounceTTL = DefaultConfig().SoftBounceTTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	return &Registry{
		repo:    repo,
		cfg:     cfg,
		entries: make(map[string]domain.SuppressionEntry),
		now:     time.Now,
	}
}

// Check reports whether the address is blocked. Never performs I/O.
func (r *Registry) Check(email string) domain.SuppressionCheckResult {
	key := domain.NormalizeEmail(email)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok || !entry.Blocks(r.now()) {
		return domain.SuppressionCheckResult{Suppressed: false, Email: key}
	}
	return domain.SuppressionCheckResult{
		Suppressed: true,
		Email:      key,
		Reason:     entry.Reason,
		ExpiresAt:  entry.ExpiresAt,
	}
}

// Add records a suppression. Idempotent on (address, reason). A permanent
// reason supersedes an existing soft-bounce block; a soft bounce never
// downgrades an existing permanent block. Repeat soft bounces increment the
// escalation counter and extend the expiry; reaching the configured repeat
// count makes the block permanent.
func (r *Registry) Add(ctx context.Context, entry domain.SuppressionEntry) error {
	entry.Email = domain.NormalizeEmail(entry.Email)
	now := r.now()

	r.mu.Lock()
	existing, exists := r.entries[entry.Email]
	if exists && existing.Blocks(now) {
		switch {
		case existing.Reason.Permanent():
			// Nothing extends a permanent block.
			r.mu.Unlock()
			return nil
		case entry.Reason == domain.ReasonSoftBounce:
			// Repeat soft bounce: count it, extend, maybe escalate.
			existing.SoftBounceCount++
			existing.UpdatedAt = now
			existing.Detail = entry.Detail
			if entry.EventID != "" {
				existing.EventID = entry.EventID
			}
			if r.cfg.SoftBounceEscalation > 0 && existing.SoftBounceCount >= r.cfg.SoftBounceEscalation {
				existing.ExpiresAt = nil // permanent from here on
			} else {
				exp := now.Add(r.cfg.SoftBounceTTL)
				existing.ExpiresAt = &exp
			}
			r.entries[entry.Email] = existing
			r.mu.Unlock()
			return r.writeThrough(ctx, existing)
		}
		// Permanent reason arriving over a soft block: supersede below.
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Active = true
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Reason == domain.ReasonSoftBounce {
		entry.SoftBounceCount = 1
		exp := now.Add(r.cfg.SoftBounceTTL)
		entry.ExpiresAt = &exp
	} else {
		entry.ExpiresAt = nil
	}
	r.entries[entry.Email] = entry
	r.mu.Unlock()

	return r.writeThrough(ctx, entry)
}

// Remove deactivates an entry (operator resubscribe). Returns ErrNotFound
// when no active entry exists.
func (r *Registry) Remove(ctx context.Context, email string) error {
	key := domain.NormalizeEmail(email)

	r.mu.Lock()
	_, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.entries, key)
	r.mu.Unlock()

	if err := r.repo.Deactivate(ctx, key); err != nil {
		return err
	}
	logger.Info("suppression removed", "email", key)
	return nil
}

// Refresh reloads the cache from the store.
func (r *Registry) Refresh(ctx context.Context) error {
	active, err := r.repo.LoadActive(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.SuppressionEntry, len(active))
	now := r.now()
	for _, e := range active {
		if e.Blocks(now) {
			fresh[domain.NormalizeEmail(e.Email)] = e
		}
	}

	r.mu.Lock()
	r.entries = fresh
	r.mu.Unlock()

	logger.Debug("suppression cache refreshed", "entries", len(fresh))
	return nil
}

// StartRefreshLoop refreshes the cache until ctx is cancelled.
func (r *Registry) StartRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				logger.Warn("suppression cache refresh failed", "error", err.Error())
			}
		}
	}
}

// Count returns the number of cached active entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns a snapshot of cached entries (admin surface).
func (r *Registry) List() []domain.SuppressionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SuppressionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) writeThrough(ctx context.Context, entry domain.SuppressionEntry) error {
	if err := r.repo.Upsert(ctx, &entry); err != nil {
		logger.Error("suppression write-through failed", "email", entry.Email, "error", err.Error())
		return err
	}
	return nil
}
