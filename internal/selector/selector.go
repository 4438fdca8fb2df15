// Package selector ranks configured providers for a send using health,
// quota headroom, and the caller's optimize-for bias.
package selector

import (
	"context"
	"errors"
	"sort"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

var (
	// ErrNoProviderConfigured indicates a configuration fault: the
	// orchestrator was started with an empty provider set.
	ErrNoProviderConfigured = errors.New("no email provider configured")
	// ErrNoProviderAvailable indicates every candidate was disabled,
	// failed, quota-exhausted, or explicitly excluded for this request.
	ErrNoProviderAvailable = errors.New("no provider available for selection")
)

// HealthReader exposes the monitor's read path.
type HealthReader interface {
	Status(providerID string) (domain.ProviderHealthStatus, bool)
}

// UsageReader exposes the limiter's unreserved headroom check.
type UsageReader interface {
	Usage(ctx context.Context, providerID string) (domain.RateLimitInfo, error)
}

// Composite weighting. The bias term is swapped per optimize-for mode.
const (
	weightHealth = 0.50
	weightQuota  = 0.20
	weightBias   = 0.30
)

// Selector scores and ranks provider candidates.
type Selector struct {
	providers []domain.ProviderConfig // declaration order preserved
	health    HealthReader
	usage     UsageReader
}

// New creates a selector over the configured provider set.
func New(providers []domain.ProviderConfig, health HealthReader, usage UsageReader) *Selector {
	return &Selector{providers: providers, health: health, usage: usage}
}

// Select returns every currently usable provider ranked best-first, so the
// dispatch engine can fail over without re-querying. Rate headroom is
// checked without reserving.
func (s *Selector) Select(ctx context.Context, criteria domain.SelectionCriteria) ([]domain.ProviderScore, error) {
	if len(s.providers) == 0 {
		return nil, ErrNoProviderConfigured
	}

	candidates := s.filter(criteria)
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}

	scores := make([]domain.ProviderScore, 0, len(candidates))
	order := make(map[string]int, len(candidates))
	for _, p := range candidates {
		order[p.ID] = p.DeclarationOrder

		status, ok := s.health.Status(p.ID)
		if !ok || !status.Status.Selectable() {
			continue
		}

		info, err := s.usage.Usage(ctx, p.ID)
		if err != nil {
			logger.Warn("rate usage check failed, skipping provider", "provider", p.ID, "error", err.Error())
			continue
		}
		if !info.HasHeadroom() {
			continue
		}

		scores = append(scores, domain.ProviderScore{
			ProviderID:     p.ID,
			Kind:           p.Kind,
			Status:         status.Status,
			HealthScore:    status.HealthScore,
			QuotaRemaining: info.QuotaRemainingRatio(),
			CompositeScore: s.composite(p, status, info, criteria.OptimizeFor),
		})
	}

	if len(scores) == 0 {
		return nil, ErrNoProviderAvailable
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CompositeScore != scores[j].CompositeScore {
			return scores[i].CompositeScore > scores[j].CompositeScore
		}
		// Deterministic tie-break: config declaration order.
		return order[scores[i].ProviderID] < order[scores[j].ProviderID]
	})

	return scores, nil
}

// filter applies require/exclude before any scoring.
func (s *Selector) filter(criteria domain.SelectionCriteria) []domain.ProviderConfig {
	if criteria.RequireProvider != "" {
		for _, p := range s.providers {
			if p.ID == criteria.RequireProvider {
				return []domain.ProviderConfig{p}
			}
		}
		return nil
	}

	excluded := make(map[string]bool, len(criteria.ExcludeProviders))
	for _, id := range criteria.ExcludeProviders {
		excluded[id] = true
	}

	out := make([]domain.ProviderConfig, 0, len(s.providers))
	for _, p := range s.providers {
		if !excluded[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// composite blends health, quota headroom, and the optimize-for bias into
// a single comparable score.
func (s *Selector) composite(p domain.ProviderConfig, status domain.ProviderHealthStatus, info domain.RateLimitInfo, mode domain.OptimizeFor) float64 {
	bias := status.HealthScore // reliability is the default bias
	switch mode {
	case domain.OptimizeCost:
		bias = s.costScore(p)
	case domain.OptimizeSpeed:
		bias = responsivenessScore(status.AvgResponseTimeMs)
	}
	return weightHealth*status.HealthScore +
		weightQuota*info.QuotaRemainingRatio()*100 +
		weightBias*bias
}

// costScore gives the cheapest configured provider 100 and scales the rest
// down proportionally. A zero cost figure counts as free.
func (s *Selector) costScore(p domain.ProviderConfig) float64 {
	if p.CostPerMille <= 0 {
		return 100
	}
	min := p.CostPerMille
	for _, other := range s.providers {
		if other.CostPerMille > 0 && other.CostPerMille < min {
			min = other.CostPerMille
		}
	}
	return 100 * min / p.CostPerMille
}

// responsivenessScore mirrors the health monitor's normalization: 100 up
// to 200ms, 0 at 5s.
func responsivenessScore(avgMs float64) float64 {
	const fast, slow = 200.0, 5000.0
	switch {
	case avgMs <= fast:
		return 100
	case avgMs >= slow:
		return 0
	default:
		return 100 * (slow - avgMs) / (slow - fast)
	}
}
