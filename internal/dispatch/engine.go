// Package dispatch executes sends against ranked providers with retry,
// backoff, and failover, and coordinates bulk fan-out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
	"github.com/titledesk/mailroom/internal/ratelimit"
	"github.com/titledesk/mailroom/internal/transport"
)

// Error classes surfaced in SendResult.ErrorClass beyond the transport
// taxonomy.
const (
	classSuppressed  = "suppressed"
	classRateLimited = "rate_limited"
)

// SuppressionChecker is the registry's memory-only check path.
type SuppressionChecker interface {
	Check(email string) domain.SuppressionCheckResult
}

// ProviderSelector returns the ranked candidate list for one send.
type ProviderSelector interface {
	Select(ctx context.Context, criteria domain.SelectionCriteria) ([]domain.ProviderScore, error)
}

// CapacityReserver claims rate-limiter capacity before a transport attempt.
type CapacityReserver interface {
	Reserve(ctx context.Context, providerID string, cost int) error
}

// OutcomeRecorder receives coarse health signals from terminal attempts.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, providerID string, success bool, responseTime time.Duration)
}

// Scheduler hands future-dated sends to the durable queue.
type Scheduler interface {
	EnqueueScheduled(ctx context.Context, msg *domain.EmailData, opts domain.SendOptions, at time.Time) (string, error)
}

// AttemptWriter persists per-send audit records. Optional; failures are
// logged and never affect the send outcome.
type AttemptWriter interface {
	SaveSendResult(ctx context.Context, msg *domain.EmailData, result domain.SendResult) error
}

// RetryConfig bounds same-provider retries.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	AttemptTimeout    time.Duration
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		AttemptTimeout:    30 * time.Second,
	}
}

// Engine is the dispatch engine.
type Engine struct {
	registry    *transport.Registry
	suppression SuppressionChecker
	selector    ProviderSelector
	limiter     CapacityReserver
	monitor     OutcomeRecorder
	scheduler   Scheduler
	audit       AttemptWriter
	retry       RetryConfig
}

// NewEngine wires the dispatch engine. scheduler and audit may be nil.
func NewEngine(
	registry *transport.Registry,
	suppression SuppressionChecker,
	sel ProviderSelector,
	limiter CapacityReserver,
	monitor OutcomeRecorder,
	scheduler Scheduler,
	audit AttemptWriter,
	retry RetryConfig,
) *Engine {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if retry.BackoffMultiplier < 1 {
		retry.BackoffMultiplier = DefaultRetryConfig().BackoffMultiplier
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if retry.AttemptTimeout <= 0 {
		retry.AttemptTimeout = DefaultRetryConfig().AttemptTimeout
	}
	return &Engine{
		registry:    registry,
		suppression: suppression,
		selector:    sel,
		limiter:     limiter,
		monitor:     monitor,
		scheduler:   scheduler,
		audit:       audit,
		retry:       retry,
	}
}

// Send executes one dispatch to terminal state. The caller sees only the
// final SendResult; retries and failover happen transparently, with the
// full attempt history attached for diagnostics.
func (e *Engine) Send(ctx context.Context, msg *domain.EmailData, opts domain.SendOptions) domain.SendResult {
	start := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	if err := msg.Validate(); err != nil {
		return e.finish(ctx, msg, domain.SendResult{
			Error:      err.Error(),
			ErrorClass: string(transport.ClassMessageLevel),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	// Test mode short-circuits success without any network action and
	// without spending rate-limiter capacity.
	if opts.TestMode || opts.DryRun {
		return domain.SendResult{
			Success:    true,
			MessageID:  "dry-run-" + msg.ID,
			SentAt:     time.Now(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	// Suppression gates every real send, regardless of provider.
	for _, rcpt := range msg.Recipients() {
		if check := e.suppression.Check(rcpt); check.Suppressed {
			logger.Info("send blocked by suppression", "message_id", msg.ID, "recipient", rcpt, "reason", string(check.Reason))
			return e.finish(ctx, msg, domain.SendResult{
				Error:      fmt.Sprintf("recipient suppressed (%s)", check.Reason),
				ErrorClass: classSuppressed,
				DurationMs: time.Since(start).Milliseconds(),
			})
		}
	}

	// Future-dated sends go to the durable queue instead.
	if opts.ScheduledFor != nil && opts.ScheduledFor.After(time.Now()) {
		return e.enqueue(ctx, msg, opts, start)
	}

	ranked, err := e.selector.Select(ctx, domain.SelectionCriteria{
		RequireProvider:  opts.RequireProvider,
		ExcludeProviders: opts.ExcludeProviders,
		OptimizeFor:      opts.OptimizeFor,
	})
	if err != nil {
		return e.finish(ctx, msg, domain.SendResult{
			Error:      err.Error(),
			ErrorClass: string(transport.ClassProviderLevel),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
	ranked = reorderPreferred(ranked, opts.PreferredProvider)

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.retry.MaxAttempts
	}

	var failovers []domain.FailoverAttempt
	var lastErr error
	lastClass := transport.ClassProviderLevel

	for i, candidate := range ranked {
		sender, ok := e.registry.Sender(candidate.ProviderID)
		if !ok {
			continue
		}

		// Reserve capacity first. A denial skips the provider without a
		// health penalty; the reservation is consumed even if the send
		// later fails.
		if err := e.limiter.Reserve(ctx, candidate.ProviderID, 1); err != nil {
			var rle *ratelimit.RateLimitExceededError
			if errors.As(err, &rle) {
				failovers = append(failovers, domain.FailoverAttempt{
					ProviderID: candidate.ProviderID,
					Kind:       candidate.Kind,
					Error:      err.Error(),
					ErrorClass: classRateLimited,
					StartedAt:  time.Now(),
					EndedAt:    time.Now(),
				})
				lastErr, lastClass = err, transport.ErrorClass(classRateLimited)
				continue
			}
			lastErr, lastClass = err, transport.ClassProviderLevel
			continue
		}

		attempt, outcome := e.tryProvider(ctx, sender, candidate, msg, maxAttempts)
		switch outcome.kind {
		case outcomeSuccess:
			return e.finish(ctx, msg, domain.SendResult{
				Success:      true,
				MessageID:    outcome.messageID,
				ProviderID:   candidate.ProviderID,
				ProviderName: candidate.ProviderID,
				Kind:         candidate.Kind,
				SentAt:       time.Now(),
				DurationMs:   time.Since(start).Milliseconds(),
				Failovers:    failovers,
			})
		case outcomeMessageFault:
			// Switching transport cannot fix a bad message. Abort.
			failovers = append(failovers, attempt)
			return e.finish(ctx, msg, domain.SendResult{
				Error:      attempt.Error,
				ErrorClass: attempt.ErrorClass,
				DurationMs: time.Since(start).Milliseconds(),
				Failovers:  failovers,
			})
		default:
			failovers = append(failovers, attempt)
			lastErr = outcome.err
			lastClass = transport.ErrorClass(attempt.ErrorClass)
			if !opts.EnableFailover {
				return e.finish(ctx, msg, domain.SendResult{
					Error:      attempt.Error,
					ErrorClass: attempt.ErrorClass,
					DurationMs: time.Since(start).Milliseconds(),
					Failovers:  failovers,
				})
			}
			if i < len(ranked)-1 {
				logger.Warn("failing over to next provider", "message_id", msg.ID, "from", candidate.ProviderID, "class", attempt.ErrorClass)
			}
		}
	}

	errMsg := "all providers exhausted"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return e.finish(ctx, msg, domain.SendResult{
		Error:      errMsg,
		ErrorClass: string(lastClass),
		DurationMs: time.Since(start).Milliseconds(),
		Failovers:  failovers,
	})
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeProviderFault
	outcomeMessageFault
)

type attemptOutcome struct {
	kind      outcomeKind
	messageID string
	err       error
}

// tryProvider runs the per-provider retry loop: transient errors back off
// and retry the same provider, provider-level errors abandon it, message
// faults abort the send. Returns the FailoverAttempt record for a failed
// provider and the outcome.
func (e *Engine) tryProvider(ctx context.Context, sender transport.Sender, candidate domain.ProviderScore, msg *domain.EmailData, maxAttempts int) (domain.FailoverAttempt, attemptOutcome) {
	record := domain.FailoverAttempt{
		ProviderID: candidate.ProviderID,
		Kind:       candidate.Kind,
		StartedAt:  time.Now(),
	}

	var lastErr error
	var lastRT time.Duration

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.retry.AttemptTimeout)
		attemptStart := time.Now()
		messageID, err := sender.SendOne(attemptCtx, msg)
		lastRT = time.Since(attemptStart)
		cancel()

		record.Attempts = attempt + 1

		if err == nil {
			e.monitor.RecordOutcome(ctx, candidate.ProviderID, true, lastRT)
			return record, attemptOutcome{kind: outcomeSuccess, messageID: messageID}
		}
		lastErr = err

		switch transport.Classify(err) {
		case transport.ClassTransient:
			logger.Debug("transient send error, retrying", "provider", candidate.ProviderID, "attempt", attempt+1, "error", err.Error())
			continue
		case transport.ClassMessageLevel:
			// Not a provider fault: no health penalty for a bad message.
			record.EndedAt = time.Now()
			record.Error = err.Error()
			record.ErrorClass = string(transport.ClassMessageLevel)
			record.ResponseTimeMs = lastRT.Milliseconds()
			return record, attemptOutcome{kind: outcomeMessageFault, err: err}
		default: // provider-level: failover, not same-provider retry
			e.monitor.RecordOutcome(ctx, candidate.ProviderID, false, lastRT)
			record.EndedAt = time.Now()
			record.Error = err.Error()
			record.ErrorClass = string(transport.ClassProviderLevel)
			record.ResponseTimeMs = lastRT.Milliseconds()
			return record, attemptOutcome{kind: outcomeProviderFault, err: err}
		}
	}

	// Retries exhausted on this provider.
	e.monitor.RecordOutcome(ctx, candidate.ProviderID, false, lastRT)
	record.EndedAt = time.Now()
	record.ErrorClass = string(transport.ClassTransient)
	record.ResponseTimeMs = lastRT.Milliseconds()
	if lastErr != nil {
		record.Error = lastErr.Error()
	}
	return record, attemptOutcome{kind: outcomeProviderFault, err: lastErr}
}

// backoff suspends the calling send for initialDelay * multiplier^(n-1),
// capped at maxDelay. Other sends proceed in parallel; ctx cancellation
// aborts the wait.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	delay := e.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.retry.BackoffMultiplier)
		if delay >= e.retry.MaxDelay {
			delay = e.retry.MaxDelay
			break
		}
	}
	if delay > e.retry.MaxDelay {
		delay = e.retry.MaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) enqueue(ctx context.Context, msg *domain.EmailData, opts domain.SendOptions, start time.Time) domain.SendResult {
	if e.scheduler == nil {
		return domain.SendResult{
			Error:      "scheduled sends are not configured",
			ErrorClass: string(transport.ClassMessageLevel),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	at := *opts.ScheduledFor
	scheduled := opts
	scheduled.ScheduledFor = nil // the job dispatches immediately when due

	jobID, err := e.scheduler.EnqueueScheduled(ctx, msg, scheduled, at)
	if err != nil {
		return domain.SendResult{
			Error:      fmt.Sprintf("enqueue scheduled send: %v", err),
			ErrorClass: string(transport.ClassTransient),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	logger.Info("send scheduled", "message_id", msg.ID, "job_id", jobID, "at", at.Format(time.RFC3339))
	return domain.SendResult{
		Success:    true,
		Queued:     true,
		JobID:      jobID,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// finish persists the audit record (best effort) and returns the result.
func (e *Engine) finish(ctx context.Context, msg *domain.EmailData, result domain.SendResult) domain.SendResult {
	if e.audit != nil {
		if err := e.audit.SaveSendResult(ctx, msg, result); err != nil {
			logger.Warn("send audit write failed", "message_id", msg.ID, "error", err.Error())
		}
	}
	return result
}

// reorderPreferred moves the preferred provider to the head of the ranked
// list when present. It is a hint, never a hard requirement.
func reorderPreferred(ranked []domain.ProviderScore, preferred string) []domain.ProviderScore {
	if preferred == "" {
		return ranked
	}
	for i, score := range ranked {
		if score.ProviderID == preferred && i > 0 {
			out := make([]domain.ProviderScore, 0, len(ranked))
			out = append(out, score)
			out = append(out, ranked[:i]...)
			out = append(out, ranked[i+1:]...)
			return out
		}
	}
	return ranked
}
