// Package reconcile ingests asynchronous provider delivery events,
// normalizes them into canonical EmailEvents, deduplicates, and applies
// their side effects to the health monitor and suppression registry.
//
// The HTTP acknowledgement to the provider never waits on processing:
// Ingest verifies, translates, and hands the batch to an internal work
// queue; workers apply side effects in bounded sub-batches.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
)

// ErrUnknownProviderKind is returned for webhook paths that do not map to
// a configured provider.
var ErrUnknownProviderKind = errors.New("unknown provider kind")

// EventStore persists canonical events for audit and is the authoritative
// dedup layer: InsertEventOnce reports false for a previously seen
// (provider kind, provider event id) pair.
type EventStore interface {
	InsertEventOnce(ctx context.Context, event domain.EmailEvent) (bool, error)
}

// SuppressionAdder is the registry's write path.
type SuppressionAdder interface {
	Add(ctx context.Context, entry domain.SuppressionEntry) error
}

// HealthRecorder folds reconciled events into provider metrics.
type HealthRecorder interface {
	RecordEvent(ctx context.Context, event domain.EmailEvent)
}

// Config tunes the async processing pipeline.
type Config struct {
	// SubBatchSize bounds memory and per-call latency when a provider
	// delivers large batches.
	SubBatchSize int
	// Workers bounds internal processing parallelism.
	Workers int
	// QueueDepth bounds how many pending batches Ingest will buffer.
	QueueDepth int
	// DedupTTL bounds the Redis fast-path dedup keys.
	DedupTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SubBatchSize: 100,
		Workers:      4,
		QueueDepth:   256,
		DedupTTL:     48 * time.Hour,
	}
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	Received   int      `json:"received"`
	Processed  int      `json:"processed"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Dropped    bool     `json:"dropped,omitempty"` // signature failure: acked, not processed
	Errors     []string `json:"errors,omitempty"`
}

type translator func(providerID string, body []byte) ([]domain.EmailEvent, []error)

// Reconciler is the event reconciler.
type Reconciler struct {
	cfg         Config
	byKind      map[domain.ProviderKind]domain.ProviderConfig
	translators map[domain.ProviderKind]translator
	store       EventStore
	suppression SuppressionAdder
	health      HealthRecorder
	redis       *redis.Client // optional dedup fast path

	queue chan []domain.EmailEvent
	wg    sync.WaitGroup

	now func() time.Time
}

// New wires a reconciler. redisClient may be nil; dedup then relies solely
// on the store's unique constraint.
func New(cfg Config, providers []domain.ProviderConfig, store EventStore, supp SuppressionAdder, health HealthRecorder, redisClient *redis.Client) *Reconciler {
	def := DefaultConfig()
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = def.SubBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}

	byKind := make(map[domain.ProviderKind]domain.ProviderConfig, len(providers))
	for _, p := range providers {
		// One webhook endpoint per provider kind; first declared account
		// of a kind owns the endpoint secret.
		if _, exists := byKind[p.Kind]; !exists {
			byKind[p.Kind] = p
		}
	}

	return &Reconciler{
		cfg:    cfg,
		byKind: byKind,
		translators: map[domain.ProviderKind]translator{
			domain.ProviderSparkPost: translateSparkPost,
			domain.ProviderSES:       translateSES,
			domain.ProviderMailgun:   translateMailgun,
			domain.ProviderSendGrid:  translateSendGrid,
		},
		store:       store,
		suppression: supp,
		health:      health,
		redis:       redisClient,
		queue:       make(chan []domain.EmailEvent, cfg.QueueDepth),
		now:         time.Now,
	}
}

// Start launches the processing workers. They drain the queue until ctx is
// cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case batch := <-r.queue:
					r.ProcessEvents(context.Background(), batch)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (r *Reconciler) Wait() { r.wg.Wait() }

// Ingest verifies, translates, and enqueues one inbound webhook payload.
// It returns quickly so the HTTP layer can acknowledge the provider; side
// effects are applied asynchronously. A signature failure is a silent
// drop: Dropped is set, no error is returned, and nothing is processed.
func (r *Reconciler) Ingest(ctx context.Context, kind domain.ProviderKind, body []byte, headers Headers) (IngestResult, error) {
	cfg, ok := r.byKind[kind]
	if !ok {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrUnknownProviderKind, kind)
	}

	if err := verifySignature(cfg, body, headers, r.now()); err != nil {
		logger.Warn("webhook signature rejected", "kind", string(kind), "error", err.Error())
		return IngestResult{Dropped: true}, nil
	}

	translate := r.translators[kind]
	events, errs := translate(cfg.ID, body)

	result := IngestResult{Received: len(events) + len(errs), Failed: len(errs)}
	for _, err := range errs {
		result.Errors = append(result.Errors, err.Error())
	}

	// Hand off in sub-batches; a full queue degrades to synchronous
	// processing rather than dropping events.
	for offset := 0; offset < len(events); offset += r.cfg.SubBatchSize {
		end := offset + r.cfg.SubBatchSize
		if end > len(events) {
			end = len(events)
		}
		sub := events[offset:end]
		select {
		case r.queue <- sub:
		default:
			r.ProcessEvents(ctx, sub)
		}
	}
	result.Processed = len(events)

	return result, nil
}

// ProcessEvents applies side effects for a batch synchronously. Item
// failures are isolated: one bad event never aborts the rest.
func (r *Reconciler) ProcessEvents(ctx context.Context, events []domain.EmailEvent) IngestResult {
	result := IngestResult{Received: len(events)}

	for i := range events {
		event := events[i]
		fresh, err := r.dedup(ctx, &event)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !fresh {
			result.Duplicates++
			continue
		}

		if err := r.apply(ctx, event); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Processed++
	}

	if result.Failed > 0 {
		logger.Warn("event batch processed with failures", "processed", result.Processed, "failed", result.Failed)
	}
	return result
}

// dedup assigns the event id and reports whether this (kind, provider
// event id) pair is new. The Redis SETNX fast path spares the store a
// round-trip on hot replays; the store's unique insert stays authoritative.
func (r *Reconciler) dedup(ctx context.Context, event *domain.EmailEvent) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	var fastPathKey string
	if r.redis != nil {
		key := "event:seen:" + event.DedupKey()
		set, err := r.redis.SetNX(ctx, key, 1, r.cfg.DedupTTL).Result()
		if err == nil && !set {
			return false, nil
		}
		if err == nil {
			fastPathKey = key
		}
		// Redis errors fall through to the store.
	}

	inserted, err := r.store.InsertEventOnce(ctx, *event)
	if err != nil {
		// The event never made it to the store, so the fast-path key
		// must not survive: a redelivery has to get another chance.
		if fastPathKey != "" {
			if delErr := r.redis.Del(ctx, fastPathKey).Err(); delErr != nil {
				logger.Warn("dedup key rollback failed", "key", fastPathKey, "error", delErr.Error())
			}
		}
		return false, fmt.Errorf("persist event %s: %w", event.DedupKey(), err)
	}
	return inserted, nil
}

// apply branches on the canonical event type. Engagement events touch
// metrics only; bounce-class events feed the suppression registry.
func (r *Reconciler) apply(ctx context.Context, event domain.EmailEvent) error {
	r.health.RecordEvent(ctx, event)

	switch event.Type {
	case domain.EventBounced:
		reason := domain.ReasonHardBounce
		if event.BounceClass == domain.BounceSoft {
			reason = domain.ReasonSoftBounce
		}
		return r.suppress(ctx, event, reason)
	case domain.EventSpamReport:
		return r.suppress(ctx, event, domain.ReasonComplaint)
	case domain.EventUnsubscribed:
		return r.suppress(ctx, event, domain.ReasonUnsubscribe)
	default:
		// DELIVERED/OPENED/CLICKED and friends carry no suppression
		// side effect.
		return nil
	}
}

func (r *Reconciler) suppress(ctx context.Context, event domain.EmailEvent, reason domain.SuppressionReason) error {
	if event.Recipient == "" {
		return fmt.Errorf("%s event %s has no recipient", event.Type, event.DedupKey())
	}
	detail := event.BounceReason
	if detail == "" {
		detail = event.ComplaintType
	}
	return r.suppression.Add(ctx, domain.SuppressionEntry{
		Email:   event.Recipient,
		Reason:  reason,
		Source:  domain.SourceWebhook,
		EventID: event.ID,
		Detail:  detail,
	})
}
