package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/pkg/logger"
	"github.com/titledesk/mailroom/internal/transport"
)

const defaultBatchSize = 100

// ChunkScheduler hands future-dated bulk chunks to the durable queue.
type ChunkScheduler interface {
	EnqueueBulkChunk(ctx context.Context, msgs []*domain.EmailData, opts domain.SendOptions, at time.Time) (string, error)
}

// Coordinator fans batches of sends through the dispatch engine and
// aggregates results. A chunk-level failure never aborts remaining chunks.
type Coordinator struct {
	engine    *Engine
	selector  ProviderSelector
	scheduler ChunkScheduler
}

// NewCoordinator creates a bulk coordinator over the engine. scheduler
// may be nil; future-dated batches then schedule per message through the
// engine.
func NewCoordinator(engine *Engine, sel ProviderSelector, scheduler ChunkScheduler) *Coordinator {
	return &Coordinator{engine: engine, selector: sel, scheduler: scheduler}
}

// SendBulk splits messages into chunks of BatchSize and dispatches them.
// With DistributeAcrossProviders set, chunks are round-robined across the
// selector's top-N ranked providers instead of every chunk re-selecting,
// bounding the blast radius of a single provider's degradation.
func (c *Coordinator) SendBulk(ctx context.Context, messages []*domain.EmailData, opts domain.BulkSendOptions) domain.BulkSendResult {
	result := domain.BulkSendResult{
		StartedAt: time.Now(),
		Results:   make([]domain.SendResult, 0, len(messages)),
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	if c.scheduler != nil && opts.ScheduledFor != nil && opts.ScheduledFor.After(time.Now()) {
		return c.scheduleBulk(ctx, messages, opts, batchSize, result)
	}

	var rotation []string
	if opts.DistributeAcrossProviders {
		rotation = c.providerRotation(ctx, opts)
	}

	total := len(messages)
	completed := 0
	chunkIdx := 0

	for offset := 0; offset < total; offset += batchSize {
		end := offset + batchSize
		if end > total {
			end = total
		}
		chunk := messages[offset:end]

		chunkOpts := opts.SendOptions
		if len(rotation) > 0 {
			// Pinning via preferred (not require): the pinned provider can
			// still fail over if it degrades mid-batch.
			chunkOpts.PreferredProvider = rotation[chunkIdx%len(rotation)]
		}

		c.sendChunk(ctx, chunk, chunkOpts, &result)

		completed += len(chunk)
		chunkIdx++
		if opts.Progress != nil {
			opts.Progress(completed, total)
		}
	}

	result.CompletedAt = time.Now()
	logger.Info("bulk send complete",
		"total", total,
		"success", result.TotalSuccess,
		"failed", result.TotalFailed,
		"duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	)
	return result
}

// scheduleBulk enqueues the batch as chunk-sized jobs instead of
// dispatching, so a large future-dated blast occupies a bounded number
// of queue entries.
func (c *Coordinator) scheduleBulk(ctx context.Context, messages []*domain.EmailData, opts domain.BulkSendOptions, batchSize int, result domain.BulkSendResult) domain.BulkSendResult {
	at := *opts.ScheduledFor
	chunkOpts := opts.SendOptions
	chunkOpts.ScheduledFor = nil

	total := len(messages)
	for offset := 0; offset < total; offset += batchSize {
		end := offset + batchSize
		if end > total {
			end = total
		}
		chunk := messages[offset:end]

		jobID, err := c.scheduler.EnqueueBulkChunk(ctx, chunk, chunkOpts, at)
		for _, msg := range chunk {
			if err != nil {
				recordFailure(&result, msg, fmt.Sprintf("enqueue bulk chunk: %v", err), string(transport.ClassTransient))
				continue
			}
			result.Results = append(result.Results, domain.SendResult{
				MessageID: msg.ID,
				Success:   true,
				Queued:    true,
				JobID:     jobID,
			})
			result.TotalSuccess++
		}
		if opts.Progress != nil {
			opts.Progress(end, total)
		}
	}

	result.CompletedAt = time.Now()
	logger.Info("bulk send scheduled",
		"total", total,
		"chunks", (total+batchSize-1)/batchSize,
		"at", at.Format(time.RFC3339),
	)
	return result
}

// sendChunk dispatches one chunk, isolating panics so a poisoned message
// cannot take down the rest of the batch.
func (c *Coordinator) sendChunk(ctx context.Context, chunk []*domain.EmailData, opts domain.SendOptions, result *domain.BulkSendResult) {
	processed := 0
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bulk chunk panicked", "error", fmt.Sprintf("%v", r), "chunk_size", len(chunk))
			// Everything from the panicking message onward gets a failure
			// record so totals still account for every message.
			for _, msg := range chunk[processed:] {
				recordFailure(result, msg, fmt.Sprintf("chunk aborted: %v", r), string(transport.ClassTransient))
			}
		}
	}()

	for _, msg := range chunk {
		sr := c.engine.Send(ctx, msg, opts)
		processed++
		result.Results = append(result.Results, sr)
		if sr.Success {
			result.TotalSuccess++
		} else {
			result.TotalFailed++
			recipient := ""
			if len(msg.To) > 0 {
				recipient = msg.To[0]
			}
			result.Errors = append(result.Errors, domain.BulkSendError{
				Recipient:  recipient,
				Error:      sr.Error,
				ErrorClass: sr.ErrorClass,
			})
		}
	}
}

// providerRotation asks the selector for the top-N providers once for the
// whole batch. Selection failure degrades to per-chunk selection.
func (c *Coordinator) providerRotation(ctx context.Context, opts domain.BulkSendOptions) []string {
	ranked, err := c.selector.Select(ctx, domain.SelectionCriteria{
		RequireProvider:  opts.RequireProvider,
		ExcludeProviders: opts.ExcludeProviders,
		OptimizeFor:      opts.OptimizeFor,
	})
	if err != nil {
		logger.Warn("bulk provider rotation unavailable, chunks will self-select", "error", err.Error())
		return nil
	}

	topN := opts.TopN
	if topN <= 0 || topN > len(ranked) {
		topN = len(ranked)
	}
	rotation := make([]string, 0, topN)
	for _, score := range ranked[:topN] {
		rotation = append(rotation, score.ProviderID)
	}
	return rotation
}

func recordFailure(result *domain.BulkSendResult, msg *domain.EmailData, errMsg, class string) {
	result.TotalFailed++
	recipient := ""
	if len(msg.To) > 0 {
		recipient = msg.To[0]
	}
	result.Results = append(result.Results, domain.SendResult{Error: errMsg, ErrorClass: class})
	result.Errors = append(result.Errors, domain.BulkSendError{Recipient: recipient, Error: errMsg, ErrorClass: class})
}
