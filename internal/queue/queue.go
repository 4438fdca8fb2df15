// Package queue wraps asynq for durable scheduled sends: the dispatch
// engine enqueues future-dated messages here, and the worker process
// replays them through the engine at their scheduled time.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/titledesk/mailroom/internal/domain"
)

const queueEmails = "emails"

// Client wraps the asynq producer side and an inspector for ops
// endpoints. It satisfies the dispatch engine's Scheduler interface.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
}

// NewClient connects the producer side to Redis. redisURI is a
// redis:// URI.
func NewClient(redisURI string, maxRetry int) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		maxRetry:  maxRetry,
	}, nil
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}
	return c.inspector.Close()
}

// EnqueueScheduled stores a future-dated send and returns the durable
// job id.
func (c *Client) EnqueueScheduled(ctx context.Context, msg *domain.EmailData, opts domain.SendOptions, at time.Time) (string, error) {
	task, err := NewSendEmailTask(msg, opts)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(queueEmails),
		asynq.ProcessAt(at),
		asynq.MaxRetry(c.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("enqueuing scheduled send: %w", err)
	}
	return info.ID, nil
}

// EnqueueBulkChunk stores one future-dated chunk of a bulk send and
// returns the durable job id.
func (c *Client) EnqueueBulkChunk(ctx context.Context, msgs []*domain.EmailData, opts domain.SendOptions, at time.Time) (string, error) {
	task, err := NewBulkChunkTask(msgs, opts)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(queueEmails),
		asynq.ProcessAt(at),
		asynq.MaxRetry(c.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("enqueuing bulk chunk: %w", err)
	}
	return info.ID, nil
}

// CancelScheduled removes a not-yet-run scheduled job.
func (c *Client) CancelScheduled(jobID string) error {
	if err := c.inspector.DeleteTask(queueEmails, jobID); err != nil {
		return fmt.Errorf("cancel scheduled job %s: %w", jobID, err)
	}
	return nil
}

// RetryJob forces an immediate run of a retry/scheduled/archived job.
func (c *Client) RetryJob(jobID string) error {
	if err := c.inspector.RunTask(queueEmails, jobID); err != nil {
		return fmt.Errorf("retry job %s: %w", jobID, err)
	}
	return nil
}

// Stats reports queue depth for the ops dashboard.
func (c *Client) Stats() (domain.QueueStats, error) {
	info, err := c.inspector.GetQueueInfo(queueEmails)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("queue info: %w", err)
	}
	return domain.QueueStats{
		Queued:    info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Failed:    info.Archived,
	}, nil
}

// NewServer creates the consumer side. Concurrency bounds parallel task
// execution; retries back off exponentially from 30s.
func NewServer(redisURI string, concurrency int) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueEmails: 10,
			"default":   1,
		},
		RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
			return time.Duration(30*(1<<uint(n-1))) * time.Second
		},
	}), nil
}

// EmailSender is the slice of the dispatch engine the worker needs.
type EmailSender interface {
	Send(ctx context.Context, msg *domain.EmailData, opts domain.SendOptions) domain.SendResult
}

// NewMux registers the task handlers. Scheduled messages re-enter the
// engine with ScheduledFor cleared so they dispatch immediately instead
// of re-enqueueing.
func NewMux(engine EmailSender) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSendEmail, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseSendEmailPayload(task.Payload())
		if err != nil {
			return err
		}
		opts := payload.Options
		opts.ScheduledFor = nil

		result := engine.Send(ctx, &payload.Message, opts)
		if !result.Success {
			// Message-level and suppression outcomes are terminal;
			// retrying the task cannot change them.
			if result.ErrorClass == "message_level" || result.ErrorClass == "suppressed" {
				return fmt.Errorf("%s: %s: %w", result.ErrorClass, result.Error, asynq.SkipRetry)
			}
			return fmt.Errorf("scheduled send failed: %s", result.Error)
		}
		return nil
	})
	mux.HandleFunc(TaskTypeBulkChunk, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseBulkChunkPayload(task.Payload())
		if err != nil {
			return err
		}
		opts := payload.Options
		opts.ScheduledFor = nil

		failed := 0
		for i := range payload.Messages {
			result := engine.Send(ctx, &payload.Messages[i], opts)
			if !result.Success {
				failed++
			}
		}
		if failed > 0 {
			// The engine already retried and failed over per message.
			// Re-running the chunk would resend the successes, so the
			// task never retries.
			return fmt.Errorf("bulk chunk: %d/%d messages failed: %w", failed, len(payload.Messages), asynq.SkipRetry)
		}
		return nil
	})
	return mux
}
