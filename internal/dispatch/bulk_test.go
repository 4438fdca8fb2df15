package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
)

func bulkMessages(n int) []*domain.EmailData {
	out := make([]*domain.EmailData, 0, n)
	for i := 0; i < n; i++ {
		msg := testMessage()
		msg.To = []string{fmt.Sprintf("agent%d@example.com", i)}
		out = append(out, msg)
	}
	return out
}

func TestSendBulkAggregatesResults(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, nil)

	result := coord.SendBulk(context.Background(), bulkMessages(5), domain.BulkSendOptions{
		BatchSize: 2,
	})

	assert.Equal(t, 5, result.TotalSuccess)
	assert.Equal(t, 0, result.TotalFailed)
	assert.Len(t, result.Results, 5)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 5, fx.senders["sp-1"].callCount())
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
}

func TestSendBulkReportsProgressPerChunk(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, nil)

	var progress [][2]int
	coord.SendBulk(context.Background(), bulkMessages(5), domain.BulkSendOptions{
		BatchSize: 2,
		Progress: func(completed, total int) {
			progress = append(progress, [2]int{completed, total})
		},
	})

	require.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestSendBulkRecordsPerMessageFailures(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		blockingSuppression{blocked: map[string]domain.SuppressionReason{
			"agent2@example.com": domain.ReasonHardBounce,
		}}, nil)
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, nil)

	result := coord.SendBulk(context.Background(), bulkMessages(4), domain.BulkSendOptions{
		BatchSize: 10,
	})

	assert.Equal(t, 3, result.TotalSuccess)
	assert.Equal(t, 1, result.TotalFailed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "agent2@example.com", result.Errors[0].Recipient)
	assert.Equal(t, "suppressed", result.Errors[0].ErrorClass)
}

func TestSendBulkDistributesChunksAcrossProviders(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil, "ses-1": nil, "mg-1": nil},
		staticSelector{ranked: ranked("sp-1", "ses-1", "mg-1")},
		allowAllSuppression{}, nil)
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1", "ses-1", "mg-1")}, nil)

	result := coord.SendBulk(context.Background(), bulkMessages(4), domain.BulkSendOptions{
		BatchSize:                 1,
		DistributeAcrossProviders: true,
		TopN:                      2,
	})

	assert.Equal(t, 4, result.TotalSuccess)
	// Chunks round-robin over the top two ranked providers.
	assert.Equal(t, 2, fx.senders["sp-1"].callCount())
	assert.Equal(t, 2, fx.senders["ses-1"].callCount())
	assert.Equal(t, 0, fx.senders["mg-1"].callCount())
}

func TestSendBulkRotationFallsBackWhenSelectorFails(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	// Rotation selection fails; chunks still dispatch via the engine's own
	// selection path.
	coord := NewCoordinator(fx.engine, staticSelector{err: assert.AnError}, nil)

	result := coord.SendBulk(context.Background(), bulkMessages(3), domain.BulkSendOptions{
		BatchSize:                 2,
		DistributeAcrossProviders: true,
	})

	assert.Equal(t, 3, result.TotalSuccess)
	assert.Equal(t, 3, fx.senders["sp-1"].callCount())
}

func TestSendBulkDefaultsBatchSize(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, nil)

	var calls int
	result := coord.SendBulk(context.Background(), bulkMessages(150), domain.BulkSendOptions{
		Progress: func(completed, total int) { calls++ },
	})

	assert.Equal(t, 150, result.TotalSuccess)
	// 150 messages at the default chunk size of 100 is two chunks.
	assert.Equal(t, 2, calls)
}

func TestSendBulkAccountsForMidBatchRateLimit(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	// The provider's daily quota runs out 100 messages into the batch.
	fx.reserver.caps["sp-1"] = 100
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, nil)

	result := coord.SendBulk(context.Background(), bulkMessages(250), domain.BulkSendOptions{
		BatchSize: 50,
	})

	assert.Equal(t, 100, result.TotalSuccess)
	assert.Equal(t, 150, result.TotalFailed)
	assert.Equal(t, 250, result.TotalSuccess+result.TotalFailed)
	assert.Len(t, result.Results, 250)
	require.Len(t, result.Errors, 150)
	assert.Equal(t, "rate_limited", result.Errors[0].ErrorClass)
	assert.Equal(t, 100, fx.senders["sp-1"].callCount())
}

type fakeChunkScheduler struct {
	chunks [][]*domain.EmailData
	ats    []time.Time
	err    error
}

func (f *fakeChunkScheduler) EnqueueBulkChunk(_ context.Context, msgs []*domain.EmailData, _ domain.SendOptions, at time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.chunks = append(f.chunks, msgs)
	f.ats = append(f.ats, at)
	return fmt.Sprintf("job-%d", len(f.chunks)), nil
}

func TestSendBulkFutureDatedEnqueuesChunks(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	sched := &fakeChunkScheduler{}
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, sched)

	at := time.Now().Add(time.Hour)
	result := coord.SendBulk(context.Background(), bulkMessages(5), domain.BulkSendOptions{
		SendOptions: domain.SendOptions{ScheduledFor: &at},
		BatchSize:   2,
	})

	assert.Equal(t, 5, result.TotalSuccess)
	assert.Equal(t, 0, result.TotalFailed)
	require.Len(t, sched.chunks, 3)
	assert.Equal(t, at, sched.ats[0])
	// Nothing dispatches now; everything waits in the queue.
	assert.Equal(t, 0, fx.senders["sp-1"].callCount())
	for _, sr := range result.Results {
		assert.True(t, sr.Queued)
		assert.NotEmpty(t, sr.JobID)
	}
}

func TestSendBulkFutureDatedRecordsEnqueueFailures(t *testing.T) {
	fx := newEngineFixture(t,
		map[string][]error{"sp-1": nil},
		staticSelector{ranked: ranked("sp-1")},
		allowAllSuppression{}, nil)
	sched := &fakeChunkScheduler{err: assert.AnError}
	coord := NewCoordinator(fx.engine, staticSelector{ranked: ranked("sp-1")}, sched)

	at := time.Now().Add(time.Hour)
	result := coord.SendBulk(context.Background(), bulkMessages(3), domain.BulkSendOptions{
		SendOptions: domain.SendOptions{ScheduledFor: &at},
		BatchSize:   2,
	})

	assert.Equal(t, 0, result.TotalSuccess)
	assert.Equal(t, 3, result.TotalFailed)
	assert.Len(t, result.Errors, 3)
}
