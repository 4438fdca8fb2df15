package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/titledesk/mailroom/internal/domain"
)

// TaskTypeSendEmail is the asynq task type for a single scheduled send.
const TaskTypeSendEmail = "email:send"

// SendEmailPayload is the serialized payload for a scheduled send task.
type SendEmailPayload struct {
	Message domain.EmailData   `json:"message"`
	Options domain.SendOptions `json:"options"`
}

// NewSendEmailTask creates the asynq task for a scheduled send.
func NewSendEmailTask(msg *domain.EmailData, opts domain.SendOptions) (*asynq.Task, error) {
	payload, err := json.Marshal(SendEmailPayload{Message: *msg, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeSendEmail, payload), nil
}

// ParseSendEmailPayload deserializes the task payload.
func ParseSendEmailPayload(data []byte) (*SendEmailPayload, error) {
	var p SendEmailPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	return &p, nil
}

// TaskTypeBulkChunk is the asynq task type for one chunk of a scheduled
// bulk send. Chunk-sized tasks keep large blasts to a bounded number of
// queue entries.
const TaskTypeBulkChunk = "email:bulk_chunk"

// BulkChunkPayload is the serialized payload for a bulk chunk task.
type BulkChunkPayload struct {
	Messages []domain.EmailData `json:"messages"`
	Options  domain.SendOptions `json:"options"`
}

// NewBulkChunkTask creates the asynq task for one scheduled bulk chunk.
func NewBulkChunkTask(msgs []*domain.EmailData, opts domain.SendOptions) (*asynq.Task, error) {
	p := BulkChunkPayload{Messages: make([]domain.EmailData, 0, len(msgs)), Options: opts}
	for _, m := range msgs {
		p.Messages = append(p.Messages, *m)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling bulk chunk payload: %w", err)
	}
	return asynq.NewTask(TaskTypeBulkChunk, payload), nil
}

// ParseBulkChunkPayload deserializes the bulk chunk payload.
func ParseBulkChunkPayload(data []byte) (*BulkChunkPayload, error) {
	var p BulkChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling bulk chunk payload: %w", err)
	}
	return &p, nil
}
