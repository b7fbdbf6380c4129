package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is one outbox row.
type Record struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Store is the outbox side of the appointment storage.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
}

// Relay moves outbox rows to the broker in creation order.
type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	logger    *zap.Logger
}

func NewRelay(store Store, publisher Publisher, batchSize int, logger *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger,
	}
}

// RunOnce publishes one batch and returns how many rows were published.
// It stops at the first publish failure so ordering is kept; the failed row
// is retried on the next run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	records, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished events: %w", err)
	}

	published := 0
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec.EventType, rec.Payload); err != nil {
			r.logger.Warn("publish event failed",
				zap.Int64("event_id", rec.ID),
				zap.String("event_type", rec.EventType),
				zap.Error(err),
			)
			return published, fmt.Errorf("publish event %d: %w", rec.ID, err)
		}

		if err := r.store.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			// the broker already has it; consumers must tolerate the duplicate
			// that the next run will send
			return published, fmt.Errorf("mark event %d published: %w", rec.ID, err)
		}
		published++
	}

	return published, nil
}
