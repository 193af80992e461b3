package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay moves pending outbox records to the broker. Delivery is at least once:
// a record published but not yet marked sent is published again on the next pass.
type Relay struct {
	Source    Source
	Publisher Publisher
	Batch     int
	Interval  time.Duration
	Log       *zap.Logger
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if n, err := r.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("outbox flush failed", zap.Int("sent", n), zap.Error(err))
		} else if n > 0 {
			log.Debug("outbox flushed", zap.Int("sent", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch in id order and stops at the first failure.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	recs, err := r.Source.FetchPending(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}
	sent := 0
	for _, rec := range recs {
		if err := r.Publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			return sent, fmt.Errorf("publish %s: %w", rec.EventID, err)
		}
		if err := r.Source.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("mark %d sent: %w", rec.ID, err)
		}
		sent++
	}
	return sent, nil
}
