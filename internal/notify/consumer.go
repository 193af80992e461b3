// Package notify turns order events from the broker into notification rows.
// Each event is stored at most once, keyed by its event id.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
	"github.com/nazeru/tx-lab-orders-go/pkg/logging"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Sink interface {
	// Save records evt and reports false when it was already stored.
	Save(ctx context.Context, evt contracts.Event) (bool, error)
}

type Consumer struct {
	Reader  Reader
	Sink    Sink
	Log     *zap.Logger
	Backoff time.Duration
}

// Run consumes until ctx is cancelled. Messages are committed only after the
// sink accepted them; undecodable messages are committed and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("kafka read error", zap.Error(err))
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, log, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("notification save error", zap.Error(err))
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Warn("kafka commit error", zap.Error(err))
		}
	}
}

var errSkip = errors.New("skip")

func (c *Consumer) handle(ctx context.Context, log *zap.Logger, msg kafka.Message) error {
	evt, err := decode(msg.Value)
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		log.Warn("event decode error", zap.Error(err))
		return nil
	}
	fresh, err := c.Sink.Save(ctx, evt)
	if err != nil {
		return err
	}
	status := "emitted"
	if !fresh {
		status = "duplicate"
	}
	logging.Log(log, logging.Fields{OrderID: evt.OrderID, EventID: evt.EventID, Step: evt.Type, Status: status, Message: "notification"})
	return nil
}

func decode(data []byte) (contracts.Event, error) {
	evt, err := contracts.Decode(data)
	if err != nil {
		return contracts.Event{}, err
	}
	if evt.EventID == "" {
		return contracts.Event{}, errSkip
	}
	return evt, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
