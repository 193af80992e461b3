package notify

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/tx-lab-orders-go/pkg/contracts"
)

type PGSink struct {
	Pool *pgxpool.Pool
}

func (s PGSink) Save(ctx context.Context, evt contracts.Event) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, evt.EventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO notifications(event_id, order_id, type, payload)
		VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`, evt.EventID, evt.OrderID, evt.Type, data)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
