package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	otelx "github.com/md-rashed-zaman/pestledger/libs/otel"
)

// Append stores evt in tx, so the event exists exactly when the change
// that produced it commits. The caller's trace is stored alongside.
func Append(ctx context.Context, tx pgx.Tx, evt Event) error {
	carrier, err := json.Marshal(otelx.CaptureTrace(ctx))
	if err != nil {
		return fmt.Errorf("encode trace carrier: %w", err)
	}
	if string(carrier) == "null" {
		carrier = []byte("{}")
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox_events (event_id, appointment_id, topic, payload, trace_carrier)
		 VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.AppointmentID, evt.Topic, evt.Payload, carrier)
	return err
}

// queued is an outbox row waiting to be relayed.
type queued struct {
	seq   int64
	event Event
	trace map[string]string
}

// claim locks up to limit unrelayed rows, oldest first. Rows locked by a
// concurrent relay are skipped rather than waited on.
func claim(ctx context.Context, tx pgx.Tx, limit int) ([]queued, error) {
	rows, err := tx.Query(ctx,
		`SELECT seq, event_id, appointment_id, topic, payload, trace_carrier
		 FROM outbox_events
		 WHERE relayed_at IS NULL
		 ORDER BY seq
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queued
	for rows.Next() {
		var (
			q       queued
			carrier []byte
		)
		if err := rows.Scan(&q.seq, &q.event.ID, &q.event.AppointmentID, &q.event.Topic, &q.event.Payload, &carrier); err != nil {
			return nil, err
		}
		if len(carrier) > 0 {
			if err := json.Unmarshal(carrier, &q.trace); err != nil {
				return nil, fmt.Errorf("outbox row %d: decode trace carrier: %w", q.seq, err)
			}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func markRelayed(ctx context.Context, tx pgx.Tx, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE outbox_events SET relayed_at = $2 WHERE seq = ANY($1)`, seqs, at)
	return err
}
