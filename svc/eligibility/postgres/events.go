package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paygate/pkg/pg"
)

// EventLog records processed webhook event ids in processed_events.
// A pending claim older than the TTL is treated as abandoned and can be
// claimed again.
type EventLog struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewEventLog returns an event log whose unfinished claims expire after ttl.
func NewEventLog(pool *pgxpool.Pool, ttl time.Duration) *EventLog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EventLog{pool: pool, ttl: ttl}
}

// Claim inserts the event id if absent. It reports false when the event is
// already done or another worker holds a live claim.
func (l *EventLog) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
INSERT INTO processed_events (event_id, event_type)
VALUES ($1, $2)
ON CONFLICT (event_id) DO UPDATE
SET claimed_at = NOW(), event_type = EXCLUDED.event_type
WHERE processed_events.status = 'pending'
  AND processed_events.claimed_at < NOW() - make_interval(secs => $3)
RETURNING event_id`
	var id string
	err := l.pool.QueryRow(ctx, query, eventID, eventType, l.ttl.Seconds()).Scan(&id)
	if pg.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, nil)
	}
	return true, nil
}

// Complete marks the event processed for good.
func (l *EventLog) Complete(ctx context.Context, eventID string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE processed_events SET status = 'done', completed_at = NOW() WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return storeErr(err, nil)
	}
	return nil
}

// Release forgets an unfinished claim so a redelivery is processed again.
func (l *EventLog) Release(ctx context.Context, eventID string) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE event_id = $1 AND status = 'pending'`,
		eventID,
	)
	if err != nil {
		return storeErr(err, nil)
	}
	return nil
}
