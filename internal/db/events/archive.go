package eventsdb

import (
	"context"
	"database/sql"
	"time"

	"sitecart/internal/events"
)

// PostgresArchive persists order lifecycle events as append-only rows.
// It sits behind the fanout publisher so every event that reaches the
// realtime and broker sinks also lands in a queryable audit table.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive constructs an archive backed by Postgres.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// NewPostgresArchiveWithSchema initializes the schema then returns the archive.
func NewPostgresArchiveWithSchema(ctx context.Context, db *sql.DB) (*PostgresArchive, error) {
	archive := NewPostgresArchive(db)
	if err := archive.InitSchema(ctx); err != nil {
		return nil, err
	}
	return archive, nil
}

// InitSchema creates the order_events table if it does not exist.
func (a *PostgresArchive) InitSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			order_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			status TEXT NOT NULL,
			refund_cents BIGINT NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// Publish inserts one event row. Replays of the same event id are
// dropped rather than erroring, since fanout retries may re-deliver.
func (a *PostgresArchive) Publish(ctx context.Context, event events.Event) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO order_events (id, event_type, order_id, seller_id, status, refund_cents, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Type, event.OrderID, event.SellerID, event.Status, event.RefundCents, event.At.UTC())
	return err
}

// Recent returns the newest events for an order, newest first.
func (a *PostgresArchive) Recent(ctx context.Context, orderID string, limit int) ([]events.Event, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, event_type, order_id, seller_id, status, refund_cents, occurred_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var evt events.Event
		var at time.Time
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.OrderID, &evt.SellerID,
			&evt.Status, &evt.RefundCents, &at); err != nil {
			return nil, err
		}
		evt.At = at
		out = append(out, evt)
	}
	return out, rows.Err()
}
