package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitecart/internal/idempotency"
)

// IdempotencyStore persists idempotency records in Postgres. Claiming
// a key is a single INSERT ... ON CONFLICT statement whose conditional
// UPDATE takes over failed and expired records; RowsAffected reports
// whether this caller won the claim.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore constructs an IdempotencyStore backed by Postgres.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// NewIdempotencyStoreWithSchema initializes the schema then returns the store.
func NewIdempotencyStoreWithSchema(ctx context.Context, db *sql.DB) (*IdempotencyStore, error) {
	store := NewIdempotencyStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the idempotency table if it does not exist.
func (s *IdempotencyStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			response BYTEA,
			error_msg TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// Begin claims the key or returns the live record that holds it.
func (s *IdempotencyStore) Begin(ctx context.Context, key string, now time.Time, ttl time.Duration) (idempotency.Record, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, status, response, error_msg, created_at, expires_at)
		VALUES ($1, $2, NULL, '', $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET status = $2, response = NULL, error_msg = '', created_at = $3, expires_at = $4
		WHERE idempotency_keys.status = $5 OR idempotency_keys.expires_at <= $3`,
		key, idempotency.StatusInProgress, now, now.Add(ttl), idempotency.StatusFailed,
	)
	if err != nil {
		return idempotency.Record{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return idempotency.Record{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT key, status, response, error_msg, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1`,
		key,
	)

	var record idempotency.Record
	var response []byte
	if err := row.Scan(&record.Key, &record.Status, &response, &record.ErrorMsg,
		&record.CreatedAt, &record.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return idempotency.Record{}, false, fmt.Errorf("idempotency record not found after claim")
		}
		return idempotency.Record{}, false, err
	}
	record.Response = response

	return record, affected == 1, nil
}

// Complete stores the response payload against the key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response = $3
		WHERE key = $1`,
		key, idempotency.StatusCompleted, response,
	)
	return err
}

// Fail marks the attempt failed so a retry may claim the key.
func (s *IdempotencyStore) Fail(ctx context.Context, key string, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, error_msg = $3
		WHERE key = $1`,
		key, idempotency.StatusFailed, message,
	)
	return err
}

// PurgeExpired deletes records past their expiry, returning how many
// rows went away. Called opportunistically from the reaper loop.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE expires_at <= $1 AND status <> $2`,
		now, idempotency.StatusInProgress,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
