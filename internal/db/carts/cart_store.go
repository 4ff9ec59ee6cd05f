package cartsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sitecart/internal/cart"
)

// Store persists cart documents in Postgres, one row per user and
// site. The document body lives in a JSONB column; Update holds the
// row locked while the merge runs so concurrent syncs from two devices
// serialize instead of clobbering each other.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the carts table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS carts (
			user_id TEXT NOT NULL,
			site_id TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, site_id)
		)`)
	return err
}

// Get returns the stored cart, or an empty document for a new user.
func (s *Store) Get(ctx context.Context, userID, siteID string) (cart.Cart, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc
		FROM carts
		WHERE user_id = $1 AND site_id = $2`,
		userID, siteID,
	)

	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cart.Cart{UserID: userID, SiteID: siteID}, nil
		}
		return cart.Cart{}, err
	}
	return decodeCart(doc, userID, siteID)
}

// Update applies the mutation inside a transaction holding the row
// lock, inserting the row first if this is the user's first sync.
func (s *Store) Update(ctx context.Context, userID, siteID string, apply func(cart.Cart) cart.Cart) (cart.Cart, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cart.Cart{}, err
	}

	updated, err := s.updateInTx(ctx, tx, userID, siteID, apply)
	if err != nil {
		_ = tx.Rollback()
		return cart.Cart{}, err
	}
	if err := tx.Commit(); err != nil {
		return cart.Cart{}, err
	}
	return updated, nil
}

func (s *Store) updateInTx(ctx context.Context, tx *sql.Tx, userID, siteID string, apply func(cart.Cart) cart.Cart) (cart.Cart, error) {
	// Ensure the row exists so FOR UPDATE has something to lock.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carts (user_id, site_id, doc, last_activity_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, site_id) DO NOTHING`,
		userID, siteID, emptyDoc(userID, siteID),
	); err != nil {
		return cart.Cart{}, err
	}

	row := tx.QueryRowContext(ctx, `
		SELECT doc
		FROM carts
		WHERE user_id = $1 AND site_id = $2
		FOR UPDATE`,
		userID, siteID,
	)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return cart.Cart{}, err
	}
	current, err := decodeCart(doc, userID, siteID)
	if err != nil {
		return cart.Cart{}, err
	}

	updated := apply(current)
	updated.UserID = userID
	updated.SiteID = siteID

	encoded, err := json.Marshal(updated)
	if err != nil {
		return cart.Cart{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET doc = $3, last_activity_at = $4, updated_at = $5
		WHERE user_id = $1 AND site_id = $2`,
		userID, siteID, encoded, updated.LastActivityAt, updated.UpdatedAt,
	); err != nil {
		return cart.Cart{}, err
	}
	return updated, nil
}

// Touch bumps last_activity_at for heartbeats, skipping the write when
// the stored activity is already within staleAfter of the ping. The
// WHERE clause does the staleness check so two racing heartbeats cost
// one write.
func (s *Store) Touch(ctx context.Context, userID, siteID string, at time.Time, staleAfter time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE carts
		SET last_activity_at = $3,
		    doc = jsonb_set(doc, '{lastActivityAt}', to_jsonb($3::timestamptz))
		WHERE user_id = $1 AND site_id = $2
		  AND last_activity_at < $4`,
		userID, siteID, at, at.Add(-staleAfter),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func decodeCart(doc []byte, userID, siteID string) (cart.Cart, error) {
	var c cart.Cart
	if err := json.Unmarshal(doc, &c); err != nil {
		return cart.Cart{}, fmt.Errorf("decode cart for user %s: %w", userID, err)
	}
	c.UserID = userID
	c.SiteID = siteID
	return c, nil
}

func emptyDoc(userID, siteID string) []byte {
	doc, _ := json.Marshal(cart.Cart{UserID: userID, SiteID: siteID})
	return doc
}
