package ordersdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sitecart/internal/orders"
)

// Store persists orders and inventory levels in Postgres. Order
// documents keep their line items and status history as JSONB; the
// inventory counters are plain columns so decrements can be expressed
// as single UPDATE statements.
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

// InitSchema creates order tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL DEFAULT '',
			lifecycle TEXT NOT NULL,
			status TEXT NOT NULL,
			items JSONB NOT NULL DEFAULT '[]',
			history JSONB NOT NULL DEFAULT '[]',
			refunded_cents BIGINT NOT NULL DEFAULT 0,
			adjustments JSONB NOT NULL DEFAULT '[]',
			payment_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS orders_expiry_idx
			ON orders (lifecycle, created_at)`,
		`CREATE TABLE IF NOT EXISTS inventory_levels (
			product_id TEXT NOT NULL,
			variant_id TEXT NOT NULL DEFAULT '',
			stock BIGINT NOT NULL DEFAULT 0,
			reserved BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (product_id, variant_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

const orderColumns = `id, seller_id, buyer_id, lifecycle, status, items, history,
	refunded_cents, adjustments, payment_ref, created_at, updated_at`

// Get returns the order without locking it.
func (s *Store) Get(ctx context.Context, orderID string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`,
		orderID,
	)
	return scanOrder(row)
}

// Fulfill decrements inventory and transitions the order inside one
// transaction, holding the order row locked throughout.
func (s *Store) Fulfill(ctx context.Context, orderID string, now time.Time) (orders.Order, bool, error) {
	var out orders.Order
	var already bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Lifecycle == orders.StatusFulfilled {
			out, already = order, true
			return nil
		}
		if order.Lifecycle != orders.StatusPaid {
			return orders.ErrNotPaid
		}

		for _, line := range order.Items {
			if err := decrementLevels(ctx, tx, line); err != nil {
				return err
			}
		}

		order.History = orders.AppendHistory(order.History, orders.HistoryEntry{
			From: order.Lifecycle, To: orders.StatusFulfilled, At: now,
		})
		order.Lifecycle = orders.StatusFulfilled
		order.Status = orders.ExternalStatus(orders.StatusFulfilled)
		order.UpdatedAt = now

		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, already, err
}

// RecordRefund adds to the cumulative refunded total and appends a
// history entry carrying the gateway refund id.
func (s *Store) RecordRefund(ctx context.Context, orderID string, amountCents int64, refundID string, now time.Time) (orders.Order, error) {
	var out orders.Order

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		// Refunds only reclassify paid orders; a fulfilled order
		// stays fulfilled so re-entrant fulfills still short-circuit.
		target := order.Lifecycle
		if order.Lifecycle == orders.StatusPaid {
			target = orders.StatusRefundedPartial
		}
		order.RefundedCents += amountCents
		order.History = orders.AppendHistory(order.History, orders.HistoryEntry{
			From: order.Lifecycle, To: target, At: now,
			Note: "refund " + refundID, RefundCents: amountCents,
		})
		order.Lifecycle = target
		order.Status = orders.ExternalStatus(target)
		order.UpdatedAt = now

		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

// ApplyStatusUpdate applies a seller-initiated mutation. A history
// entry is always appended.
func (s *Store) ApplyStatusUpdate(ctx context.Context, orderID string, update orders.StatusUpdate, now time.Time) (orders.Order, error) {
	var out orders.Order

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		target := order.Lifecycle
		if update.Lifecycle != nil {
			target = *update.Lifecycle
		}
		entry := orders.HistoryEntry{
			From: order.Lifecycle, To: target, At: now, Note: update.Note,
		}
		if update.RefundCents > 0 {
			order.RefundedCents += update.RefundCents
			entry.RefundCents = update.RefundCents
		}
		order.History = orders.AppendHistory(order.History, entry)
		order.Lifecycle = target
		order.Status = orders.ExternalStatus(target)
		for _, adj := range update.Adjustments {
			adj.At = now
			order.Adjustments = append(order.Adjustments, adj)
		}
		order.UpdatedAt = now

		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

// ExpireCandidates returns ids of orders still pending payment created
// before the cutoff, oldest first.
func (s *Store) ExpireCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE lifecycle = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		orders.StatusPendingPayment, cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Expire re-validates the pending condition under the row lock,
// releases each line's reservation, and transitions to expired.
func (s *Store) Expire(ctx context.Context, orderID string, cutoff time.Time, now time.Time) (orders.Order, bool, error) {
	var out orders.Order
	var expired bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Lifecycle != orders.StatusPendingPayment || !order.CreatedAt.Before(cutoff) {
			// Paid between the scan and the lock: leave it alone.
			out = order
			return nil
		}

		for _, line := range order.Items {
			if err := releaseReservation(ctx, tx, line); err != nil {
				return err
			}
		}

		order.History = orders.AppendHistory(order.History, orders.HistoryEntry{
			From: order.Lifecycle, To: orders.StatusExpired, At: now,
			Note: "reservation expired",
		})
		order.Lifecycle = orders.StatusExpired
		order.Status = orders.ExternalStatus(orders.StatusExpired)
		order.UpdatedAt = now

		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		out, expired = order, true
		return nil
	})
	return out, expired, err
}

// SetLevels upserts the stock counters for a product or variant.
func (s *Store) SetLevels(ctx context.Context, productID, variantID string, stock, reserved int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_levels (product_id, variant_id, stock, reserved, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (product_id, variant_id)
		DO UPDATE SET stock = $3, reserved = $4, updated_at = NOW()`,
		productID, variantID, stock, reserved,
	)
	return err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// decrementLevels floors both counters at zero in SQL so a partial
// release never drives them negative. A variant row is preferred;
// when none exists the base product row absorbs the decrement, and a
// deleted product is skipped entirely.
func decrementLevels(ctx context.Context, tx *sql.Tx, line orders.LineItem) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_levels
		SET stock = GREATEST(stock - $3, 0),
		    reserved = GREATEST(reserved - $3, 0),
		    updated_at = NOW()
		WHERE product_id = $1 AND variant_id = $2`,
		line.ProductID, line.VariantID, line.Qty,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 || line.VariantID == "" {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_levels
		SET stock = GREATEST(stock - $2, 0),
		    reserved = GREATEST(reserved - $2, 0),
		    updated_at = NOW()
		WHERE product_id = $1 AND variant_id = ''`,
		line.ProductID, line.Qty,
	)
	return err
}

// releaseReservation frees reserved units only; stock was never taken
// for an unpaid order.
func releaseReservation(ctx context.Context, tx *sql.Tx, line orders.LineItem) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_levels
		SET reserved = GREATEST(reserved - $3, 0),
		    updated_at = NOW()
		WHERE product_id = $1 AND variant_id = $2`,
		line.ProductID, line.VariantID, line.Qty,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 || line.VariantID == "" {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_levels
		SET reserved = GREATEST(reserved - $2, 0),
		    updated_at = NOW()
		WHERE product_id = $1 AND variant_id = ''`,
		line.ProductID, line.Qty,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (orders.Order, error) {
	var order orders.Order
	var items, history, adjustments []byte

	err := row.Scan(
		&order.ID, &order.SellerID, &order.BuyerID,
		&order.Lifecycle, &order.Status,
		&items, &history,
		&order.RefundedCents, &adjustments, &order.PaymentRef,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return orders.Order{}, fmt.Errorf("decode items for order %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(history, &order.History); err != nil {
		return orders.Order{}, fmt.Errorf("decode history for order %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(adjustments, &order.Adjustments); err != nil {
		return orders.Order{}, fmt.Errorf("decode adjustments for order %s: %w", order.ID, err)
	}
	return order, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (orders.Order, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE`,
		orderID,
	)
	return scanOrder(row)
}

func saveOrder(ctx context.Context, tx *sql.Tx, order orders.Order) error {
	history, err := json.Marshal(order.History)
	if err != nil {
		return err
	}
	adjustments, err := json.Marshal(order.Adjustments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET lifecycle = $2, status = $3, history = $4,
		    refunded_cents = $5, adjustments = $6, updated_at = $7
		WHERE id = $1`,
		order.ID, order.Lifecycle, order.Status, history,
		order.RefundedCents, adjustments, order.UpdatedAt,
	)
	return err
}

// Insert stores a new order document. Line items are immutable after
// insert; mutators only touch lifecycle, history and refund columns.
func (s *Store) Insert(ctx context.Context, order orders.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	history, err := json.Marshal(order.History)
	if err != nil {
		return err
	}
	adjustments, err := json.Marshal(order.Adjustments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, seller_id, buyer_id, lifecycle, status, items,
			history, refunded_cents, adjustments, payment_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.SellerID, order.BuyerID, order.Lifecycle, order.Status,
		items, history, order.RefundedCents, adjustments, order.PaymentRef,
		order.CreatedAt, order.UpdatedAt,
	)
	return err
}
