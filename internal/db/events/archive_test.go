package eventsdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"sitecart/internal/events"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newArchiveMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func TestPostgresArchive_InitSchema(t *testing.T) {
	db, mock, cleanup := newArchiveMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS order_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	archive := NewPostgresArchive(db)
	if err := archive.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestPostgresArchive_Publish_InsertsRow(t *testing.T) {
	db, mock, cleanup := newArchiveMockDB(t)
	t.Cleanup(cleanup)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO order_events").
		WithArgs("evt-1", events.TypeOrderRefunded, "ord-1", "seller-1", "refunded-partial", int64(500), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	archive := NewPostgresArchive(db)
	err := archive.Publish(context.Background(), events.Event{
		ID:          "evt-1",
		Type:        events.TypeOrderRefunded,
		OrderID:     "ord-1",
		SellerID:    "seller-1",
		Status:      "refunded-partial",
		RefundCents: 500,
		At:          at,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPostgresArchive_Recent(t *testing.T) {
	db, mock, cleanup := newArchiveMockDB(t)
	t.Cleanup(cleanup)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, event_type").
		WithArgs("ord-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "order_id", "seller_id", "status", "refund_cents", "occurred_at",
		}).AddRow("evt-2", events.TypeOrderFulfilled, "ord-1", "seller-1", "fulfilled", int64(0), at))
	mock.ExpectClose()

	archive := NewPostgresArchive(db)
	got, err := archive.Recent(context.Background(), "ord-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Type != events.TypeOrderFulfilled {
		t.Fatalf("events = %+v", got)
	}
}
