package cartsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"sitecart/internal/cart"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newCartsMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
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

func TestStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newCartsMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS carts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	if _, err := NewStoreWithSchema(context.Background(), db); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestStore_Get_EmptyForNewUser(t *testing.T) {
	db, mock, cleanup := newCartsMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT doc").
		WithArgs("u1", "site-1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))
	mock.ExpectClose()

	store := NewStore(db)
	c, err := store.Get(context.Background(), "u1", "site-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.UserID != "u1" || c.SiteID != "site-1" || c.Version != 0 || len(c.Items) != 0 {
		t.Fatalf("unexpected cart: %+v", c)
	}
}

func TestStore_Update_AppliesUnderRowLock(t *testing.T) {
	db, mock, cleanup := newCartsMockDB(t)
	t.Cleanup(cleanup)

	stored, _ := json.Marshal(cart.Cart{
		UserID:  "u1",
		Version: 3,
		Items:   []cart.Line{{ProductID: "p1", Qty: 1, UpdatedAt: 100}},
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO carts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT doc").
		WithArgs("u1", "").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(stored))
	mock.ExpectExec("UPDATE carts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewStore(db)
	updated, err := store.Update(context.Background(), "u1", "", func(current cart.Cart) cart.Cart {
		if current.Version != 3 {
			t.Fatalf("apply saw version %d, want 3", current.Version)
		}
		current.Version++
		return current
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 4 {
		t.Fatalf("version = %d, want 4", updated.Version)
	}
}

func TestStore_Touch_SkipsFreshActivity(t *testing.T) {
	db, mock, cleanup := newCartsMockDB(t)
	t.Cleanup(cleanup)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE carts").
		WithArgs("u1", "", at, at.Add(-30*time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewStore(db)
	written, err := store.Touch(context.Background(), "u1", "", at, 30*time.Second)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if written {
		t.Fatalf("expected throttled heartbeat to skip the write")
	}
}

func TestStore_Touch_WritesStaleActivity(t *testing.T) {
	db, mock, cleanup := newCartsMockDB(t)
	t.Cleanup(cleanup)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE carts").
		WithArgs("u1", "", at, at.Add(-30*time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewStore(db)
	written, err := store.Touch(context.Background(), "u1", "", at, 30*time.Second)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !written {
		t.Fatalf("expected stale heartbeat to write")
	}
}
