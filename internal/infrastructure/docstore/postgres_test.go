package docstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewPostgresStore(db), mock, func() { _ = db.Close() }
}

func TestPostgresGetReturnsDomainNotFound(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT payload FROM raw_contents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetReturnsPayload(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT payload FROM raw_contents").
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow("the payload"))

	got, err := store.Get(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "the payload" {
		t.Fatalf("unexpected payload: %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresSetIgnoresDuplicate(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO raw_contents").
		WithArgs("id-1", "payload", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Set(context.Background(), "id-1", "payload"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLen(t *testing.T) {
	store, mock, done := newStoreWithMock(t)
	defer done()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM raw_contents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := store.Len(context.Background())
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestPostgresLedgerLoadsEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT filename, mtime FROM processed_files").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "mtime"}).
			AddRow("doc.pdf", "100"))

	ledger, err := NewPostgresLedger(context.Background(), db)
	if err != nil {
		t.Fatalf("NewPostgresLedger() error = %v", err)
	}
	if !ledger.IsUpToDate("doc.pdf", "100") {
		t.Fatalf("expected doc.pdf up to date")
	}
	if ledger.IsUpToDate("doc.pdf", "200") {
		t.Fatalf("changed mtime must not be up to date")
	}
}

func TestPostgresLedgerMarkProcessedWritesThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT filename, mtime FROM processed_files").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "mtime"}))

	ledger, err := NewPostgresLedger(context.Background(), db)
	if err != nil {
		t.Fatalf("NewPostgresLedger() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO processed_files").
		WithArgs("doc.pdf", "100", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.MarkProcessed(context.Background(), "doc.pdf", "100"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if !ledger.IsUpToDate("doc.pdf", "100") {
		t.Fatalf("expected cache updated after mark")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLedgerMarkProcessedDBErrorKeepsCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT filename, mtime FROM processed_files").
		WillReturnRows(sqlmock.NewRows([]string{"filename", "mtime"}))

	ledger, err := NewPostgresLedger(context.Background(), db)
	if err != nil {
		t.Fatalf("NewPostgresLedger() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO processed_files").
		WillReturnError(errors.New("connection reset"))

	if err := ledger.MarkProcessed(context.Background(), "doc.pdf", "100"); err == nil {
		t.Fatalf("expected error")
	}
	if ledger.IsUpToDate("doc.pdf", "100") {
		t.Fatalf("failed write must not mark the cache")
	}
}
