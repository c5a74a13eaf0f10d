package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
)

// mockPool adapts pgxmock's pgx.Row/pgx.Rows return types down to the
// narrow pgxRow/pgxRows interfaces the store depends on, mirroring how
// realPool adapts *pgxpool.Pool for production use.
type mockPool struct {
	pgxmock.PgxPoolIface
}

func (m mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgxRow {
	return m.PgxPoolIface.QueryRow(ctx, sql, args...)
}

func (m mockPool) Query(ctx context.Context, sql string, args ...any) (pgxRows, error) {
	return m.PgxPoolIface.Query(ctx, sql, args...)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mockPool{mock}, "", "crawler-1")
	if err != nil {
		t.Fatalf("NewWithPool() error = %v", err)
	}
	return store, mock
}

func TestQueueInsertsActiveSideRow(t *testing.T) {
	store, mock := newMockStore(t)

	rec := &crawlstore.Record{Reference: "https://example.com/a"}

	mock.ExpectExec("INSERT INTO crawl_records").
		WithArgs("crawler-1", "https://example.com/a", "https://example.com/a",
			(*string)(nil), false, "", (*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Queue(context.Background(), rec); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueueRejectsBlankReference(t *testing.T) {
	store, _ := newMockStore(t)
	if err := store.Queue(context.Background(), &crawlstore.Record{}); err == nil {
		t.Fatal("Queue() with blank reference should error")
	}
}

func TestNextQueuedClaimsActiveSideRowOnly(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"reference", "parent_root_ref", "is_root_parent", "state",
		"meta_checksum", "content_checksum", "content_type", "crawl_date", "depth",
	}).AddRow("https://example.com/a", nil, false, "",
		nil, nil, nil, nil, 0)

	mock.ExpectQuery("UPDATE crawl_records SET stage='ACTIVE'").
		WithArgs("crawler-1").
		WillReturnRows(rows)

	rec, err := store.NextQueued(context.Background())
	if err != nil {
		t.Fatalf("NextQueued() error = %v", err)
	}
	if rec == nil || rec.Reference != "https://example.com/a" {
		t.Fatalf("NextQueued() = %+v, want the claimed record", rec)
	}
	if rec.Stage != crawlstore.StageActive {
		t.Fatalf("NextQueued() Stage = %v, want StageActive", rec.Stage)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNextQueuedReturnsNilWhenEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE crawl_records SET stage='ACTIVE'").
		WithArgs("crawler-1").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.NextQueued(context.Background())
	if err != nil {
		t.Fatalf("NextQueued() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("NextQueued() = %+v, want nil on an empty queue", rec)
	}
}

func TestProcessedScopesUpdateToActiveSide(t *testing.T) {
	store, mock := newMockStore(t)

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}

	mock.ExpectExec("UPDATE crawl_records SET").
		WithArgs("crawler-1", "https://example.com/a", "NEW", (*string)(nil), false, (*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Processed(context.Background(), rec); err != nil {
		t.Fatalf("Processed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrepareRunFreshRollsProcessedToCacheThenClearsActiveSide(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM crawl_records WHERE crawler_id=\\$1 AND is_cached=true").
		WithArgs("crawler-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("UPDATE crawl_records SET stage='CACHED', is_cached=true").
		WithArgs("crawler-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM crawl_records WHERE crawler_id=\\$1 AND is_cached=false AND stage IN").
		WithArgs("crawler-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := store.PrepareRun(context.Background(), false); err != nil {
		t.Fatalf("PrepareRun(false) error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrepareRunResumeReclassifiesActiveToQueued(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_records SET stage='QUEUED' WHERE crawler_id=\\$1 AND is_cached=false AND stage='ACTIVE'").
		WithArgs("crawler-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	if err := store.PrepareRun(context.Background(), true); err != nil {
		t.Fatalf("PrepareRun(true) error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCachedReadsCacheSideOnly(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"reference", "parent_root_ref", "is_root_parent", "state",
		"meta_checksum", "content_checksum", "content_type", "crawl_date", "depth",
	}).AddRow("https://example.com/a", nil, false, "UNMODIFIED",
		nil, nil, nil, nil, 0)

	mock.ExpectQuery("FROM crawl_records WHERE crawler_id=\\$1 AND ref_key=\\$2 AND is_cached=true").
		WithArgs("crawler-1", "https://example.com/a").
		WillReturnRows(rows)

	rec, err := store.GetCached(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("GetCached() error = %v", err)
	}
	if rec == nil || rec.Stage != crawlstore.StageCached {
		t.Fatalf("GetCached() = %+v, want a StageCached record", rec)
	}
}

func TestNewWithPoolRejectsInvalidTableName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	if _, err := NewWithPool(mockPool{mock}, "bad; table", "crawler-1"); err == nil {
		t.Fatal("NewWithPool() with an invalid table name should error")
	}
}
