// Package postgres implements crawlstore.Store on top of Postgres via
// pgx: a pgxpool.Pool wrapped behind a narrow interface so tests can
// swap in a pgxmock pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
)

var validIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// pool is the subset of *pgxpool.Pool the store needs; narrowed so tests
// can substitute a pgxmock pool without pulling in a live database.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgxRow
	Query(ctx context.Context, sql string, args ...any) (pgxRows, error)
}

// pgxRow and pgxRows narrow pgx.Row/pgx.Rows so the pool interface above
// stays mockable without importing pgxmock here.
type pgxRow interface {
	Scan(dest ...any) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// realPool adapts *pgxpool.Pool to the pool interface.
type realPool struct{ *pgxpool.Pool }

func (p realPool) QueryRow(ctx context.Context, sql string, args ...any) pgxRow {
	return p.Pool.QueryRow(ctx, sql, args...)
}

func (p realPool) Query(ctx context.Context, sql string, args ...any) (pgxRows, error) {
	rows, err := p.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Config controls the connection pool and table name used by Store.
type Config struct {
	DSN             string
	CrawlerID       string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store is the durable Postgres-backed crawlstore.Store.
//
// A reference can hold a row on the active side (QUEUED/ACTIVE/PROCESSED)
// and a row on the cache side (the prior run's CACHED snapshot)
// simultaneously, so is_cached is part of the key rather than stage alone;
// two rows per reference coexist the same way the memory store keeps the
// active side and the cache side in separate maps.
//
// Expected schema (created out of band by a migration, not by this
// package):
//
//	CREATE TABLE crawl_records (
//	  crawler_id       text NOT NULL,
//	  ref_key          text NOT NULL,
//	  is_cached        boolean NOT NULL DEFAULT false,
//	  reference        text NOT NULL,
//	  parent_root_ref  text,
//	  is_root_parent   boolean NOT NULL DEFAULT false,
//	  state            text NOT NULL DEFAULT '',
//	  meta_checksum    text,
//	  content_checksum text,
//	  content_type     text,
//	  crawl_date       timestamptz,
//	  stage            text NOT NULL,
//	  depth            integer NOT NULL DEFAULT 0,
//	  PRIMARY KEY (crawler_id, ref_key, is_cached)
//	);
//	CREATE INDEX ON crawl_records (crawler_id, stage);
type Store struct {
	pool      pool
	closer    func()
	table     string
	crawlerID string
}

// New creates a Postgres-backed Store from the given config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("crawlstore/postgres: dsn is required")
	}
	if cfg.CrawlerID == "" {
		return nil, fmt.Errorf("crawlstore/postgres: crawler id is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_records"
	}
	if !validIdent.MatchString(table) {
		return nil, fmt.Errorf("crawlstore/postgres: invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("crawlstore/postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("crawlstore/postgres: connect: %w", err)
	}
	return &Store{
		pool:      realPool{pgxPool},
		closer:    pgxPool.Close,
		table:     table,
		crawlerID: cfg.CrawlerID,
	}, nil
}

// NewWithPool builds a Store over an already-constructed pool, primarily
// for tests using pgxmock.
func NewWithPool(p pool, table, crawlerID string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("crawlstore/postgres: pool is required")
	}
	if table == "" {
		table = "crawl_records"
	}
	if !validIdent.MatchString(table) {
		return nil, fmt.Errorf("crawlstore/postgres: invalid table name %q", table)
	}
	return &Store{pool: p, table: table, crawlerID: crawlerID}, nil
}

// Queue implements crawlstore.Store. Idempotent: an INSERT that conflicts
// with an existing active-side row for the same key is ignored. The
// active-side row is keyed with is_cached=false, so it never conflicts
// with a CACHED snapshot of the same reference left over from a prior run.
func (s *Store) Queue(ctx context.Context, rec *crawlstore.Record) error {
	if rec == nil || rec.Reference == "" {
		return fmt.Errorf("crawlstore/postgres: reference is required")
	}
	key := crawlstore.StoreKey(rec.Reference)
	query := fmt.Sprintf(`
INSERT INTO %s (
	crawler_id, ref_key, is_cached, reference, parent_root_ref, is_root_parent,
	state, meta_checksum, content_checksum, content_type, crawl_date,
	stage, depth
) VALUES ($1,$2,false,$3,$4,$5,$6,$7,$8,$9,$10,'QUEUED',$11)
ON CONFLICT (crawler_id, ref_key, is_cached) DO NOTHING
`, s.table)
	_, err := s.pool.Exec(ctx, query,
		s.crawlerID, key, rec.Reference, nullable(rec.ParentRootReference), rec.IsRootParent,
		string(rec.State), nullable(rec.MetaChecksum), nullable(rec.ContentChecksum),
		nullable(rec.ContentType), nullableTime(rec.CrawlDate), rec.Depth,
	)
	if err != nil {
		return fmt.Errorf("crawlstore/postgres: queue: %w", err)
	}
	return nil
}

// NextQueued implements crawlstore.Store using an UPDATE ... RETURNING
// against a single arbitrarily-chosen QUEUED row as the atomic claim: the
// conditional WHERE stage='QUEUED' combined with Postgres row-level
// locking (the UPDATE acquires a row lock before it commits) ensures two
// concurrent callers never claim the same row.
func (s *Store) NextQueued(ctx context.Context) (*crawlstore.Record, error) {
	query := fmt.Sprintf(`
UPDATE %s SET stage='ACTIVE'
WHERE (crawler_id, ref_key, is_cached) = (
	SELECT crawler_id, ref_key, is_cached FROM %s
	WHERE crawler_id=$1 AND is_cached=false AND stage='QUEUED'
	LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING reference, parent_root_ref, is_root_parent, state,
	meta_checksum, content_checksum, content_type, crawl_date, depth
`, s.table, s.table)
	row := s.pool.QueryRow(ctx, query, s.crawlerID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crawlstore/postgres: next queued: %w", err)
	}
	rec.Stage = crawlstore.StageActive
	return rec, nil
}

// Processed implements crawlstore.Store.
func (s *Store) Processed(ctx context.Context, rec *crawlstore.Record) error {
	if rec == nil || rec.Reference == "" {
		return fmt.Errorf("crawlstore/postgres: reference is required")
	}
	key := crawlstore.StoreKey(rec.Reference)
	query := fmt.Sprintf(`
UPDATE %s SET
	stage='PROCESSED', state=$3, parent_root_ref=$4, is_root_parent=$5,
	meta_checksum=$6, content_checksum=$7, content_type=$8, crawl_date=$9, depth=$10
WHERE crawler_id=$1 AND ref_key=$2 AND is_cached=false
`, s.table)
	_, err := s.pool.Exec(ctx, query,
		s.crawlerID, key, string(rec.State), nullable(rec.ParentRootReference), rec.IsRootParent,
		nullable(rec.MetaChecksum), nullable(rec.ContentChecksum), nullable(rec.ContentType),
		nullableTime(rec.CrawlDate), rec.Depth,
	)
	if err != nil {
		return fmt.Errorf("crawlstore/postgres: processed: %w", err)
	}
	return nil
}

// GetCached implements crawlstore.Store.
func (s *Store) GetCached(ctx context.Context, reference string) (*crawlstore.Record, error) {
	key := crawlstore.StoreKey(reference)
	query := fmt.Sprintf(`
SELECT reference, parent_root_ref, is_root_parent, state,
	meta_checksum, content_checksum, content_type, crawl_date, depth
FROM %s WHERE crawler_id=$1 AND ref_key=$2 AND is_cached=true
`, s.table)
	row := s.pool.QueryRow(ctx, query, s.crawlerID, key)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("crawlstore/postgres: get cached: %w", err)
	}
	rec.Stage = crawlstore.StageCached
	return rec, nil
}

// GetCacheIterator implements crawlstore.Store.
func (s *Store) GetCacheIterator(ctx context.Context) (crawlstore.CacheIterator, error) {
	query := fmt.Sprintf(`
SELECT reference, parent_root_ref, is_root_parent, state,
	meta_checksum, content_checksum, content_type, crawl_date, depth
FROM %s WHERE crawler_id=$1 AND is_cached=true
`, s.table)
	rows, err := s.pool.Query(ctx, query, s.crawlerID)
	if err != nil {
		return nil, fmt.Errorf("crawlstore/postgres: cache iterator: %w", err)
	}
	return &rowIterator{rows: rows}, nil
}

// ActiveCount implements crawlstore.Store.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	return s.countByStage(ctx, "ACTIVE")
}

// IsQueueEmpty implements crawlstore.Store.
func (s *Store) IsQueueEmpty(ctx context.Context) (bool, error) {
	n, err := s.countByStage(ctx, "QUEUED")
	return n == 0, err
}

// QueueSize implements crawlstore.Store.
func (s *Store) QueueSize(ctx context.Context) (int, error) {
	return s.countByStage(ctx, "QUEUED")
}

// ProcessedCount implements crawlstore.Store.
func (s *Store) ProcessedCount(ctx context.Context) (int, error) {
	return s.countByStage(ctx, "PROCESSED")
}

func (s *Store) countByStage(ctx context.Context, stage string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE crawler_id=$1 AND is_cached=false AND stage=$2`, s.table)
	var n int
	if err := s.pool.QueryRow(ctx, query, s.crawlerID, stage).Scan(&n); err != nil {
		return 0, fmt.Errorf("crawlstore/postgres: count %s: %w", stage, err)
	}
	return n, nil
}

// PrepareRun implements crawlstore.Store.
func (s *Store) PrepareRun(ctx context.Context, resume bool) error {
	if !resume {
		// Clear the old cache side first so the PROCESSED->CACHED rollover
		// below never collides with a surviving cached row on (crawler_id,
		// ref_key, is_cached).
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE crawler_id=$1 AND is_cached=true`, s.table),
			s.crawlerID); err != nil {
			return fmt.Errorf("crawlstore/postgres: clear cache: %w", err)
		}
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET stage='CACHED', is_cached=true WHERE crawler_id=$1 AND is_cached=false AND stage='PROCESSED'`, s.table),
			s.crawlerID); err != nil {
			return fmt.Errorf("crawlstore/postgres: roll processed to cached: %w", err)
		}
		// Moving a row to the cache side frees its (crawler_id, ref_key,
		// is_cached=false) slot, so the same reference can be queued again
		// this run without hitting the active-side ON CONFLICT DO NOTHING.
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE crawler_id=$1 AND is_cached=false AND stage IN ('QUEUED','ACTIVE')`, s.table),
			s.crawlerID); err != nil {
			return fmt.Errorf("crawlstore/postgres: clear active side: %w", err)
		}
		return nil
	}
	// Resume: reclassify stranded ACTIVE rows back to QUEUED (crash recovery).
	if _, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET stage='QUEUED' WHERE crawler_id=$1 AND is_cached=false AND stage='ACTIVE'`, s.table),
		s.crawlerID); err != nil {
		return fmt.Errorf("crawlstore/postgres: reclassify active on resume: %w", err)
	}
	return nil
}

// Close implements crawlstore.Store.
func (s *Store) Close(_ context.Context) error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

type rowIterator struct {
	rows pgxRows
	cur  *crawlstore.Record
}

func (it *rowIterator) Next(_ context.Context) bool {
	if !it.rows.Next() {
		return false
	}
	rec, err := scanRowsInto(it.rows)
	if err != nil {
		it.cur = nil
		return false
	}
	rec.Stage = crawlstore.StageCached
	it.cur = rec
	return true
}

func (it *rowIterator) Record() *crawlstore.Record { return it.cur }
func (it *rowIterator) Err() error                 { return it.rows.Err() }
func (it *rowIterator) Close() error                { it.rows.Close(); return nil }

func scanRecord(row pgxRow) (*crawlstore.Record, error) {
	var (
		reference, state                                   string
		parentRoot, metaChecksum, contentChecksum, contentT *string
		isRootParent                                        bool
		crawlDate                                           *time.Time
		depth                                               int
	)
	if err := row.Scan(&reference, &parentRoot, &isRootParent, &state,
		&metaChecksum, &contentChecksum, &contentT, &crawlDate, &depth); err != nil {
		return nil, err
	}
	return recordFromScan(reference, parentRoot, isRootParent, state,
		metaChecksum, contentChecksum, contentT, crawlDate, depth), nil
}

func scanRowsInto(rows pgxRows) (*crawlstore.Record, error) {
	var (
		reference, state                                   string
		parentRoot, metaChecksum, contentChecksum, contentT *string
		isRootParent                                        bool
		crawlDate                                           *time.Time
		depth                                               int
	)
	if err := rows.Scan(&reference, &parentRoot, &isRootParent, &state,
		&metaChecksum, &contentChecksum, &contentT, &crawlDate, &depth); err != nil {
		return nil, err
	}
	return recordFromScan(reference, parentRoot, isRootParent, state,
		metaChecksum, contentChecksum, contentT, crawlDate, depth), nil
}

func recordFromScan(
	reference string,
	parentRoot *string,
	isRootParent bool,
	state string,
	metaChecksum, contentChecksum, contentType *string,
	crawlDate *time.Time,
	depth int,
) *crawlstore.Record {
	rec := &crawlstore.Record{
		Reference:    reference,
		IsRootParent: isRootParent,
		State:        crawlstore.State(state),
		Depth:        depth,
	}
	if parentRoot != nil {
		rec.ParentRootReference = *parentRoot
	}
	if metaChecksum != nil {
		rec.MetaChecksum = *metaChecksum
	}
	if contentChecksum != nil {
		rec.ContentChecksum = *contentChecksum
	}
	if contentType != nil {
		rec.ContentType = *contentType
	}
	if crawlDate != nil {
		rec.CrawlDate = *crawlDate
	}
	return rec
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
