package crawlstore

import "context"

// CacheIterator streams the CACHED partition. It is restartable only by
// asking the Store for a fresh iterator; it must stay stable under
// concurrent writes to the other partitions.
type CacheIterator interface {
	// Next advances the iterator and reports whether a record is available.
	Next(ctx context.Context) bool
	// Record returns the record most recently advanced to by Next.
	Record() *Record
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Store is the durable, ordered multi-set partitioned by Stage that the
// scheduler reads and writes. Implementations must make the QUEUED -> ACTIVE
// transition performed by NextQueued atomic: concurrent callers must never
// receive the same record.
type Store interface {
	// Queue places rec in QUEUED. Queueing a reference whose current-run
	// record already exists in QUEUED, ACTIVE or PROCESSED is a no-op.
	Queue(ctx context.Context, rec *Record) error

	// NextQueued atomically moves one QUEUED record to ACTIVE and returns
	// it, or returns (nil, nil) if QUEUED is empty. No two concurrent
	// callers ever receive the same record.
	NextQueued(ctx context.Context) (*Record, error)

	// Processed moves the ACTIVE record for rec.Reference to PROCESSED,
	// overwriting its fields with rec. Must be called only by the worker
	// that claimed it via NextQueued.
	Processed(ctx context.Context, rec *Record) error

	// GetCached returns the prior run's snapshot for reference, or nil if
	// none exists. It never returns a current-run row.
	GetCached(ctx context.Context, reference string) (*Record, error)

	// GetCacheIterator streams the entire CACHED partition.
	GetCacheIterator(ctx context.Context) (CacheIterator, error)

	// ActiveCount returns the number of ACTIVE records.
	ActiveCount(ctx context.Context) (int, error)

	// IsQueueEmpty reports whether QUEUED is empty.
	IsQueueEmpty(ctx context.Context) (bool, error)

	// QueueSize returns the number of QUEUED records (used for progress
	// reporting).
	QueueSize(ctx context.Context) (int, error)

	// ProcessedCount returns the total PROCESSED this run.
	ProcessedCount(ctx context.Context) (int, error)

	// PrepareRun rolls the previous run's PROCESSED partition into CACHED
	// and empties the active side, unless resume is true, in which case
	// QUEUED and ACTIVE carry over and any stranded ACTIVE record is
	// reclassified back to QUEUED (crash recovery).
	PrepareRun(ctx context.Context, resume bool) error

	// Close flushes the store; subsequent operations fail.
	Close(ctx context.Context) error
}
