// Package memory provides an in-memory crawlstore.Store for development,
// tests, and any specialization that does not need cross-run durability.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
)

type row struct {
	key    string
	record *crawlstore.Record
}

// Store is a mutex-guarded, map-backed crawlstore.Store. It keeps one map
// per stage so NextQueued's claim is a single critical section: pop from
// queued, insert into active, all under the same lock.
type Store struct {
	mu        sync.Mutex
	queued    map[string]*row
	active    map[string]*row
	processed map[string]*row
	cached    map[string]*row
	queueFIFO []string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		queued:    make(map[string]*row),
		active:    make(map[string]*row),
		processed: make(map[string]*row),
		cached:    make(map[string]*row),
	}
}

// Queue implements crawlstore.Store. Idempotent against the whole
// active side (queued, active, and processed), not just queued/active:
// a reference already in PROCESSED this run must not be re-queued, the
// same way Postgres's ON CONFLICT on the active-side key no-ops against
// an existing PROCESSED row.
func (s *Store) Queue(_ context.Context, rec *crawlstore.Record) error {
	if rec == nil || rec.Reference == "" {
		return fmt.Errorf("crawlstore: reference is required")
	}
	key := crawlstore.StoreKey(rec.Reference)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queued[key]; ok {
		return nil // idempotent no-op
	}
	if _, ok := s.active[key]; ok {
		return nil
	}
	if _, ok := s.processed[key]; ok {
		return nil
	}
	clone := rec.Clone()
	clone.Stage = crawlstore.StageQueued
	s.queued[key] = &row{key: key, record: clone}
	s.queueFIFO = append(s.queueFIFO, key)
	return nil
}

// NextQueued implements crawlstore.Store. The pop-and-promote happens
// under a single lock, which is the atomic claim point.
func (s *Store) NextQueued(_ context.Context) (*crawlstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queueFIFO) > 0 {
		key := s.queueFIFO[0]
		s.queueFIFO = s.queueFIFO[1:]
		r, ok := s.queued[key]
		if !ok {
			continue // was removed by a raw re-queue path; skip stale entry
		}
		delete(s.queued, key)
		r.record.Stage = crawlstore.StageActive
		s.active[key] = r
		return r.record.Clone(), nil
	}
	return nil, nil
}

// Processed implements crawlstore.Store.
func (s *Store) Processed(_ context.Context, rec *crawlstore.Record) error {
	if rec == nil || rec.Reference == "" {
		return fmt.Errorf("crawlstore: reference is required")
	}
	key := crawlstore.StoreKey(rec.Reference)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
	clone := rec.Clone()
	clone.Stage = crawlstore.StageProcessed
	s.processed[key] = &row{key: key, record: clone}
	return nil
}

// GetCached implements crawlstore.Store.
func (s *Store) GetCached(_ context.Context, reference string) (*crawlstore.Record, error) {
	key := crawlstore.StoreKey(reference)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cached[key]
	if !ok {
		return nil, nil
	}
	return r.record.Clone(), nil
}

// GetCacheIterator implements crawlstore.Store.
func (s *Store) GetCacheIterator(_ context.Context) (crawlstore.CacheIterator, error) {
	s.mu.Lock()
	snapshot := make([]*crawlstore.Record, 0, len(s.cached))
	for _, r := range s.cached {
		snapshot = append(snapshot, r.record.Clone())
	}
	s.mu.Unlock()
	return &sliceIterator{records: snapshot, pos: -1}, nil
}

// ActiveCount implements crawlstore.Store.
func (s *Store) ActiveCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), nil
}

// IsQueueEmpty implements crawlstore.Store.
func (s *Store) IsQueueEmpty(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued) == 0, nil
}

// QueueSize implements crawlstore.Store.
func (s *Store) QueueSize(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued), nil
}

// ProcessedCount implements crawlstore.Store.
func (s *Store) ProcessedCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed), nil
}

// PrepareRun implements crawlstore.Store. On a fresh run, PROCESSED rolls
// into CACHED and ACTIVE/QUEUED are emptied. On resume, any stranded
// ACTIVE record (from a crashed prior invocation) is reclassified back to
// QUEUED, and QUEUED itself carries over untouched.
func (s *Store) PrepareRun(_ context.Context, resume bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !resume {
		s.cached = s.processed
		s.processed = make(map[string]*row)
		s.active = make(map[string]*row)
		s.queued = make(map[string]*row)
		s.queueFIFO = nil
		return nil
	}
	for key, r := range s.active {
		r.record.Stage = crawlstore.StageQueued
		s.queued[key] = r
		s.queueFIFO = append(s.queueFIFO, key)
	}
	s.active = make(map[string]*row)
	return nil
}

// Close implements crawlstore.Store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

type sliceIterator struct {
	records []*crawlstore.Record
	pos     int
}

func (it *sliceIterator) Next(_ context.Context) bool {
	it.pos++
	return it.pos < len(it.records)
}

func (it *sliceIterator) Record() *crawlstore.Record {
	if it.pos < 0 || it.pos >= len(it.records) {
		return nil
	}
	return it.records[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
