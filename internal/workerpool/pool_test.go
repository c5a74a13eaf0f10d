package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/crawlstore/memory"
	"github.com/crawlcore/crawlcore/internal/reference"
)

type countingProcessor struct {
	calls atomic.Int64
	err   error
	// store, when set, receives Processed for each record, as the real
	// processor's finalize step does.
	store crawlstore.Store
}

func (p *countingProcessor) Process(ctx context.Context, rec *crawlstore.Record, _ reference.Mode) error {
	p.calls.Add(1)
	if p.store != nil {
		if err := p.store.Processed(ctx, rec); err != nil {
			return err
		}
	}
	if p.err != nil {
		return p.err
	}
	return nil
}

func TestPoolDrainsQueueAndStops(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c", "d", "e"} {
		if err := store.Queue(ctx, &crawlstore.Record{Reference: ref}); err != nil {
			t.Fatalf("Queue(%q) error = %v", ref, err)
		}
	}

	proc := &countingProcessor{store: store}
	pool := New(store, proc, Config{NumWorkers: 3}, nil)

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := proc.calls.Load(); got != 5 {
		t.Fatalf("processed %d references, want 5", got)
	}
	if active, _ := store.ActiveCount(ctx); active != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after drain", active)
	}
}

func TestPoolRunOnEmptyQueueReturnsImmediately(t *testing.T) {
	store := memory.New()
	proc := &countingProcessor{}
	pool := New(store, proc, Config{NumWorkers: 2}, nil)

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := proc.calls.Load(); got != 0 {
		t.Fatalf("processed %d references on empty queue, want 0", got)
	}
}

func TestPoolStopIsCooperative(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.Queue(ctx, &crawlstore.Record{Reference: "a"}); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}

	proc := &countingProcessor{}
	pool := New(store, proc, Config{NumWorkers: 1}, nil)
	pool.Stop()

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !pool.Stopped() {
		t.Fatalf("Stopped() = false after Stop()")
	}
}

func TestPoolMaxDocumentsCapsProcessing(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		if err := store.Queue(ctx, &crawlstore.Record{Reference: ref}); err != nil {
			t.Fatalf("Queue(%q) error = %v", ref, err)
		}
	}

	proc := &countingProcessor{}
	processedCount := new(atomic.Int64)
	processedCount.Store(1) // already at the cap; the pool itself never increments this counter
	pool := New(store, proc, Config{NumWorkers: 1, MaxDocuments: 1}, processedCount)

	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := proc.calls.Load(); got != 0 {
		t.Fatalf("processed %d references, want 0 once the shared counter already meets MaxDocuments", got)
	}
}

func TestPoolTriggersStopOnProcessorError(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.Queue(ctx, &crawlstore.Record{Reference: "a"}); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if err := store.Queue(ctx, &crawlstore.Record{Reference: "b"}); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}

	wantErr := errors.New("boom")
	proc := &countingProcessor{err: wantErr}
	pool := New(store, proc, Config{NumWorkers: 1}, nil)

	err := pool.Run(ctx)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
	if !pool.Stopped() {
		t.Fatalf("Stopped() = false, want true after a processor error")
	}
}
