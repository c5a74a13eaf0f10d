package orphan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/crawlstore/memory"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/plugin"
	"github.com/crawlcore/crawlcore/internal/reference"
)

type acceptAllPlugin struct {
	plugin.BasePlugin
	rejectRef string
}

func (p *acceptAllPlugin) QueuePipeline(_ context.Context, rec *crawlstore.Record, _ crawlstore.Store) error {
	if rec.Reference == p.rejectRef {
		return errors.New("rejected")
	}
	return nil
}
func (p *acceptAllPlugin) ImporterPipeline(context.Context, *plugin.ImportContext) (*plugin.ImportResponse, error) {
	return &plugin.ImportResponse{}, nil
}
func (p *acceptAllPlugin) CommitterPipeline(context.Context, *plugin.CommitContext) error { return nil }
func (p *acceptAllPlugin) WrapDocument(*crawlstore.Record, *document.Document) *document.Document {
	return nil
}
func (p *acceptAllPlugin) CreateEmbeddedCrawlData(childRef string, parent *crawlstore.Record) *crawlstore.Record {
	return &crawlstore.Record{Reference: childRef}
}

type recordingProcessor struct {
	refs []string
	mode reference.Mode
	// store, when set, receives Processed for each record, as the real
	// processor's finalize step does.
	store crawlstore.Store
}

func (p *recordingProcessor) Process(ctx context.Context, rec *crawlstore.Record, mode reference.Mode) error {
	p.refs = append(p.refs, rec.Reference)
	p.mode = mode
	if p.store != nil {
		return p.store.Processed(ctx, rec)
	}
	return nil
}

func seedCached(t *testing.T, store *memory.Store, refs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, ref := range refs {
		if err := store.Queue(ctx, &crawlstore.Record{Reference: ref}); err != nil {
			t.Fatalf("Queue(%q) error = %v", ref, err)
		}
		rec, err := store.NextQueued(ctx)
		if err != nil || rec == nil {
			t.Fatalf("NextQueued(%q) = %v, %v", ref, rec, err)
		}
		rec.State = crawlstore.StateUnmodified
		if err := store.Processed(ctx, rec); err != nil {
			t.Fatalf("Processed(%q) error = %v", ref, err)
		}
	}
	if err := store.PrepareRun(ctx, false); err != nil {
		t.Fatalf("PrepareRun() error = %v", err)
	}
}

func TestResolverIgnoreStrategyIsNoop(t *testing.T) {
	store := memory.New()
	seedCached(t, store, "https://example.com/a")

	r := &Resolver{Store: store, Strategy: StrategyIgnore, NumWorkers: 1}
	if err := r.Run(context.Background(), new(atomic.Int64)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n, _ := store.QueueSize(context.Background()); n != 0 {
		t.Fatalf("QueueSize() = %d, want 0 under IGNORE", n)
	}
}

func TestResolverDeleteStrategyProcessesEveryOrphan(t *testing.T) {
	store := memory.New()
	seedCached(t, store, "https://example.com/a", "https://example.com/b")

	proc := &recordingProcessor{store: store}
	r := &Resolver{Store: store, Plugin: &acceptAllPlugin{}, Processor: proc, Strategy: StrategyDelete, NumWorkers: 1}
	if err := r.Run(context.Background(), new(atomic.Int64)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.refs) != 2 {
		t.Fatalf("processed %d orphans, want 2: %v", len(proc.refs), proc.refs)
	}
	if proc.mode != reference.ModeOrphanDelete {
		t.Fatalf("mode = %v, want ModeOrphanDelete", proc.mode)
	}
}

func TestResolverProcessStrategyFiltersThroughQueuePipeline(t *testing.T) {
	store := memory.New()
	seedCached(t, store, "https://example.com/a", "https://example.com/blocked")

	proc := &recordingProcessor{store: store}
	r := &Resolver{
		Store:     store,
		Plugin:    &acceptAllPlugin{rejectRef: "https://example.com/blocked"},
		Processor: proc,
		Strategy:  StrategyProcess,
		NumWorkers: 1,
	}
	if err := r.Run(context.Background(), new(atomic.Int64)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.refs) != 1 || proc.refs[0] != "https://example.com/a" {
		t.Fatalf("processed = %v, want only the non-blocked reference", proc.refs)
	}
}

func TestResolverSkipsPassWhenMaxDocumentsReached(t *testing.T) {
	store := memory.New()
	seedCached(t, store, "https://example.com/a")

	proc := &recordingProcessor{}
	r := &Resolver{Store: store, Plugin: &acceptAllPlugin{}, Processor: proc, Strategy: StrategyProcess, NumWorkers: 1, MaxDocuments: 1}

	processedCount := new(atomic.Int64)
	processedCount.Store(1)
	if err := r.Run(context.Background(), processedCount); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.refs) != 0 {
		t.Fatalf("processed = %v, want none once MaxDocuments is already reached", proc.refs)
	}
}

func TestResolverDoesNotRetouchReferencesReseenThisRun(t *testing.T) {
	store := memory.New()
	seedCached(t, store, "https://example.com/a", "https://example.com/b")

	// Simulate the main pass re-seeing and re-processing "a" this run
	// (e.g. via a link cycle) before the orphan pass runs. "a" is no
	// longer an orphan: the glossary defines an orphan as a cache entry
	// not re-seen in the current run.
	ctx := context.Background()
	if err := store.Queue(ctx, &crawlstore.Record{Reference: "https://example.com/a"}); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	rec, err := store.NextQueued(ctx)
	if err != nil || rec == nil {
		t.Fatalf("NextQueued() = %v, %v", rec, err)
	}
	rec.State = crawlstore.StateUnmodified
	if err := store.Processed(ctx, rec); err != nil {
		t.Fatalf("Processed() error = %v", err)
	}

	proc := &recordingProcessor{store: store}
	r := &Resolver{Store: store, Plugin: &acceptAllPlugin{}, Processor: proc, Strategy: StrategyDelete, NumWorkers: 1}
	if err := r.Run(ctx, new(atomic.Int64)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.refs) != 1 || proc.refs[0] != "https://example.com/b" {
		t.Fatalf("processed = %v, want only the genuine orphan (b), not the reseen reference (a)", proc.refs)
	}
}

func TestResolverUnknownStrategyErrors(t *testing.T) {
	r := &Resolver{Strategy: "BOGUS"}
	if err := r.Run(context.Background(), new(atomic.Int64)); err == nil {
		t.Fatalf("Run() error = nil, want an error for an unrecognized strategy")
	}
}
