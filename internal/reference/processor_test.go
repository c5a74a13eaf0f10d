package reference

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/crawlcore/crawlcore/internal/committer"
	"github.com/crawlcore/crawlcore/internal/crawlerr"
	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/crawlstore/memory"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/plugin"
)

type fakePlugin struct {
	plugin.BasePlugin
	importResp    *plugin.ImportResponse
	importErr     error
	commitErr     error
	commitErrFunc func(reference string) error
}

func (p *fakePlugin) QueuePipeline(context.Context, *crawlstore.Record, crawlstore.Store) error {
	return nil
}

func (p *fakePlugin) ImporterPipeline(context.Context, *plugin.ImportContext) (*plugin.ImportResponse, error) {
	return p.importResp, p.importErr
}

func (p *fakePlugin) CommitterPipeline(_ context.Context, cc *plugin.CommitContext) error {
	if p.commitErrFunc != nil {
		return p.commitErrFunc(cc.Reference)
	}
	return p.commitErr
}

func (p *fakePlugin) WrapDocument(*crawlstore.Record, *document.Document) *document.Document {
	return nil
}

func (p *fakePlugin) CreateEmbeddedCrawlData(childRef string, parent *crawlstore.Record) *crawlstore.Record {
	return &crawlstore.Record{Reference: childRef, ParentRootReference: parent.Reference, Stage: crawlstore.StageQueued}
}

func newTestProcessor(t *testing.T, p plugin.Plugin) (*Processor, crawlstore.Store) {
	t.Helper()
	store := memory.New()
	proc := &Processor{
		CrawlerID:      "test",
		Store:          store,
		Plugin:         p,
		Committer:      committer.Noop{},
		Streams:        document.NewStreamFactory(),
		ProcessedCount: new(atomic.Int64),
	}
	return proc, store
}

func TestProcessNewImportCommitsAndMarksProcessed(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{}}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n, _ := store.ProcessedCount(ctx); n != 1 {
		t.Fatalf("ProcessedCount() = %d, want 1", n)
	}
	if proc.ProcessedCount.Load() != 1 {
		t.Fatalf("processor's shared counter = %d, want 1", proc.ProcessedCount.Load())
	}
}

func TestProcessRejectedImportMarksStateRejected(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{Rejected: true, RejectionCause: "filtered"}}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	it, err := storeSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("storeSnapshot() error = %v", err)
	}
	got, ok := it["https://example.com/a"]
	if !ok {
		t.Fatalf("processed record not found")
	}
	if got.State != crawlstore.StateRejected {
		t.Fatalf("State = %v, want StateRejected", got.State)
	}
}

func TestProcessImporterErrorPropagatesWhenInStopOnExceptions(t *testing.T) {
	p := &fakePlugin{importErr: errors.New("fetch failed")}
	proc, _ := newTestProcessor(t, p)
	proc.StopOnExceptions = []crawlerr.Kind{crawlerr.KindPipeline}
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	err := proc.Process(ctx, rec, ModeNormal)
	if err == nil {
		t.Fatalf("Process() error = nil, want a propagated pipeline error")
	}
	if kind, ok := crawlerr.KindOf(err); !ok || kind != crawlerr.KindPipeline {
		t.Fatalf("KindOf(err) = %v, %v, want KindPipeline", kind, ok)
	}
}

func TestProcessImporterErrorSwallowedWhenNotInStopOnExceptions(t *testing.T) {
	p := &fakePlugin{importErr: errors.New("fetch failed")}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v, want nil since StopOnExceptions is empty", err)
	}
	if n, _ := store.ProcessedCount(ctx); n != 1 {
		t.Fatalf("ProcessedCount() = %d, want 1 even on a swallowed failure", n)
	}
}

func TestProcessCommitterErrorPropagatesWhenInStopOnExceptions(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{}, commitErr: errors.New("commit failed")}
	proc, store := newTestProcessor(t, p)
	proc.StopOnExceptions = []crawlerr.Kind{crawlerr.KindPipeline}
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	err := proc.Process(ctx, rec, ModeNormal)
	if err == nil {
		t.Fatalf("Process() error = nil, want a propagated pipeline error")
	}
	if kind, ok := crawlerr.KindOf(err); !ok || kind != crawlerr.KindPipeline {
		t.Fatalf("KindOf(err) = %v, %v, want KindPipeline", kind, ok)
	}

	// finalize must still have run despite the propagated error.
	if n, _ := store.ProcessedCount(ctx); n != 1 {
		t.Fatalf("ProcessedCount() = %d, want 1: finalize must run even when the error is propagated", n)
	}
}

func TestProcessCommitterErrorSwallowedWhenNotInStopOnExceptions(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{}, commitErr: errors.New("commit failed")}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v, want nil since StopOnExceptions is empty", err)
	}

	snap, err := storeSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("storeSnapshot() error = %v", err)
	}
	got, ok := snap["https://example.com/a"]
	if !ok || got.State != crawlstore.StateError {
		t.Fatalf("State = %+v, want StateError even when the failure is swallowed", got)
	}
}

func TestProcessNestedEmbeddedCommitterErrorPropagatesToParent(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{
		EmbeddedReferences: []plugin.EmbeddedReference{{
			Reference: "https://example.com/b",
			Response:  &plugin.ImportResponse{},
		}},
	}}
	proc, store := newTestProcessor(t, p)
	proc.StopOnExceptions = []crawlerr.Kind{crawlerr.KindPipeline}
	ctx := context.Background()

	// The parent's own commit succeeds; only the nested child's commit
	// fails. The child's failure must still stop the pool.
	p.commitErrFunc = func(ref string) error {
		if ref == "https://example.com/b" {
			return errors.New("commit failed")
		}
		return nil
	}

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	err := proc.Process(ctx, rec, ModeNormal)
	if err == nil {
		t.Fatalf("Process() error = nil, want the nested child's committer error to propagate")
	}
	if kind, ok := crawlerr.KindOf(err); !ok || kind != crawlerr.KindPipeline {
		t.Fatalf("KindOf(err) = %v, %v, want KindPipeline", kind, ok)
	}

	// Both parent and child must still have been finalized.
	if n, _ := store.ProcessedCount(ctx); n != 2 {
		t.Fatalf("ProcessedCount() = %d, want 2: both parent and child finalize despite the propagated error", n)
	}
}

func TestProcessModeOrphanDeleteMarksDeletedWithoutImporting(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{}}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateUnmodified}
	if err := proc.Process(ctx, rec, ModeOrphanDelete); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	snap, err := storeSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("storeSnapshot() error = %v", err)
	}
	got := snap["https://example.com/a"]
	if got.State != crawlstore.StateDeleted {
		t.Fatalf("State = %v, want StateDeleted", got.State)
	}
}

func TestProcessDiscoveredEmbeddedReferenceIsQueuedNotFinalized(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{
		EmbeddedReferences: []plugin.EmbeddedReference{{Reference: "https://example.com/b"}},
	}}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// A bare-discovered reference has not been fetched, so it must be
	// queued for its own independent pass, not finalized as successful.
	queued, err := store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued() error = %v", err)
	}
	if queued == nil || queued.Reference != "https://example.com/b" {
		t.Fatalf("NextQueued() = %+v, want the discovered child queued", queued)
	}

	if n, _ := store.ProcessedCount(ctx); n != 1 {
		t.Fatalf("ProcessedCount() = %d, want 1 (only the parent, the child is still queued)", n)
	}
	if proc.ProcessedCount.Load() != 1 {
		t.Fatalf("processor's shared counter = %d, want 1", proc.ProcessedCount.Load())
	}
}

func TestProcessNestedEmbeddedResponseRecursesToProcessed(t *testing.T) {
	p := &fakePlugin{importResp: &plugin.ImportResponse{
		EmbeddedReferences: []plugin.EmbeddedReference{{
			Reference: "https://example.com/b",
			Response:  &plugin.ImportResponse{},
		}},
	}}
	proc, store := newTestProcessor(t, p)
	ctx := context.Background()

	rec := &crawlstore.Record{Reference: "https://example.com/a", State: crawlstore.StateNew}
	if err := proc.Process(ctx, rec, ModeNormal); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n, _ := store.ProcessedCount(ctx); n != 2 {
		t.Fatalf("ProcessedCount() = %d, want 2 (parent + the nested child)", n)
	}

	snap, err := storeSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("storeSnapshot() error = %v", err)
	}
	child, ok := snap["https://example.com/b"]
	if !ok {
		t.Fatalf("nested embedded response was not processed: %+v", snap)
	}
	if !child.State.IsGoodState() {
		t.Fatalf("child State = %v, want a good state since its nested response was not rejected", child.State)
	}
}

func storeSnapshot(ctx context.Context, store crawlstore.Store) (map[string]*crawlstore.Record, error) {
	if err := store.PrepareRun(ctx, false); err != nil {
		return nil, err
	}
	it, err := store.GetCacheIterator(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make(map[string]*crawlstore.Record)
	for it.Next(ctx) {
		rec := it.Record()
		out[rec.Reference] = rec
	}
	return out, it.Err()
}
