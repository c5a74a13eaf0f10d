package engine

import (
	"context"
	"os"
	"testing"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/crawlstore/memory"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/orphan"
	"github.com/crawlcore/crawlcore/internal/plugin"
)

type fakePlugin struct {
	plugin.BasePlugin
	queued []string
}

func (p *fakePlugin) QueuePipeline(context.Context, *crawlstore.Record, crawlstore.Store) error {
	return nil
}

func (p *fakePlugin) ImporterPipeline(_ context.Context, pctx *plugin.ImportContext) (*plugin.ImportResponse, error) {
	p.queued = append(p.queued, pctx.Reference)
	return &plugin.ImportResponse{}, nil
}

func (p *fakePlugin) CommitterPipeline(context.Context, *plugin.CommitContext) error { return nil }

func (p *fakePlugin) WrapDocument(*crawlstore.Record, *document.Document) *document.Document {
	return nil
}

func (p *fakePlugin) CreateEmbeddedCrawlData(childRef string, parent *crawlstore.Record) *crawlstore.Record {
	return &crawlstore.Record{Reference: childRef, ParentRootReference: parent.Reference}
}

func TestEngineRunProcessesQueuedReferences(t *testing.T) {
	dir := t.TempDir()
	store := memory.New()
	ctx := context.Background()
	for _, ref := range []string{"https://example.com/a", "https://example.com/b"} {
		if err := store.Queue(ctx, &crawlstore.Record{Reference: ref}); err != nil {
			t.Fatalf("Queue(%q) error = %v", ref, err)
		}
	}

	p := &fakePlugin{}
	eng := New(Config{
		ID:              "run-1",
		WorkDir:         dir,
		NumThreads:      2,
		Resume:          true,
		OrphansStrategy: orphan.StrategyIgnore,
	}, Deps{Store: store, Plugin: p})

	if err := eng.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if eng.ProcessedCount() != 2 {
		t.Fatalf("ProcessedCount() = %d, want 2", eng.ProcessedCount())
	}
	if len(p.queued) != 2 {
		t.Fatalf("ImporterPipeline invoked %d times, want 2", len(p.queued))
	}
	if eng.CrawlerID() != "run-1" {
		t.Fatalf("CrawlerID() = %q, want %q", eng.CrawlerID(), "run-1")
	}
	if eng.Store() != store {
		t.Fatalf("Store() did not return the configured store")
	}
}

func TestEngineRunCreatesAndCleansWorkDir(t *testing.T) {
	dir := t.TempDir()
	store := memory.New()
	eng := New(Config{ID: "run-1", WorkDir: dir, NumThreads: 1, OrphansStrategy: orphan.StrategyIgnore},
		Deps{Store: store, Plugin: &fakePlugin{}})

	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	downloadDir := dir + "/downloads/run-1"
	if _, err := os.Stat(downloadDir); err != nil {
		t.Fatalf("expected the download directory to exist before cleanup check: %v", err)
	}
}

func TestEngineStopBeforeRunIsSafe(t *testing.T) {
	eng := New(Config{ID: "run-1", WorkDir: t.TempDir(), NumThreads: 1}, Deps{Store: memory.New(), Plugin: &fakePlugin{}})
	eng.Stop() // must not panic even though Run never started
}
