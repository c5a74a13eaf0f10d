// Package engine implements the crawler engine, the orchestrator that
// opens the store, runs the main worker pool pass, reconciles orphans,
// flushes the committer, and fires the crawler's lifecycle events.
package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/committer"
	"github.com/crawlcore/crawlcore/internal/crawlerr"
	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/events"
	"github.com/crawlcore/crawlcore/internal/orphan"
	"github.com/crawlcore/crawlcore/internal/plugin"
	"github.com/crawlcore/crawlcore/internal/reference"
	"github.com/crawlcore/crawlcore/internal/spoil"
	"github.com/crawlcore/crawlcore/internal/workerpool"
)

// Config carries the run parameters an engine needs: identity, worker
// count, document cap, orphan strategy, and resume behavior.
type Config struct {
	ID               string
	WorkDir          string
	NumThreads       int
	MaxDocuments     int // <= 0 disables the cap
	OrphansStrategy  orphan.Strategy
	StopOnExceptions []string
	Resume           bool
}

// Deps carries every collaborator the engine drives; all are supplied by
// the caller (the CLI's dependency container) rather than constructed
// here.
type Deps struct {
	Store       crawlstore.Store
	Plugin      plugin.Plugin
	SpoilPolicy spoil.Policy
	Committer   committer.Committer
	EventHub    *events.Hub
	Logger      *zap.Logger
}

// Engine drives one crawl run end to end.
type Engine struct {
	cfg  Config
	deps Deps

	processedCount atomic.Int64
	pool           *workerpool.Pool
}

// New constructs an Engine bound to cfg and deps.
func New(cfg Config, deps Deps) *Engine {
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Stop requests cooperative shutdown of the in-progress pool, if any.
func (e *Engine) Stop() {
	if e.pool != nil {
		e.pool.Stop()
	}
	e.emit(events.TypeCrawlerStopping, "", nil, "")
}

// Run executes one full crawl: prepare the store, run the main pool
// pass, reconcile orphans, flush the committer, and fire lifecycle
// events.
func (e *Engine) Run(ctx context.Context) error {
	downloadDir := filepath.Join(e.cfg.WorkDir, "downloads", e.cfg.ID)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return fmt.Errorf("engine: create work directory: %w", err)
	}

	if err := e.deps.Store.PrepareRun(ctx, e.cfg.Resume); err != nil {
		return fmt.Errorf("engine: prepare run: %w", err)
	}

	streams := document.NewStreamFactory()

	if e.cfg.Resume {
		e.emit(events.TypeCrawlerResumed, "", nil, "")
	} else {
		e.emit(events.TypeCrawlerStarted, "", nil, "")
	}

	proc := &reference.Processor{
		CrawlerID:        e.cfg.ID,
		Store:            e.deps.Store,
		Plugin:           e.deps.Plugin,
		SpoilPolicy:      e.deps.SpoilPolicy,
		Committer:        e.deps.Committer,
		Events:           e.deps.EventHub,
		Streams:          streams,
		Logger:           e.deps.Logger,
		StopOnExceptions: crawlerr.ParseKinds(e.cfg.StopOnExceptions),
		ProcessedCount:   &e.processedCount,
	}

	e.pool = workerpool.New(e.deps.Store, proc, workerpool.Config{
		NumWorkers:   e.cfg.NumThreads,
		MaxDocuments: e.cfg.MaxDocuments,
		Mode:         reference.ModeNormal,
		Logger:       e.deps.Logger,
	}, &e.processedCount)

	runErr := e.pool.Run(ctx)
	stopped := e.pool.Stopped()

	if !stopped {
		resolver := &orphan.Resolver{
			Store:        e.deps.Store,
			Plugin:       e.deps.Plugin,
			Processor:    proc,
			Strategy:     e.cfg.OrphansStrategy,
			NumWorkers:   e.cfg.NumThreads,
			MaxDocuments: e.cfg.MaxDocuments,
			Logger:       e.deps.Logger,
		}
		if err := resolver.Run(ctx, &e.processedCount); err != nil {
			e.deps.Logger.Warn("orphan resolution failed", zap.Error(err))
		}
	}

	if e.deps.Committer != nil {
		if err := e.deps.Committer.Commit(ctx); err != nil {
			e.deps.Logger.Warn("committer flush failed", zap.Error(err))
		}
	}

	removeEmptyDirs(downloadDir)

	if stopped {
		e.emit(events.TypeCrawlerStopped, "", nil, "")
	} else {
		e.emit(events.TypeCrawlerFinished, "", nil, "")
	}

	if err := e.deps.Store.Close(ctx); err != nil {
		e.deps.Logger.Warn("failed to close store", zap.Error(err))
	}

	return runErr
}

// ProcessedCount returns the number of references this run has moved to
// PROCESSED so far.
func (e *Engine) ProcessedCount() int64 { return e.processedCount.Load() }

// CrawlerID returns the identifier this run was started with, satisfying
// monitoring.StatusProvider.
func (e *Engine) CrawlerID() string { return e.cfg.ID }

// Store exposes the underlying store for read-only status reporting,
// satisfying monitoring.StatusProvider.
func (e *Engine) Store() crawlstore.Store { return e.deps.Store }

func (e *Engine) emit(typ events.Type, ref string, err error, note string) {
	if e.deps.EventHub == nil {
		return
	}
	e.deps.EventHub.Emit(events.Event{
		Type:      typ,
		CrawlerID: e.cfg.ID,
		Reference: ref,
		TS:        time.Now().UTC(),
		Err:       err,
		Note:      note,
	})
}

// removeEmptyDirs walks the download area bottom-up and removes any
// directory below root left with no files; root itself is kept.
func removeEmptyDirs(root string) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return
	}
	for i := len(dirs) - 1; i >= 1; i-- {
		_ = os.Remove(dirs[i]) // no-op unless the directory is empty
	}
}
