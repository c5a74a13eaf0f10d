// Package orphan implements orphan reconciliation: after the main pool
// drains, reconcile references that exist in the prior run's CACHED
// partition but were never touched this run, under one of three
// strategies (IGNORE, PROCESS, DELETE).
package orphan

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/plugin"
	"github.com/crawlcore/crawlcore/internal/reference"
	"github.com/crawlcore/crawlcore/internal/workerpool"
)

// Strategy selects how orphaned CACHED references are reconciled.
type Strategy string

// Recognized strategies. The default, when unset, is IGNORE.
const (
	StrategyIgnore  Strategy = "IGNORE"
	StrategyProcess Strategy = "PROCESS"
	StrategyDelete  Strategy = "DELETE"
)

// Resolver runs the configured Strategy once, after the main pool pass.
type Resolver struct {
	Store        crawlstore.Store
	Plugin       plugin.Plugin
	Processor    workerpool.Processor
	Strategy     Strategy
	NumWorkers   int
	MaxDocuments int
	Logger       *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Run executes the configured strategy. processedCount is the engine's
// shared counter, carried over from the main pass so MaxDocuments
// accounting stays global across both passes.
func (r *Resolver) Run(ctx context.Context, processedCount *atomic.Int64) error {
	switch r.Strategy {
	case "", StrategyIgnore:
		return nil
	case StrategyProcess:
		return r.runPass(ctx, processedCount, reference.ModeOrphanReprocess, true)
	case StrategyDelete:
		return r.runPass(ctx, processedCount, reference.ModeOrphanDelete, false)
	default:
		return fmt.Errorf("orphan: unrecognized strategy %q", r.Strategy)
	}
}

// runPass iterates the CACHED partition once, enqueueing every entry
// (through the queue pipeline when filtered is true, raw otherwise), then
// runs a second worker pool pass in mode.
func (r *Resolver) runPass(ctx context.Context, processedCount *atomic.Int64, mode reference.Mode, filtered bool) error {
	if mode != reference.ModeOrphanDelete && r.MaxDocuments > 0 && processedCount.Load() >= int64(r.MaxDocuments) {
		r.logger().Info("orphan pass skipped: max documents already reached")
		return nil
	}

	iter, err := r.Store.GetCacheIterator(ctx)
	if err != nil {
		return fmt.Errorf("orphan: open cache iterator: %w", err)
	}
	defer iter.Close()

	queued := 0
	for iter.Next(ctx) {
		cached := iter.Record()
		if cached == nil {
			continue
		}
		rec := &crawlstore.Record{
			Reference:           cached.Reference,
			ParentRootReference: cached.ParentRootReference,
			IsRootParent:        cached.IsRootParent,
			Depth:               cached.Depth,
			Stage:               crawlstore.StageQueued,
		}
		if filtered {
			if perr := r.Plugin.QueuePipeline(ctx, rec, r.Store); perr != nil {
				r.logger().Debug("orphan reference rejected by queue pipeline",
					zap.String("reference", rec.Reference), zap.Error(perr))
				continue
			}
		}
		if err := r.Store.Queue(ctx, rec); err != nil {
			r.logger().Warn("failed to queue orphan reference",
				zap.String("reference", rec.Reference), zap.Error(err))
			continue
		}
		queued++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("orphan: iterate cache: %w", err)
	}
	if queued == 0 {
		return nil
	}

	pool := workerpool.New(r.Store, r.Processor, workerpool.Config{
		NumWorkers:   r.NumWorkers,
		MaxDocuments: r.MaxDocuments,
		Mode:         mode,
		Logger:       r.Logger,
	}, processedCount)
	return pool.Run(ctx)
}
