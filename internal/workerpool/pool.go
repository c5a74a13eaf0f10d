// Package workerpool implements the fixed-size worker pool that
// drives a reference.Processor against a crawlstore.Store until the
// queue and active set jointly drain: a WaitGroup fan-out over N
// goroutines with a joint idle/termination protocol.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/reference"
)

// minBackoff is the minimum spin-wait sleep when a worker finds the
// queue momentarily empty but the pool is not yet at consensus.
const minBackoff = 1 * time.Millisecond

// statusLogInterval caps how often progress is logged.
const statusLogInterval = 5 * time.Second

// Processor is the subset of reference.Processor the pool depends on,
// narrowed to ease testing with a fake.
type Processor interface {
	Process(ctx context.Context, rec *crawlstore.Record, mode reference.Mode) error
}

// Config controls a Pool run.
type Config struct {
	NumWorkers   int
	MaxDocuments int // <= 0 disables the cap
	Mode         reference.Mode
	Logger       *zap.Logger
}

// Pool runs Config.NumWorkers goroutines against store, each driving proc
// until the joint idle predicate holds or the pool is stopped.
type Pool struct {
	store crawlstore.Store
	proc  Processor
	cfg   Config

	stopped atomic.Bool
	// stopErr holds the first stopOnExceptions-matching failure that
	// triggered an internal stop, if any.
	stopErr atomic.Pointer[error]

	processedCount *atomic.Int64
	lastLog        atomic.Int64 // unix nanos, relaxed visibility is acceptable
}

// New constructs a Pool. processedCount is shared with the engine so
// maxDocuments accounting is global across orphan passes.
func New(store crawlstore.Store, proc Processor, cfg Config, processedCount *atomic.Int64) *Pool {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if processedCount == nil {
		processedCount = new(atomic.Int64)
	}
	return &Pool{store: store, proc: proc, cfg: cfg, processedCount: processedCount}
}

// Stop requests cooperative shutdown; workers exit at their next loop-top
// check without finalizing the remaining queue.
func (p *Pool) Stop() { p.stopped.Store(true) }

// Stopped reports whether Stop was called (externally, or internally by
// a stopOnExceptions match).
func (p *Pool) Stopped() bool { return p.stopped.Load() }

// Run blocks until every worker independently reaches the idle
// consensus, the pool is stopped, or ctx is canceled. It returns the
// first stopOnExceptions-matching error raised by any worker, if any.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	wg.Wait()

	if errPtr := p.stopErr.Load(); errPtr != nil {
		return *errPtr
	}
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		if p.stopped.Load() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		cont := p.processNextReference(ctx)
		if !cont {
			return
		}
	}
}

// processNextReference runs one worker iteration: claim, process, log,
// or detect joint idle and back off.
func (p *Pool) processNextReference(ctx context.Context) bool {
	if p.cfg.Mode != reference.ModeOrphanDelete && p.cfg.MaxDocuments > 0 {
		if p.processedCount.Load() >= int64(p.cfg.MaxDocuments) {
			return false
		}
	}

	rec, err := p.store.NextQueued(ctx)
	if err != nil {
		p.cfg.Logger.Error("failed to claim next queued reference", zap.Error(err))
		return true
	}

	if rec != nil {
		// Process's contract: a non-nil error always means the failure's
		// kind matched stopOnExceptions, so any error here triggers stop.
		if perr := p.proc.Process(ctx, rec, p.cfg.Mode); perr != nil {
			p.triggerStop(perr)
		}
		p.logProgress(ctx)
		return true
	}

	active, err := p.store.ActiveCount(ctx)
	if err != nil {
		p.cfg.Logger.Error("failed to read active count", zap.Error(err))
		return true
	}
	empty, err := p.store.IsQueueEmpty(ctx)
	if err != nil {
		p.cfg.Logger.Error("failed to read queue-empty state", zap.Error(err))
		return true
	}
	if active == 0 && empty {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(minBackoff):
		return true
	}
}

func (p *Pool) triggerStop(err error) {
	e := err
	p.stopErr.CompareAndSwap(nil, &e)
	p.stopped.Store(true)
}

func (p *Pool) logProgress(ctx context.Context) {
	now := time.Now().UnixNano()
	last := p.lastLog.Load()
	if now-last < statusLogInterval.Nanoseconds() {
		return
	}
	if !p.lastLog.CompareAndSwap(last, now) {
		return
	}
	queueSize, err := p.store.QueueSize(ctx)
	if err != nil {
		return
	}
	processed := p.processedCount.Load()
	total := processed + int64(queueSize)
	var fraction float64
	if total > 0 {
		fraction = float64(processed) / float64(total)
	}
	p.cfg.Logger.Info("crawl progress",
		zap.Int64("processed", processed),
		zap.Int("queued", queueSize),
		zap.Float64("fraction", fraction),
	)
}
