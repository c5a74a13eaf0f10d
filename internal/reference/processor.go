// Package reference implements the per-reference state machine:
// everything that happens between a worker claiming a record via
// Store.NextQueued and that record landing in PROCESSED. The engine drives
// a Plugin's hooks rather than overriding abstract methods.
package reference

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/committer"
	"github.com/crawlcore/crawlcore/internal/crawlerr"
	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/document"
	"github.com/crawlcore/crawlcore/internal/events"
	"github.com/crawlcore/crawlcore/internal/plugin"
	"github.com/crawlcore/crawlcore/internal/spoil"
)

// Mode selects which of the three processing paths a claimed record takes.
type Mode int

// Recognized modes.
const (
	// ModeNormal is the default pass: run the full importer/committer
	// pipeline.
	ModeNormal Mode = iota
	// ModeOrphanReprocess is the orphan resolver's PROCESS pass: same
	// pipeline as ModeNormal, but the record came from the prior run's
	// CACHED partition rather than a fresh queue() call.
	ModeOrphanReprocess
	// ModeOrphanDelete routes every reference straight to deleteReference.
	ModeOrphanDelete
)

// Processor runs one claimed CrawlRecord through its lifecycle. A single
// Processor is shared by every worker in the pool; all of its
// collaborators must be safe for concurrent use.
type Processor struct {
	CrawlerID   string
	Store       crawlstore.Store
	Plugin      plugin.Plugin
	SpoilPolicy spoil.Policy
	Committer   committer.Committer
	Events      events.Emitter
	Streams     *document.StreamFactory
	Logger      *zap.Logger

	// StopOnExceptions lists the error kinds that, once encountered,
	// should be re-raised after finalize so the worker pool stops.
	StopOnExceptions []crawlerr.Kind

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time

	// ProcessedCount is the engine's shared counter; finalize increments
	// it atomically so concurrent workers never race on it.
	ProcessedCount *atomic.Int64
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Processor) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

// Process runs rec through its full lifecycle: fetch the cached
// snapshot, import, commit, and finalize. The returned error is non-nil
// only when the failure's kind matched
// StopOnExceptions; by the time it returns, rec has already reached
// PROCESSED (or been deleted) and finalize has already run.
func (p *Processor) Process(ctx context.Context, rec *crawlstore.Record, mode Mode) error {
	doc := document.New(rec.Reference, p.Streams)
	if wrapped := p.Plugin.WrapDocument(rec, doc); wrapped != nil {
		doc = wrapped
	}

	cached, err := p.Store.GetCached(ctx, rec.Reference)
	if err != nil {
		return p.failAndFinalize(ctx, rec, cached, doc, crawlerr.New(crawlerr.KindStore, err))
	}
	doc.SetIsNew(cached == nil)

	p.Plugin.InitCrawlData(rec, cached, doc)

	if mode == ModeOrphanDelete {
		p.deleteReference(ctx, rec, doc)
		p.finalize(ctx, rec, cached, doc)
		return nil
	}

	resp, err := p.Plugin.ImporterPipeline(ctx, &plugin.ImportContext{
		Reference: rec.Reference,
		Record:    rec,
		Document:  doc,
	})
	if err != nil {
		return p.failAndFinalize(ctx, rec, cached, doc, crawlerr.New(crawlerr.KindPipeline, err))
	}

	if resp == nil {
		if rec.State.IsNewOrModified() {
			rec.State = crawlstore.StateRejected
		}
		p.finalize(ctx, rec, cached, doc)
		return nil
	}

	if err := p.processImportResponse(ctx, resp, rec, cached, doc); err != nil {
		return err
	}
	return nil
}

// processImportResponse applies one importer response to current, then
// walks every embedded reference it carries: one with its own nested
// Response recurses through this same method (true nesting, for a fetch
// that already pulled in more than one resource); one with no Response
// was merely discovered and is queued for independent processing instead
// of being finalized as if it had already succeeded. finalize always runs
// for current before any embedded reference is touched. The returned
// error is non-nil only when a committer failure (current's own or an
// embedded one's) matched StopOnExceptions; by then finalize has already
// run for every reference this call touched.
func (p *Processor) processImportResponse(ctx context.Context, resp *plugin.ImportResponse, current, cached *crawlstore.Record, doc *document.Document) error {
	var commitErr error
	if !resp.Rejected {
		if current.State == crawlstore.StateUnset {
			current.State = crawlstore.StateNew
		}
		p.emit(events.TypeDocumentImported, current.Reference, nil, "")
		commitErr = p.runCommitterPipeline(ctx, current, cached, doc)
	} else {
		current.State = crawlstore.StateRejected
		p.emit(events.TypeRejectedImport, current.Reference, nil, resp.RejectionCause)
	}
	p.finalize(ctx, current, cached, doc)

	for _, embedded := range resp.EmbeddedReferences {
		child := p.Plugin.CreateEmbeddedCrawlData(embedded.Reference, current)
		if child == nil {
			continue
		}
		if embedded.Response != nil {
			if err := p.processEmbeddedResponse(ctx, embedded.Response, child); err != nil && commitErr == nil {
				commitErr = err
			}
			continue
		}
		p.queueDiscoveredReference(ctx, child)
	}

	if commitErr != nil && crawlerr.MatchesAny(commitErr, p.StopOnExceptions) {
		return commitErr
	}
	return nil
}

// processEmbeddedResponse finalizes a child whose content the parent
// fetch already pulled in, recursing through processImportResponse so
// nested embedded references keep unwinding the same way.
func (p *Processor) processEmbeddedResponse(ctx context.Context, resp *plugin.ImportResponse, child *crawlstore.Record) error {
	childCached, err := p.Store.GetCached(ctx, child.Reference)
	if err != nil {
		p.logger().Warn("failed to fetch cached snapshot for embedded reference",
			zap.String("reference", child.Reference), zap.Error(err))
	}
	childDoc := document.New(child.Reference, p.Streams)
	if wrapped := p.Plugin.WrapDocument(child, childDoc); wrapped != nil {
		childDoc = wrapped
	}
	childDoc.SetIsNew(childCached == nil)
	p.Plugin.InitCrawlData(child, childCached, childDoc)
	return p.processImportResponse(ctx, resp, child, childCached, childDoc)
}

// queueDiscoveredReference runs a merely-discovered child through
// QueuePipeline and, unless rejected there, queues it for a worker to
// process on its own pass rather than finalizing it inline.
func (p *Processor) queueDiscoveredReference(ctx context.Context, child *crawlstore.Record) {
	if err := p.Plugin.QueuePipeline(ctx, child, p.Store); err != nil {
		p.logger().Debug("discovered reference rejected by queue pipeline",
			zap.String("reference", child.Reference), zap.Error(err))
		return
	}
	if err := p.Store.Queue(ctx, child); err != nil {
		p.logger().Warn("failed to queue discovered reference",
			zap.String("reference", child.Reference), zap.Error(err))
	}
}

// runCommitterPipeline returns the committer's failure (wrapped with its
// kind) rather than swallowing it, so a caller can decide whether it
// should stop the pool once finalize has run.
func (p *Processor) runCommitterPipeline(ctx context.Context, current, cached *crawlstore.Record, doc *document.Document) error {
	err := p.Plugin.CommitterPipeline(ctx, &plugin.CommitContext{
		Reference: current.Reference,
		Record:    current,
		Cached:    cached,
		Document:  doc,
	})
	if err != nil {
		p.logger().Warn("committer pipeline failed",
			zap.String("reference", current.Reference), zap.Error(err))
		current.State = crawlstore.StateError
		wrapped := crawlerr.New(crawlerr.KindPipeline, err)
		p.emit(events.TypeRejectedError, current.Reference, wrapped, "")
		return wrapped
	}
	p.emit(events.TypeDocumentCommittedAdd, current.Reference, nil, "")
	return nil
}

// failAndFinalize handles an uncaught failure: force state ERROR, fire
// REJECTED_ERROR, and still run finalize before the failure is
// (conditionally) propagated.
func (p *Processor) failAndFinalize(ctx context.Context, rec, cached *crawlstore.Record, doc *document.Document, err error) error {
	rec.State = crawlstore.StateError
	p.emit(events.TypeRejectedError, rec.Reference, err, "")
	p.logger().Info("could not process reference",
		zap.String("reference", rec.Reference), zap.Error(err))
	p.finalize(ctx, rec, cached, doc)

	if crawlerr.MatchesAny(err, p.StopOnExceptions) {
		return err
	}
	return nil
}

// finalize ensures a state, runs the optional BeforeFinalize hook,
// applies the cache-fill merge, applies the spoil disposition, accounts
// processedCount, persists to PROCESSED, runs the variation hook, and
// releases the document's stream on every exit path.
func (p *Processor) finalize(ctx context.Context, current, cached *crawlstore.Record, doc *document.Document) {
	defer doc.Release()

	if current.State == crawlstore.StateUnset {
		p.logger().Warn("reference state is unset, assuming bad status",
			zap.String("reference", current.Reference))
		current.State = crawlstore.StateBadStatus
	}

	p.Plugin.BeforeFinalize(current, p.Store, doc, cached)

	if !current.State.IsNewOrModified() && cached != nil {
		current.MergeMissingFrom(cached)
	}

	if !current.State.IsGoodState() && current.State != crawlstore.StateDeleted {
		p.applySpoilDisposition(ctx, current, cached, doc)
	}

	if p.ProcessedCount != nil {
		p.ProcessedCount.Add(1)
	}
	if err := p.Store.Processed(ctx, current); err != nil {
		p.logger().Error("failed to persist processed record",
			zap.String("reference", current.Reference), zap.Error(err))
	}

	p.Plugin.MarkReferenceVariationsAsProcessed(current, p.Store)
}

func (p *Processor) applySpoilDisposition(ctx context.Context, current, cached *crawlstore.Record, doc *document.Document) {
	disposition := spoil.Resolve(p.SpoilPolicy, current.Reference, current.State)
	switch disposition {
	case spoil.DispositionIgnore:
		p.logger().Debug("ignoring spoiled reference", zap.String("reference", current.Reference))
	case spoil.DispositionDelete:
		if cached != nil && cached.State != crawlstore.StateDeleted {
			p.deleteReference(ctx, current, doc)
		}
	case spoil.DispositionGraceOnce:
		if cached != nil && cached.State != crawlstore.StateDeleted {
			if cached.State.IsGoodState() {
				p.logger().Debug("grace period for spoiled reference",
					zap.String("reference", current.Reference))
			} else {
				p.deleteReference(ctx, current, doc)
			}
		}
	}
}

// deleteReference marks current deleted and removes any previously
// committed output for it.
func (p *Processor) deleteReference(ctx context.Context, current *crawlstore.Record, doc *document.Document) {
	current.State = crawlstore.StateDeleted
	var meta map[string]any
	if doc != nil {
		meta = doc.Metadata
	}
	if p.Committer != nil {
		if err := p.Committer.Remove(ctx, current.Reference, meta); err != nil {
			p.logger().Warn("committer remove failed",
				zap.String("reference", current.Reference), zap.Error(err))
		}
	}
	p.emit(events.TypeDocumentCommittedDel, current.Reference, nil, "")
}

func (p *Processor) emit(typ events.Type, reference string, err error, note string) {
	if p.Events == nil {
		return
	}
	p.Events.Emit(events.Event{
		Type:      typ,
		CrawlerID: p.CrawlerID,
		Reference: reference,
		TS:        p.now(),
		Err:       err,
		Note:      note,
	})
}
