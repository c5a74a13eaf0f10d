// Package plugin defines the single extension surface the core drives:
// everything protocol-specific (fetching, parsing, committing) lives
// behind Plugin rather than behind engine subclassing.
package plugin

import (
	"context"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
	"github.com/crawlcore/crawlcore/internal/document"
)

// ImportContext carries what a Plugin's importer pipeline needs to turn
// raw content into zero or more child references plus committer-ready
// output.
type ImportContext struct {
	Reference string
	Record    *crawlstore.Record
	Document  *document.Document
}

// ImportResponse is the outcome of running ImporterPipeline against a
// single reference.
type ImportResponse struct {
	// EmbeddedReferences are child references discovered while importing
	// this document (links, frames, attachments).
	EmbeddedReferences []EmbeddedReference

	// Rejected, when true, means the document was filtered out before or
	// during import; RejectionCause explains why.
	Rejected       bool
	RejectionCause string
}

// EmbeddedReference pairs a child reference discovered while importing a
// parent with that child's own import outcome, if the parent already has
// it in hand.
type EmbeddedReference struct {
	Reference string

	// Response is the child's own nested import outcome, for a single
	// fetch that already pulled in more than one resource (e.g. a
	// multipart response). The processor recurses into it exactly as it
	// would a top-level ImportResponse.
	//
	// Nil means the reference was only discovered, not fetched (the
	// common case: a link found while parsing a page) — the processor
	// queues it for independent processing rather than finalizing it as
	// already successful.
	Response *ImportResponse
}

// CommitContext carries what CommitterPipeline needs to upsert or remove
// a processed reference's output from the destination.
type CommitContext struct {
	Reference string
	Record    *crawlstore.Record
	Cached    *crawlstore.Record
	Document  *document.Document
	Deleted   bool
}

// Plugin is the full extension surface a protocol specialization
// implements. The engine and ReferenceProcessor call these hooks and
// never themselves fetch, parse, or commit.
type Plugin interface {
	// QueuePipeline runs before a reference is queued, giving the
	// specialization a chance to reject or rewrite it before it ever
	// reaches a worker.
	QueuePipeline(ctx context.Context, rec *crawlstore.Record, store crawlstore.Store) error

	// ImporterPipeline fetches and parses the reference's content.
	ImporterPipeline(ctx context.Context, pctx *ImportContext) (*ImportResponse, error)

	// CommitterPipeline delivers a processed reference to its
	// destination.
	CommitterPipeline(ctx context.Context, cctx *CommitContext) error

	// WrapDocument lets a specialization decorate or replace the
	// Document the processor constructed for rec before any pipeline
	// runs against it.
	WrapDocument(rec *crawlstore.Record, doc *document.Document) *document.Document

	// InitCrawlData seeds fields on current from cached before import,
	// ahead of the processor's own cache-fill merge.
	InitCrawlData(current, cached *crawlstore.Record, doc *document.Document)

	// BeforeFinalize runs immediately before the processor's cache-fill
	// merge and store.Processed call, letting a specialization inspect
	// or adjust current in light of doc and cached.
	BeforeFinalize(current *crawlstore.Record, store crawlstore.Store, doc *document.Document, cached *crawlstore.Record)

	// MarkReferenceVariationsAsProcessed lets a specialization mark
	// equivalent references (e.g. URL variants) as processed alongside
	// current, so they are not re-queued as orphans.
	MarkReferenceVariationsAsProcessed(current *crawlstore.Record, store crawlstore.Store)

	// CreateEmbeddedCrawlData builds the CrawlRecord for a child
	// reference discovered under parent.
	CreateEmbeddedCrawlData(childRef string, parent *crawlstore.Record) *crawlstore.Record
}

// BasePlugin supplies no-op defaults for the optional hooks so a
// specialization can embed it and override only what it needs.
type BasePlugin struct{}

func (BasePlugin) InitCrawlData(current, cached *crawlstore.Record, doc *document.Document) {}

func (BasePlugin) BeforeFinalize(current *crawlstore.Record, store crawlstore.Store, doc *document.Document, cached *crawlstore.Record) {
}

func (BasePlugin) MarkReferenceVariationsAsProcessed(current *crawlstore.Record, store crawlstore.Store) {
}
