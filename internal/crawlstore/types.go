// Package crawlstore defines the durable, four-stage per-reference record
// store that drives the crawl scheduler: a producer/consumer of work
// partitioned by Stage, with a read-only Cached snapshot from the previous
// run.
package crawlstore

import "time"

// State is the closed set of terminal outcomes a reference's processing
// can reach. Unlike Stage (the scheduler's own coordinate), State records
// what happened to the document itself.
type State string

// Recognized states. REJECTED/ERROR/BAD_STATUS/NOT_FOUND/DELETED are bad
// states; NEW/MODIFIED/UNMODIFIED are good states.
const (
	StateUnset      State = ""
	StateNew        State = "NEW"
	StateModified   State = "MODIFIED"
	StateUnmodified State = "UNMODIFIED"
	StateRejected   State = "REJECTED"
	StateError      State = "ERROR"
	StateBadStatus  State = "BAD_STATUS"
	StateNotFound   State = "NOT_FOUND"
	StateDeleted    State = "DELETED"
)

// IsNewOrModified reports whether the reference went through a full
// import cycle that produced fresh content.
func (s State) IsNewOrModified() bool {
	return s == StateNew || s == StateModified
}

// IsGoodState reports whether the state represents a successful ingest.
func (s State) IsGoodState() bool {
	switch s {
	case StateNew, StateModified, StateUnmodified:
		return true
	default:
		return false
	}
}

// Stage is the scheduler's own coordinate for a record, orthogonal to
// State. Every record belongs to exactly one stage at any instant.
type Stage string

// Recognized stages.
const (
	StageQueued    Stage = "QUEUED"
	StageActive    Stage = "ACTIVE"
	StageProcessed Stage = "PROCESSED"
	StageCached    Stage = "CACHED"
)

// Record is the per-reference record. The base fields below are the
// schema the core reasons about; specializations may carry additional
// application-defined fields by embedding Record in their own struct and
// round-tripping the extra fields through their own Store implementation.
type Record struct {
	Reference           string
	ParentRootReference string
	IsRootParent        bool
	State               State
	MetaChecksum        string
	ContentChecksum     string
	ContentType         string
	CrawlDate           time.Time
	Stage               Stage

	// Depth is an extension field threaded through by the Postgres store
	// and the HTTP plugin's link-depth accounting; the core itself never
	// interprets it.
	Depth int
}

// Clone returns a deep-enough copy for safe cross-goroutine handoff; time.Time
// and strings are immutable, so a shallow copy suffices.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// MergeMissingFrom performs the null-preserving merge the finalize step
// needs: every field in cached is copied into r only where r's field is
// currently the zero value. It must never overwrite a field r already
// has set — this is deliberately field-wise and static (no reflection)
// so the invariant is reviewable at a glance.
func (r *Record) MergeMissingFrom(cached *Record) {
	if r == nil || cached == nil {
		return
	}
	if r.ParentRootReference == "" {
		r.ParentRootReference = cached.ParentRootReference
	}
	if !r.IsRootParent {
		r.IsRootParent = cached.IsRootParent
	}
	if r.MetaChecksum == "" {
		r.MetaChecksum = cached.MetaChecksum
	}
	if r.ContentChecksum == "" {
		r.ContentChecksum = cached.ContentChecksum
	}
	if r.ContentType == "" {
		r.ContentType = cached.ContentType
	}
	if r.CrawlDate.IsZero() {
		r.CrawlDate = cached.CrawlDate
	}
	if r.Depth == 0 {
		r.Depth = cached.Depth
	}
}
