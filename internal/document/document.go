// Package document implements the per-reference Document and the shared,
// thread-safe stream factory it draws content from.
package document

import "sync"

// IsNewMetadataKey is the stable metadata key under which the processor
// exposes whether this reference is new (no cached counterpart).
const IsNewMetadataKey = "collector.is-crawl-new"

// Document is bound to a single reference and wraps a lazily-materialized
// content stream plus a metadata bag a Plugin's hooks can read and write.
type Document struct {
	Reference string
	Metadata  map[string]any

	stream *Stream
	mu     sync.Mutex
}

// New constructs a Document bound to reference, with content allocated
// from factory.
func New(reference string, factory *StreamFactory) *Document {
	return &Document{
		Reference: reference,
		Metadata:  make(map[string]any),
		stream:    factory.NewStream(),
	}
}

// Stream returns the document's backing content stream.
func (d *Document) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// SetIsNew records whether the reference has no prior-run cache entry.
func (d *Document) SetIsNew(isNew bool) {
	d.Metadata[IsNewMetadataKey] = isNew
}

// IsNew reads back the flag set by SetIsNew.
func (d *Document) IsNew() bool {
	v, _ := d.Metadata[IsNewMetadataKey].(bool)
	return v
}

// Release returns the document's stream to its pool. Safe to call more
// than once; it must run on every exit path of a reference's processing,
// including failure.
func (d *Document) Release() {
	d.mu.Lock()
	s := d.stream
	d.stream = nil
	d.mu.Unlock()
	if s != nil {
		s.Release()
	}
}
