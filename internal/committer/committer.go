// Package committer defines the downstream sink contract a Plugin's
// CommitterPipeline ultimately drives: upsert on success, remove on
// deletion, and a final commit to flush buffered writes.
package committer

import (
	"context"
)

// Committer is the optional downstream sink for processed references.
// Implementations must be safe for concurrent use; the engine invokes
// Upsert/Remove from any worker and Commit exactly once at shutdown.
type Committer interface {
	// Upsert writes or replaces the reference's document and metadata.
	Upsert(ctx context.Context, reference string, metadata map[string]any, content []byte) error

	// Remove deletes the reference's previously committed output. metadata
	// may be empty when no document was available to delete alongside.
	Remove(ctx context.Context, reference string, metadata map[string]any) error

	// Commit flushes any buffered writes. Called once by the engine after
	// the main pool and orphan resolver have both finished.
	Commit(ctx context.Context) error
}
