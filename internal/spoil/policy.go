// Package spoil implements the spoiled-reference disposition policy: a pure
// function mapping (reference, final state) to a disposition for a
// reference whose crawl failed or came back bad.
package spoil

import "github.com/crawlcore/crawlcore/internal/crawlstore"

// Disposition is the outcome of evaluating a spoiled reference.
type Disposition string

// Recognized dispositions.
const (
	DispositionIgnore    Disposition = "IGNORE"
	DispositionDelete    Disposition = "DELETE"
	DispositionGraceOnce Disposition = "GRACE_ONCE"
)

// DefaultDisposition is returned by Resolve when no Policy is configured,
// or when a configured Policy returns the empty disposition.
const DefaultDisposition = DispositionDelete

// Policy decides, per failed reference, whether the previously committed
// version should be retained, deleted, or given one grace cycle.
// Implementations must be pure and safe for concurrent use by many workers.
type Policy interface {
	Resolve(reference string, state crawlstore.State) Disposition
}

// Resolve evaluates policy (which may be nil) and applies the documented
// fallback when the policy is absent or returns the empty disposition.
func Resolve(policy Policy, reference string, state crawlstore.State) Disposition {
	if policy == nil {
		return DefaultDisposition
	}
	d := policy.Resolve(reference, state)
	if d == "" {
		return DefaultDisposition
	}
	return d
}
