// Package crawlerr defines the error kinds the core distinguishes and
// the structural, type-identity comparison that stopOnExceptions uses —
// never string/message comparison.
package crawlerr

import (
	"errors"
	"fmt"
)

// Kind identifies the structural category of a failure.
type Kind string

// Recognized kinds.
const (
	KindStore                Kind = "STORE"
	KindPipeline             Kind = "PIPELINE"
	KindFilterRejection      Kind = "FILTER_REJECTION"
	KindSpoiledStateInternal Kind = "SPOILED_STATE_INTERNAL"
	KindCancellation         Kind = "CANCELLATION"
	KindConfig               Kind = "CONFIG"
)

// ParseKinds converts the configured stopOnExceptions identifiers to
// Kinds, skipping any that are not recognized.
func ParseKinds(identifiers []string) []Kind {
	kinds := make([]Kind, 0, len(identifiers))
	for _, id := range identifiers {
		switch Kind(id) {
		case KindStore, KindPipeline, KindFilterRejection, KindSpoiledStateInternal, KindCancellation, KindConfig:
			kinds = append(kinds, Kind(id))
		}
	}
	return kinds
}

// Error wraps an underlying cause with a structural Kind so that
// stopOnExceptions lists can compare by kind identity rather than by
// message text.
type Error struct {
	Kind  Kind
	Cause error
}

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// Errorf builds a new Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the structural Kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// MatchesAny reports whether err's Kind is present in kinds. This is the
// single comparison stopOnExceptions uses; it never inspects err.Error().
func MatchesAny(err error, kinds []Kind) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
