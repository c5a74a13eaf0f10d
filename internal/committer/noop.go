package committer

import "context"

// Noop discards every write. It satisfies Committer for crawls that
// only care about the scheduler's state machine, not the output.
type Noop struct{}

func (Noop) Upsert(context.Context, string, map[string]any, []byte) error { return nil }
func (Noop) Remove(context.Context, string, map[string]any) error        { return nil }
func (Noop) Commit(context.Context) error                                { return nil }
