// Package blob implements committer.Committer on top of a key/object
// blob store (local filesystem or GCS), grounded on the storage
// package's own PutObject convention: content and a JSON metadata
// sidecar are written under a path derived from the reference's hash.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/crawlcore/crawlcore/internal/hash/sha256"
)

// Store is the subset of a blob store the committer needs.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
}

// Committer writes each reference's content and metadata as two
// objects in Store, keyed by the SHA-256 of the reference so paths stay
// filesystem- and bucket-safe regardless of what characters the
// reference itself contains.
type Committer struct {
	Store  Store
	Logger *zap.Logger
	Prefix string
}

// New constructs a Committer backed by store. prefix, if non-empty, is
// prepended to every object key so multiple crawls can share one bucket.
func New(store Store, logger *zap.Logger, prefix string) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{Store: store, Logger: logger, Prefix: prefix}
}

func (c *Committer) objectKeys(reference string) (contentKey, metaKey string) {
	h := sha256.New()
	digest, _ := h.Hash([]byte(reference)) // crypto/sha256 never errors
	if c.Prefix != "" {
		return c.Prefix + "/" + digest + ".content", c.Prefix + "/" + digest + ".json"
	}
	return digest + ".content", digest + ".json"
}

// Upsert writes content and metadata under the reference's derived key.
func (c *Committer) Upsert(ctx context.Context, reference string, metadata map[string]any, content []byte) error {
	contentKey, metaKey := c.objectKeys(reference)

	if _, err := c.Store.PutObject(ctx, contentKey, "application/octet-stream", bytes.NewReader(content)); err != nil {
		return fmt.Errorf("blob committer: upsert content for %s: %w", reference, err)
	}

	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("blob committer: marshal metadata for %s: %w", reference, err)
	}
	if _, err := c.Store.PutObject(ctx, metaKey, "application/json", bytes.NewReader(metaBytes)); err != nil {
		return fmt.Errorf("blob committer: upsert metadata for %s: %w", reference, err)
	}
	return nil
}

// Remove deletes both objects for reference. Either may already be
// absent; the underlying Store treats that as success.
func (c *Committer) Remove(ctx context.Context, reference string, _ map[string]any) error {
	contentKey, metaKey := c.objectKeys(reference)
	if err := c.Store.Delete(ctx, contentKey); err != nil {
		return fmt.Errorf("blob committer: remove content for %s: %w", reference, err)
	}
	if err := c.Store.Delete(ctx, metaKey); err != nil {
		return fmt.Errorf("blob committer: remove metadata for %s: %w", reference, err)
	}
	return nil
}

// Commit is a no-op: every write above is already durable once
// PutObject returns.
func (c *Committer) Commit(_ context.Context) error { return nil }
