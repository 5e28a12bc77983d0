// Package docstore defines the document persistence interface used for
// per-user watchlists. Implementations include PostgreSQL (jsonb documents
// with LISTEN/NOTIFY change feed), Redis (read-through cache with pub/sub
// fan-out) and in-memory (for development and testing).
package docstore

import (
	"context"
	"fmt"
	"strings"
)

// Document is the field map stored under one (collection, id) key.
type Document map[string]any

// Snapshot is the state of one document at a point in time. A document that
// does not exist is reported with Exists=false and a nil Data map, never as
// an error.
type Snapshot struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Exists     bool     `json:"exists"`
	Data       Document `json:"data,omitempty"`
}

// SetOptions controls how Set treats an existing document.
type SetOptions struct {
	// Merge keeps top-level fields of the stored document that are not
	// present in the written data.
	Merge bool
}

// Unsubscribe stops a snapshot subscription. Safe to call more than once.
type Unsubscribe func()

// Store is the document persistence interface.
type Store interface {
	// Get reads one document.
	Get(ctx context.Context, collection, id string) (Snapshot, error)

	// Set writes one document, replacing it or merging into it.
	Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error

	// OnSnapshot delivers the current snapshot of the document and then
	// every subsequent change, in the order the store emits them. fn must
	// not write back to the store synchronously.
	OnSnapshot(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error)
}

func docKey(collection, id string) string { return collection + "/" + id }

func splitKey(key string) (collection, id string, err error) {
	collection, id, ok := strings.Cut(key, "/")
	if !ok || collection == "" || id == "" {
		return "", "", fmt.Errorf("malformed document key %q", key)
	}
	return collection, id, nil
}

// merge applies data on top of base. Only top-level fields are merged.
func merge(base, data Document) Document {
	out := make(Document, len(base)+len(data))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

// clone deep-copies the container types a JSON document can hold so that
// callers never share backing arrays with the store.
func clone(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return map[string]any(clone(Document(t)))
	case Document:
		return clone(t)
	default:
		return v
	}
}
