package docstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	// emit serializes writes with their notifications so subscribers see
	// changes in write order.
	emit sync.Mutex
	mu   sync.RWMutex
	docs map[string]Document
	subs *listeners
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: newListeners(),
	}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(collection, id), nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.emit.Lock()
	defer s.emit.Unlock()

	key := docKey(collection, id)
	s.mu.Lock()
	if existing, ok := s.docs[key]; ok && opts.Merge {
		s.docs[key] = merge(existing, clone(data))
	} else {
		s.docs[key] = clone(data)
	}
	snap := s.snapshotLocked(collection, id)
	s.mu.Unlock()

	s.subs.publish(snap)
	return nil
}

func (s *MemoryStore) OnSnapshot(_ context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	s.emit.Lock()
	defer s.emit.Unlock()

	unsub := s.subs.add(docKey(collection, id), fn)

	s.mu.RLock()
	snap := s.snapshotLocked(collection, id)
	s.mu.RUnlock()

	fn(snap)
	return unsub, nil
}

// Delete removes a document and notifies subscribers. Test helper.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	delete(s.docs, docKey(collection, id))
	s.mu.Unlock()

	s.subs.publish(Snapshot{Collection: collection, ID: id})
}

func (s *MemoryStore) snapshotLocked(collection, id string) Snapshot {
	snap := Snapshot{Collection: collection, ID: id}
	if d, ok := s.docs[docKey(collection, id)]; ok {
		snap.Exists = true
		snap.Data = clone(d)
	}
	return snap
}
