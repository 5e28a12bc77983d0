package docstore

import "sync"

// listeners is the per-key subscriber registry shared by every Store
// implementation.
type listeners struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]func(Snapshot)
}

func newListeners() *listeners {
	return &listeners{subs: make(map[string]map[uint64]func(Snapshot))}
}

func (l *listeners) add(key string, fn func(Snapshot)) Unsubscribe {
	l.mu.Lock()
	l.next++
	id := l.next
	if l.subs[key] == nil {
		l.subs[key] = make(map[uint64]func(Snapshot))
	}
	l.subs[key][id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[key], id)
			if len(l.subs[key]) == 0 {
				delete(l.subs, key)
			}
		})
	}
}

func (l *listeners) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[key]) > 0
}

// publish calls every subscriber of the snapshot's key outside the lock.
func (l *listeners) publish(snap Snapshot) {
	key := docKey(snap.Collection, snap.ID)

	l.mu.Lock()
	fns := make([]func(Snapshot), 0, len(l.subs[key]))
	for _, fn := range l.subs[key] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(Snapshot{
			Collection: snap.Collection,
			ID:         snap.ID,
			Exists:     snap.Exists,
			Data:       clone(snap.Data),
		})
	}
}
