// Package watchlist keeps each user's set of watched coin ids in the
// document store, one document per user holding {coins: [ids...]}.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neelesh18904/CryptoProject/internal/docstore"
	"github.com/neelesh18904/CryptoProject/internal/metrics"
	"github.com/neelesh18904/CryptoProject/internal/model"
)

var (
	// ErrNotAuthenticated is returned for any operation without a user.
	// The store is not touched.
	ErrNotAuthenticated = errors.New("watchlist: not authenticated")
	// ErrNetwork wraps document store failures.
	ErrNetwork = errors.New("watchlist: store unavailable")
	// ErrAlreadyWatched is returned by Add when the coin is already present.
	ErrAlreadyWatched = errors.New("watchlist: coin already watched")
)

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type observed struct {
	refs int
	ids  []string
	seen bool
}

// Store reads and writes watchlists. It remembers the latest value each
// live subscription has delivered so removals are computed from what the
// user last saw.
type Store struct {
	docs docstore.Store

	mu    sync.Mutex
	state map[string]*observed
}

// NewStore creates a Store over docs.
func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs, state: make(map[string]*observed)}
}

// Subscribe delivers uid's watchlist now and on every change. A missing
// document is delivered as an empty list.
func (s *Store) Subscribe(ctx context.Context, uid string, onUpdate func([]string)) (Unsubscribe, error) {
	if uid == "" {
		return nil, ErrNotAuthenticated
	}

	s.mu.Lock()
	o, ok := s.state[uid]
	if !ok {
		o = &observed{}
		s.state[uid] = o
	}
	o.refs++
	s.mu.Unlock()

	unsub, err := s.docs.OnSnapshot(ctx, model.WatchlistCollection, uid, func(snap docstore.Snapshot) {
		ids := CoinIDs(snap)
		s.remember(uid, ids)
		onUpdate(ids)
	})
	if err != nil {
		s.release(uid)
		return nil, fmt.Errorf("subscribe watchlist %s: %w: %w", uid, ErrNetwork, err)
	}
	metrics.WatchlistSubscriptions.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			s.release(uid)
			metrics.WatchlistSubscriptions.Dec()
		})
	}, nil
}

// Add appends coinID to uid's watchlist with a merge-write.
func (s *Store) Add(ctx context.Context, uid, coinID string) error {
	if uid == "" {
		metrics.WatchlistWrites.WithLabelValues("add", metrics.OutcomeInvalid).Inc()
		return ErrNotAuthenticated
	}

	current, err := s.current(ctx, uid)
	if err != nil {
		metrics.WatchlistWrites.WithLabelValues("add", metrics.OutcomeFailure).Inc()
		return err
	}
	for _, id := range current {
		if id == coinID {
			metrics.WatchlistWrites.WithLabelValues("add", metrics.OutcomeSkipped).Inc()
			return ErrAlreadyWatched
		}
	}

	next := append(append(make([]string, 0, len(current)+1), current...), coinID)
	return s.write(ctx, "add", uid, next)
}

// Remove drops coinID from uid's watchlist with a merge-write.
func (s *Store) Remove(ctx context.Context, uid, coinID string) error {
	if uid == "" {
		metrics.WatchlistWrites.WithLabelValues("remove", metrics.OutcomeInvalid).Inc()
		return ErrNotAuthenticated
	}

	current, err := s.current(ctx, uid)
	if err != nil {
		metrics.WatchlistWrites.WithLabelValues("remove", metrics.OutcomeFailure).Inc()
		return err
	}

	next := make([]string, 0, len(current))
	for _, id := range current {
		if id != coinID {
			next = append(next, id)
		}
	}
	return s.write(ctx, "remove", uid, next)
}

// Get reads uid's watchlist once.
func (s *Store) Get(ctx context.Context, uid string) ([]string, error) {
	if uid == "" {
		return nil, ErrNotAuthenticated
	}
	snap, err := s.docs.Get(ctx, model.WatchlistCollection, uid)
	if err != nil {
		return nil, fmt.Errorf("get watchlist %s: %w: %w", uid, ErrNetwork, err)
	}
	return CoinIDs(snap), nil
}

// current is the last value delivered to a live subscription, or a fresh
// read when none has delivered yet.
func (s *Store) current(ctx context.Context, uid string) ([]string, error) {
	s.mu.Lock()
	if o, ok := s.state[uid]; ok && o.seen {
		ids := append([]string(nil), o.ids...)
		s.mu.Unlock()
		return ids, nil
	}
	s.mu.Unlock()
	return s.Get(ctx, uid)
}

func (s *Store) write(ctx context.Context, op, uid string, ids []string) error {
	err := s.docs.Set(ctx, model.WatchlistCollection, uid, docstore.Document{
		model.WatchlistField: ids,
	}, docstore.SetOptions{Merge: true})
	if err != nil {
		metrics.WatchlistWrites.WithLabelValues(op, metrics.OutcomeFailure).Inc()
		slog.Error("watchlist write failed", "op", op, "uid", uid, "err", err)
		return fmt.Errorf("%s watchlist %s: %w: %w", op, uid, ErrNetwork, err)
	}
	metrics.WatchlistWrites.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
	// The next operation must see this write even if the store notifies later.
	s.remember(uid, ids)
	return nil
}

func (s *Store) remember(uid string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state[uid]; ok {
		o.ids = append([]string(nil), ids...)
		o.seen = true
	}
}

func (s *Store) release(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state[uid]; ok {
		o.refs--
		if o.refs <= 0 {
			delete(s.state, uid)
		}
	}
}

// CoinIDs extracts the de-duplicated coin ids of a watchlist snapshot in
// first-seen order. A missing document or field yields an empty list.
func CoinIDs(snap docstore.Snapshot) []string {
	ids := []string{}
	if !snap.Exists {
		return ids
	}

	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	switch v := snap.Data[model.WatchlistField].(type) {
	case []string:
		for _, id := range v {
			add(id)
		}
	case []any:
		for _, raw := range v {
			if id, ok := raw.(string); ok {
				add(id)
			}
		}
	}
	return ids
}
