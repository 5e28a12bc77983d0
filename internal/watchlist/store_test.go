package watchlist_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/neelesh18904/CryptoProject/internal/docstore"
	"github.com/neelesh18904/CryptoProject/internal/model"
	"github.com/neelesh18904/CryptoProject/internal/watchlist"
)

// countingStore wraps a docstore and can be told to fail.
type countingStore struct {
	docstore.Store

	mu     sync.Mutex
	sets   int
	gets   int
	setErr error
}

func (c *countingStore) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Store.Get(ctx, collection, id)
}

func (c *countingStore) Set(ctx context.Context, collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	c.mu.Lock()
	c.sets++
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if !opts.Merge {
		return errors.New("watchlist writes must merge")
	}
	return c.Store.Set(ctx, collection, id, data, opts)
}

func newStore() (*watchlist.Store, *countingStore, *docstore.MemoryStore) {
	mem := docstore.NewMemoryStore()
	cs := &countingStore{Store: mem}
	return watchlist.NewStore(cs), cs, mem
}

func TestSubscribe_MissingDocumentIsEmpty(t *testing.T) {
	s, _, _ := newStore()

	var got [][]string
	unsub, err := s.Subscribe(context.Background(), "u1", func(ids []string) { got = append(got, ids) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if len(got) != 1 {
		t.Fatalf("expected one initial delivery, got %d", len(got))
	}
	if got[0] == nil || len(got[0]) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", got[0])
	}
}

func TestAddThenRemove(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	var last []string
	unsub, err := s.Subscribe(ctx, "u1", func(ids []string) { last = ids })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	if err := s.Add(ctx, "u1", "bitcoin"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(ctx, "u1", "ethereum"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !reflect.DeepEqual(last, []string{"bitcoin", "ethereum"}) {
		t.Fatalf("after add: %v", last)
	}

	if err := s.Remove(ctx, "u1", "bitcoin"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !reflect.DeepEqual(last, []string{"ethereum"}) {
		t.Errorf("after remove: %v", last)
	}
}

func TestAdd_AlreadyWatchedWritesNothing(t *testing.T) {
	s, cs, _ := newStore()
	ctx := context.Background()

	if err := s.Add(ctx, "u1", "bitcoin"); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "u1", "bitcoin"); !errors.Is(err, watchlist.ErrAlreadyWatched) {
		t.Fatalf("expected ErrAlreadyWatched, got %v", err)
	}
	if cs.sets != 1 {
		t.Errorf("expected one write, got %d", cs.sets)
	}
}

func TestUnauthenticatedNeverTouchesStore(t *testing.T) {
	s, cs, _ := newStore()
	ctx := context.Background()

	if err := s.Add(ctx, "", "bitcoin"); !errors.Is(err, watchlist.ErrNotAuthenticated) {
		t.Errorf("add: %v", err)
	}
	if err := s.Remove(ctx, "", "bitcoin"); !errors.Is(err, watchlist.ErrNotAuthenticated) {
		t.Errorf("remove: %v", err)
	}
	if _, err := s.Subscribe(ctx, "", func([]string) {}); !errors.Is(err, watchlist.ErrNotAuthenticated) {
		t.Errorf("subscribe: %v", err)
	}
	if cs.sets != 0 || cs.gets != 0 {
		t.Errorf("store touched: sets=%d gets=%d", cs.sets, cs.gets)
	}
}

func TestRemove_UsesObservedValue(t *testing.T) {
	s, cs, mem := newStore()
	ctx := context.Background()
	mem.Set(ctx, model.WatchlistCollection, "u1", docstore.Document{"coins": []string{"a", "b"}}, docstore.SetOptions{})

	unsub, _ := s.Subscribe(ctx, "u1", func([]string) {})
	defer unsub()

	if err := s.Remove(ctx, "u1", "a"); err != nil {
		t.Fatal(err)
	}
	if cs.gets != 0 {
		t.Errorf("remove should use the observed value, made %d reads", cs.gets)
	}
	snap, _ := mem.Get(ctx, model.WatchlistCollection, "u1")
	if got := watchlist.CoinIDs(snap); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("stored %v", got)
	}
}

func TestRemove_WithoutSubscriptionReadsStore(t *testing.T) {
	s, cs, mem := newStore()
	ctx := context.Background()
	mem.Set(ctx, model.WatchlistCollection, "u1", docstore.Document{"coins": []string{"a", "b"}}, docstore.SetOptions{})

	if err := s.Remove(ctx, "u1", "b"); err != nil {
		t.Fatal(err)
	}
	if cs.gets != 1 {
		t.Errorf("expected one read, got %d", cs.gets)
	}
	snap, _ := mem.Get(ctx, model.WatchlistCollection, "u1")
	if got := watchlist.CoinIDs(snap); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("stored %v", got)
	}
}

func TestWriteFailureIsNetwork(t *testing.T) {
	s, cs, _ := newStore()
	cs.setErr = errors.New("connection refused")

	err := s.Add(context.Background(), "u1", "bitcoin")
	if !errors.Is(err, watchlist.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}

func TestMergeKeepsOtherFields(t *testing.T) {
	s, _, mem := newStore()
	ctx := context.Background()
	mem.Set(ctx, model.WatchlistCollection, "u1", docstore.Document{"coins": []string{}, "theme": "dark"}, docstore.SetOptions{})

	if err := s.Add(ctx, "u1", "bitcoin"); err != nil {
		t.Fatal(err)
	}
	snap, _ := mem.Get(ctx, model.WatchlistCollection, "u1")
	if snap.Data["theme"] != "dark" {
		t.Errorf("merge-write dropped other fields: %v", snap.Data)
	}
}

func TestCoinIDs_Dedupes(t *testing.T) {
	snap := docstore.Snapshot{Exists: true, Data: docstore.Document{
		"coins": []any{"bitcoin", "ethereum", "bitcoin", 42, ""},
	}}
	if got := watchlist.CoinIDs(snap); !reflect.DeepEqual(got, []string{"bitcoin", "ethereum"}) {
		t.Errorf("got %v", got)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	calls := 0
	unsub, _ := s.Subscribe(ctx, "u1", func([]string) { calls++ })
	unsub()
	unsub()

	s.Add(ctx, "u1", "bitcoin")
	if calls != 1 {
		t.Errorf("expected only the initial delivery, got %d", calls)
	}
}
