package docstore_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/neelesh18904/CryptoProject/internal/docstore"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	s := docstore.NewMemoryStore()

	snap, err := s.Get(context.Background(), "watchlist", "nobody")
	if err != nil {
		t.Fatalf("get missing document: %v", err)
	}
	if snap.Exists {
		t.Error("missing document should report Exists=false")
	}
	if snap.Data != nil {
		t.Errorf("missing document should have nil data, got %v", snap.Data)
	}
}

func TestMemoryStore_MergeKeepsOtherFields(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "watchlist", "u1", docstore.Document{
		"coins": []string{"bitcoin"},
		"note":  "keep me",
	}, docstore.SetOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Set(ctx, "watchlist", "u1", docstore.Document{
		"coins": []string{"bitcoin", "ethereum"},
	}, docstore.SetOptions{Merge: true}); err != nil {
		t.Fatalf("merge write: %v", err)
	}

	snap, _ := s.Get(ctx, "watchlist", "u1")
	if snap.Data["note"] != "keep me" {
		t.Errorf("merge clobbered unrelated field: %v", snap.Data)
	}
	if !reflect.DeepEqual(snap.Data["coins"], []string{"bitcoin", "ethereum"}) {
		t.Errorf("unexpected coins: %v", snap.Data["coins"])
	}
}

func TestMemoryStore_ReplaceDropsOtherFields(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": []string{"a"}, "note": "x"}, docstore.SetOptions{})
	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": []string{"b"}}, docstore.SetOptions{})

	snap, _ := s.Get(ctx, "watchlist", "u1")
	if _, ok := snap.Data["note"]; ok {
		t.Errorf("non-merge write should replace the document, got %v", snap.Data)
	}
}

func TestMemoryStore_OnSnapshotDeliversInitialAndChanges(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	var got []docstore.Snapshot
	unsub, err := s.OnSnapshot(ctx, "watchlist", "u1", func(snap docstore.Snapshot) {
		got = append(got, snap)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": []string{"bitcoin"}}, docstore.SetOptions{Merge: true})
	s.Set(ctx, "watchlist", "other", docstore.Document{"coins": []string{"doge"}}, docstore.SetOptions{Merge: true})

	if len(got) != 2 {
		t.Fatalf("expected initial + 1 change, got %d snapshots", len(got))
	}
	if got[0].Exists {
		t.Error("initial snapshot of missing doc should not exist")
	}
	if !got[1].Exists {
		t.Error("second snapshot should exist")
	}

	unsub()
	unsub() // idempotent

	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": []string{}}, docstore.SetOptions{Merge: true})
	if len(got) != 2 {
		t.Errorf("no delivery expected after unsubscribe, got %d", len(got))
	}
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()

	coins := []string{"bitcoin"}
	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": coins}, docstore.SetOptions{})
	coins[0] = "mutated"

	snap, _ := s.Get(ctx, "watchlist", "u1")
	if snap.Data["coins"].([]string)[0] != "bitcoin" {
		t.Error("store shares backing array with caller")
	}
}

func TestMemoryStore_DeleteNotifies(t *testing.T) {
	s := docstore.NewMemoryStore()
	ctx := context.Background()
	s.Set(ctx, "watchlist", "u1", docstore.Document{"coins": []string{"a"}}, docstore.SetOptions{})

	var last docstore.Snapshot
	s.OnSnapshot(ctx, "watchlist", "u1", func(snap docstore.Snapshot) { last = snap })
	if !last.Exists {
		t.Fatal("initial snapshot should exist")
	}

	s.Delete(ctx, "watchlist", "u1")
	if last.Exists {
		t.Error("delete should deliver a non-existent snapshot")
	}
}
