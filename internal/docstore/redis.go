package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisChangesChannel carries "<collection>/<id>" payloads for every write.
const redisChangesChannel = "docstore:changes"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store, invalidate the cache and publish the
// document key; Listen turns those messages into snapshots for local
// subscribers, so every instance behind the same Redis sees every write.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	subs    *listeners
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		subs:    newListeners(),
	}
}

// --- Write-through (write to primary, invalidate cache, publish) ---

func (s *CachedStore) Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error {
	if err := s.primary.Set(ctx, collection, id, data, opts); err != nil {
		return err
	}
	key := docKey(collection, id)
	// Invalidate; next read will re-populate.
	if err := s.rdb.Del(ctx, cacheKey(key)).Err(); err != nil {
		slog.Warn("invalidate cached document", "key", key, "err", err)
	}
	if err := s.rdb.Publish(ctx, redisChangesChannel, key).Err(); err != nil {
		slog.Warn("publish document change", "key", key, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	key := docKey(collection, id)

	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return snap, nil
		}
	}

	// Cache miss: read from primary.
	return s.reload(ctx, collection, id)
}

// reload reads the document from the primary store and overwrites the cache
// entry with it. Subscribers only ever receive reloaded snapshots.
func (s *CachedStore) reload(ctx context.Context, collection, id string) (Snapshot, error) {
	snap, err := s.primary.Get(ctx, collection, id)
	if err != nil {
		return snap, err
	}
	key := docKey(collection, id)
	if data, err := json.Marshal(snap); err == nil {
		if err := s.rdb.Set(ctx, cacheKey(key), data, s.ttl).Err(); err != nil {
			slog.Warn("cache document", "key", key, "err", err)
		}
	}
	return snap, nil
}

func (s *CachedStore) OnSnapshot(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	unsub := s.subs.add(docKey(collection, id), fn)

	snap, err := s.reload(ctx, collection, id)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(snap)
	return unsub, nil
}

// Listen subscribes to the change channel and fans snapshots out to local
// subscribers. Blocks until ctx is cancelled. Must be called in a goroutine.
func (s *CachedStore) Listen(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, redisChangesChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", redisChangesChannel, err)
	}
	slog.Info("docstore listening for changes", "channel", redisChangesChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !s.subs.has(msg.Payload) {
				continue
			}
			collection, id, err := splitKey(msg.Payload)
			if err != nil {
				slog.Warn("ignoring change message", "payload", msg.Payload, "err", err)
				continue
			}
			snap, err := s.reload(ctx, collection, id)
			if err != nil {
				slog.Error("reload changed document", "key", msg.Payload, "err", err)
				continue
			}
			s.subs.publish(snap)
		}
	}
}

func cacheKey(key string) string { return fmt.Sprintf("doc:%s", key) }
