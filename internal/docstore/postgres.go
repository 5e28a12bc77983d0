package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgChangesChannel carries "<collection>/<id>" payloads for every write.
const pgChangesChannel = "docstore_changes"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Documents are jsonb; a merge write is a top-level jsonb concatenation.
// Change notification uses LISTEN/NOTIFY, consumed by Listen.
type PostgresStore struct {
	pool *pgxpool.Pool
	subs *listeners
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, subs: newListeners()}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			data       JSONB       NOT NULL DEFAULT '{}'::JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	snap := Snapshot{Collection: collection, ID: id}

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("get document %s: %w", docKey(collection, id), err)
	}

	if err := json.Unmarshal(raw, &snap.Data); err != nil {
		return snap, fmt.Errorf("decode document %s: %w", docKey(collection, id), err)
	}
	snap.Exists = true
	return snap, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", docKey(collection, id), err)
	}

	upsert := `INSERT INTO documents (collection, id, data, updated_at)
		 VALUES ($1, $2, $3::JSONB, now())
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = now()`
	if opts.Merge {
		upsert = `INSERT INTO documents (collection, id, data, updated_at)
		 VALUES ($1, $2, $3::JSONB, now())
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = documents.data || EXCLUDED.data, updated_at = now()`
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", docKey(collection, id), err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsert, collection, id, string(raw)); err != nil {
		return fmt.Errorf("write document %s: %w", docKey(collection, id), err)
	}
	// Delivered on commit, so listeners never read an uncommitted row.
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChangesChannel, docKey(collection, id)); err != nil {
		return fmt.Errorf("notify document %s: %w", docKey(collection, id), err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) OnSnapshot(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	unsub := s.subs.add(docKey(collection, id), fn)

	snap, err := s.Get(ctx, collection, id)
	if err != nil {
		unsub()
		return nil, err
	}
	fn(snap)
	return unsub, nil
}

// Listen consumes the change channel and fans snapshots out to local
// subscribers. Blocks until ctx is cancelled. Must be called in a goroutine.
func (s *PostgresStore) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChangesChannel); err != nil {
		return fmt.Errorf("listen %s: %w", pgChangesChannel, err)
	}
	slog.Info("docstore listening for changes", "channel", pgChangesChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		if !s.subs.has(n.Payload) {
			continue
		}

		collection, id, err := splitKey(n.Payload)
		if err != nil {
			slog.Warn("ignoring change notification", "payload", n.Payload, "err", err)
			continue
		}
		snap, err := s.Get(ctx, collection, id)
		if err != nil {
			slog.Error("reload changed document", "key", n.Payload, "err", err)
			continue
		}
		s.subs.publish(snap)
	}
}
