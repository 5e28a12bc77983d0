package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neelesh18904/CryptoProject/internal/session"
)

// Factory builds a new, not yet running, session context.
type Factory func() *session.Context

type entry struct {
	sc       *session.Context
	cancel   context.CancelFunc
	lastSeen time.Time
	conns    int
}

// Registry owns the live session contexts keyed by session id.
type Registry struct {
	base    context.Context
	factory Factory
	idle    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry. Sessions run until base is done, they
// are reaped, or Close is called.
func NewRegistry(base context.Context, factory Factory, idle time.Duration) *Registry {
	return &Registry{
		base:    base,
		factory: factory,
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the session for id and marks it as used.
func (r *Registry) Get(id string) (*session.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.sc, true
}

// Create starts a new session and returns its id.
func (r *Registry) Create() (string, *session.Context) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.base)
	sc := r.factory()

	r.mu.Lock()
	r.entries[id] = &entry{sc: sc, cancel: cancel, lastSeen: r.now()}
	r.mu.Unlock()

	go func() {
		if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("session stopped", "session", id, "err", err)
		}
	}()
	slog.Info("session created", "session", id)
	return id, sc
}

// Acquire pins a session while a long-lived connection uses it.
func (r *Registry) Acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		e.conns++
		e.lastSeen = r.now()
	}
	return ok
}

// Release undoes Acquire.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.conns--
		e.lastSeen = r.now()
	}
}

// Reap stops sessions idle for longer than the idle timeout that have no
// open connections. It returns how many were stopped.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.entries {
		if e.conns <= 0 && e.lastSeen.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}
	if len(stale) > 0 {
		slog.Info("reaped idle sessions", "count", len(stale))
	}
	return len(stale)
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}
