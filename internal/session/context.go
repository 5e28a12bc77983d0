// Package session holds the per-browser-session state of the tracker and
// the single goroutine that mutates it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/neelesh18904/CryptoProject/internal/auth"
	"github.com/neelesh18904/CryptoProject/internal/metrics"
	"github.com/neelesh18904/CryptoProject/internal/model"
	"github.com/neelesh18904/CryptoProject/internal/notify"
	"github.com/neelesh18904/CryptoProject/internal/watchlist"
)

// DefaultCurrency is selected when a session starts.
const DefaultCurrency = "INR"

// LoginRequiredMessage is shown when a signed-out user edits the watchlist.
const LoginRequiredMessage = "Please login to manage watchlist"

var symbols = map[string]string{
	"INR": "₹",
	"USD": "$",
}

// ErrClosed is returned once the session's reactor has stopped.
var ErrClosed = errors.New("session: closed")

// CoinFetcher loads the coin listing for a currency.
type CoinFetcher interface {
	Fetch(ctx context.Context, currency string) ([]model.Coin, error)
}

// WatchlistStore is the watchlist persistence the session drives.
type WatchlistStore interface {
	Subscribe(ctx context.Context, uid string, onUpdate func([]string)) (watchlist.Unsubscribe, error)
	Add(ctx context.Context, uid, coinID string) error
	Remove(ctx context.Context, uid, coinID string) error
}

// State is a snapshot of everything the page renders.
type State struct {
	Currency  string             `json:"currency"`
	Symbol    string             `json:"symbol"`
	Coins     []model.Coin       `json:"coins"`
	Loading   bool               `json:"loading"`
	User      *model.User        `json:"user"`
	Watchlist []string           `json:"watchlist"`
	Alert     model.Notification `json:"alert"`
}

// Config wires a Context to its collaborators.
type Config struct {
	Fetcher         CoinFetcher
	Watchlist       WatchlistStore
	Provider        auth.Provider
	DefaultCurrency string
	AlertTimeout    time.Duration
}

// Context is one browser session. All state lives on the goroutine running
// Run; the exported methods post work to it.
type Context struct {
	fetcher   CoinFetcher
	watchlist WatchlistStore
	auth      *auth.Manager
	alerts    *notify.Presenter

	qmu     sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	lmu       sync.Mutex
	nextID    uint64
	listeners map[uint64]func(State)

	// Reactor-owned.
	ctx        context.Context
	state      State
	fetchSeq   uint64
	userGen    uint64
	unsubWatch watchlist.Unsubscribe
}

// New creates a Context. Nothing happens until Run is called.
func New(cfg Config) *Context {
	cur := strings.ToUpper(cfg.DefaultCurrency)
	if cur == "" {
		cur = DefaultCurrency
	}
	sym, ok := symbols[cur]
	if !ok {
		sym = symbols[DefaultCurrency]
	}

	alerts := notify.New(cfg.AlertTimeout)
	return &Context{
		fetcher:   cfg.Fetcher,
		watchlist: cfg.Watchlist,
		auth:      auth.NewManager(cfg.Provider, alerts),
		alerts:    alerts,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		listeners: make(map[uint64]func(State)),
		state: State{
			Currency:  cur,
			Symbol:    sym,
			Coins:     []model.Coin{},
			Watchlist: []string{},
		},
	}
}

// Auth returns the session's authentication manager.
func (c *Context) Auth() *auth.Manager { return c.auth }

// Run processes events until ctx is done. It registers the one auth
// observer of the session, starts the initial fetch and collects any
// pending redirect sign-in.
func (c *Context) Run(ctx context.Context) error {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	c.ctx = ctx

	unsubAlerts := c.alerts.Subscribe(func(model.Notification) {
		c.post(func() {
			c.state.Alert = c.alerts.Current()
			c.changed()
		})
	})
	unsubAuth := c.auth.ObserveSession(func(u *model.User) {
		c.post(func() { c.applyUser(u) })
	})
	c.startFetch()

	go func() {
		if _, err := c.auth.CheckPendingRedirectResult(ctx, auth.IntentSignIn, nil); err != nil {
			slog.Warn("pending redirect result failed", "err", err)
		}
	}()

	defer func() {
		c.qmu.Lock()
		c.closed = true
		c.queue = nil
		c.qmu.Unlock()

		unsubAuth()
		unsubAlerts()
		c.alerts.Close()
		if c.unsubWatch != nil {
			c.unsubWatch()
			c.unsubWatch = nil
		}
		close(c.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			for _, fn := range c.drain() {
				fn()
			}
		}
	}
}

// Done is closed once Run has returned.
func (c *Context) Done() <-chan struct{} { return c.stopped }

func (c *Context) post(fn func()) bool {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Context) drain() []func() {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	fns := c.queue
	c.queue = nil
	return fns
}

// query runs fn on the reactor and waits for it.
func (c *Context) query(fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

// State returns a copy of the current state.
func (c *Context) State() (State, error) {
	var st State
	err := c.query(func() { st = c.snapshot() })
	return st, err
}

// Subscribe registers fn for every state change. fn runs on the reactor
// and must not block.
func (c *Context) Subscribe(fn func(State)) func() {
	c.lmu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

// SetCurrency selects the pricing currency. Selecting the current one
// again does nothing.
func (c *Context) SetCurrency(code string) error {
	if !c.post(func() { c.setCurrency(code) }) {
		return ErrClosed
	}
	return nil
}

// Refresh re-fetches the coin listing for the current currency.
func (c *Context) Refresh() error {
	if !c.post(c.startFetch) {
		return ErrClosed
	}
	return nil
}

// Notify shows n in the session's alert slot.
func (c *Context) Notify(n model.Notification) { c.alerts.Set(n) }

// Alert returns the notification currently in the slot.
func (c *Context) Alert() model.Notification { return c.alerts.Current() }

// DismissAlert closes the current alert.
func (c *Context) DismissAlert() { c.alerts.Dismiss() }

// AddToWatchlist adds coinID for the signed-in user. The outcome is shown
// as an alert and also returned, since the slot is shared.
func (c *Context) AddToWatchlist(ctx context.Context, coinID string) (model.Notification, error) {
	uid, name, err := c.watchTarget(coinID)
	if err != nil {
		return model.Notification{}, err
	}
	if uid == "" {
		return c.report(model.Failure(LoginRequiredMessage)), watchlist.ErrNotAuthenticated
	}

	switch err := c.watchlist.Add(ctx, uid, coinID); {
	case err == nil:
		return c.report(model.Success(name + " Added to the Watchlist !")), nil
	case errors.Is(err, watchlist.ErrAlreadyWatched):
		return c.report(model.Info(name + " is already in the Watchlist")), err
	default:
		return c.report(model.Failure("Failed to add to watchlist. Please try again.")), err
	}
}

// RemoveFromWatchlist removes coinID for the signed-in user and returns the
// alert it raised.
func (c *Context) RemoveFromWatchlist(ctx context.Context, coinID string) (model.Notification, error) {
	uid, name, err := c.watchTarget(coinID)
	if err != nil {
		return model.Notification{}, err
	}
	if uid == "" {
		return c.report(model.Failure(LoginRequiredMessage)), watchlist.ErrNotAuthenticated
	}

	if err := c.watchlist.Remove(ctx, uid, coinID); err != nil {
		return c.report(model.Failure("Failed to remove from watchlist. Please try again.")), err
	}
	return c.report(model.Success(name + " Removed from the Watchlist !")), nil
}

func (c *Context) report(n model.Notification) model.Notification {
	c.alerts.Set(n)
	return n
}

func (c *Context) watchTarget(coinID string) (uid, name string, err error) {
	err = c.query(func() {
		if c.state.User != nil {
			uid = c.state.User.UID
		}
		name = coinID
		for _, coin := range c.state.Coins {
			if coin.ID == coinID {
				name = coin.Name
				break
			}
		}
	})
	return uid, name, err
}

func (c *Context) setCurrency(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == c.state.Currency {
		return
	}
	c.state.Currency = code
	if sym, ok := symbols[code]; ok {
		c.state.Symbol = sym
	}
	c.startFetch()
}

func (c *Context) startFetch() {
	c.fetchSeq++
	seq := c.fetchSeq
	cur := c.state.Currency
	c.state.Loading = true
	c.changed()

	ctx := c.ctx
	go func() {
		coins, err := c.fetcher.Fetch(ctx, cur)
		c.post(func() {
			if seq != c.fetchSeq {
				return
			}
			c.state.Loading = false
			if err != nil {
				slog.Warn("coin fetch failed, keeping previous list", "currency", cur, "err", err)
			} else {
				c.state.Coins = coins
			}
			c.changed()
		})
	}()
}

func (c *Context) applyUser(u *model.User) {
	prev := c.state.User
	if prev != nil && u != nil && prev.UID == u.UID {
		c.state.User = u
		c.changed()
		return
	}

	if c.unsubWatch != nil {
		c.unsubWatch()
		c.unsubWatch = nil
	}
	c.userGen++
	gen := c.userGen
	c.state.User = u
	c.state.Watchlist = []string{}
	c.changed()

	if u == nil {
		return
	}

	ctx, uid := c.ctx, u.UID
	go func() {
		unsub, err := c.watchlist.Subscribe(ctx, uid, func(ids []string) {
			c.post(func() {
				if gen != c.userGen {
					return
				}
				c.state.Watchlist = ids
				c.changed()
			})
		})
		if err != nil {
			slog.Error("watchlist subscribe failed", "uid", uid, "err", err)
			return
		}
		if !c.post(func() {
			if gen != c.userGen {
				unsub()
				return
			}
			c.unsubWatch = unsub
		}) {
			unsub()
		}
	}()
}

func (c *Context) snapshot() State {
	st := c.state
	st.Coins = append(make([]model.Coin, 0, len(c.state.Coins)), c.state.Coins...)
	st.Watchlist = append(make([]string, 0, len(c.state.Watchlist)), c.state.Watchlist...)
	if c.state.User != nil {
		u := *c.state.User
		st.User = &u
	}
	return st
}

func (c *Context) changed() {
	c.lmu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	if len(fns) == 0 {
		return
	}

	st := c.snapshot()
	for _, fn := range fns {
		fn(st)
	}
}
