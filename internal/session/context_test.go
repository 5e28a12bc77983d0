package session_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neelesh18904/CryptoProject/internal/auth"
	"github.com/neelesh18904/CryptoProject/internal/docstore"
	"github.com/neelesh18904/CryptoProject/internal/model"
	"github.com/neelesh18904/CryptoProject/internal/session"
	"github.com/neelesh18904/CryptoProject/internal/watchlist"
)

// fakeFetcher returns one coin per currency and records every call.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	gates map[string]chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, currency string) ([]model.Coin, error) {
	f.mu.Lock()
	f.calls = append(f.calls, currency)
	fail := f.fail[currency]
	gate := f.gates[currency]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("upstream down")
	}
	return []model.Coin{
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc", CurrentPrice: decimal.NewFromInt(100)},
		{ID: "ethereum", Name: "Ethereum", Symbol: "eth", CurrentPrice: decimal.NewFromInt(10)},
		{ID: "price-" + currency, Name: currency},
	}, nil
}

func (f *fakeFetcher) callsFor(currency string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == currency {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) setFail(currency string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]bool)
	}
	f.fail[currency] = fail
}

// countingWatchlist records calls and never succeeds at anything useful.
type countingWatchlist struct {
	mu    sync.Mutex
	calls int
}

func (w *countingWatchlist) Subscribe(ctx context.Context, uid string, fn func([]string)) (watchlist.Unsubscribe, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	fn([]string{})
	return func() {}, nil
}

func (w *countingWatchlist) Add(ctx context.Context, uid, coinID string) error {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	return nil
}

func (w *countingWatchlist) Remove(ctx context.Context, uid, coinID string) error {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	return nil
}

// countingProvider counts auth observer registrations.
type countingProvider struct {
	*auth.MemoryProvider
	mu        sync.Mutex
	observers int
}

func (p *countingProvider) OnAuthStateChanged(fn func(*model.User)) func() {
	p.mu.Lock()
	p.observers++
	p.mu.Unlock()
	return p.MemoryProvider.OnAuthStateChanged(fn)
}

type env struct {
	ctx      *session.Context
	fetcher  *fakeFetcher
	provider *auth.MemoryProvider
	dir      *auth.MemoryDirectory
}

func start(t *testing.T, f *fakeFetcher, wl session.WatchlistStore) *env {
	t.Helper()
	dir := auth.NewMemoryDirectory()
	p := auth.NewMemoryProvider(dir)
	if wl == nil {
		wl = watchlist.NewStore(docstore.NewMemoryStore())
	}
	c := session.New(session.Config{Fetcher: f, Watchlist: wl, Provider: p})

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return &env{ctx: c, fetcher: f, provider: p, dir: dir}
}

func waitFor(t *testing.T, c *session.Context, what string, pred func(session.State) bool) session.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := c.State()
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if pred(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", what, st)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func loaded(currency string) func(session.State) bool {
	return func(st session.State) bool {
		return st.Currency == currency && !st.Loading && len(st.Coins) > 0 && st.Coins[2].ID == "price-"+currency
	}
}

func TestInitialFetch(t *testing.T) {
	e := start(t, &fakeFetcher{}, nil)

	st := waitFor(t, e.ctx, "initial listing", loaded("INR"))
	if st.Symbol != "₹" {
		t.Errorf("symbol = %q", st.Symbol)
	}
	if st.User != nil || len(st.Watchlist) != 0 {
		t.Errorf("fresh session should be signed out: %+v", st)
	}
}

func TestSetCurrency_SwitchesSymbolAndFetchesOnce(t *testing.T) {
	e := start(t, &fakeFetcher{}, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	e.ctx.SetCurrency("USD")
	e.ctx.SetCurrency("USD")
	st := waitFor(t, e.ctx, "usd listing", loaded("USD"))

	if st.Symbol != "$" {
		t.Errorf("symbol = %q, want $", st.Symbol)
	}
	if n := e.fetcher.callsFor("USD"); n != 1 {
		t.Errorf("expected one USD fetch, got %d", n)
	}
	if n := e.fetcher.callsFor("INR"); n != 1 {
		t.Errorf("expected one INR fetch, got %d", n)
	}
}

func TestSetCurrency_UnknownKeepsSymbol(t *testing.T) {
	e := start(t, &fakeFetcher{}, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	e.ctx.SetCurrency("eur")
	st := waitFor(t, e.ctx, "eur listing", loaded("EUR"))
	if st.Symbol != "₹" {
		t.Errorf("unknown currency changed the symbol to %q", st.Symbol)
	}
}

func TestFetchFailure_KeepsPreviousList(t *testing.T) {
	f := &fakeFetcher{}
	e := start(t, f, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	f.setFail("USD", true)
	e.ctx.SetCurrency("USD")
	st := waitFor(t, e.ctx, "failed usd fetch", func(st session.State) bool {
		return st.Currency == "USD" && !st.Loading
	})
	if st.Coins[2].ID != "price-INR" {
		t.Errorf("failed fetch replaced the list: %v", st.Coins)
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFetcher{gates: map[string]chan struct{}{"USD": gate}}
	e := start(t, f, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	e.ctx.SetCurrency("USD")
	waitFor(t, e.ctx, "usd fetch started", func(session.State) bool { return f.callsFor("USD") == 1 })
	e.ctx.SetCurrency("INR")
	waitFor(t, e.ctx, "inr listing again", func(st session.State) bool {
		return loaded("INR")(st) && f.callsFor("INR") == 2
	})

	close(gate)
	time.Sleep(20 * time.Millisecond)
	st, _ := e.ctx.State()
	if st.Currency != "INR" || st.Coins[2].ID != "price-INR" {
		t.Errorf("stale USD result applied: %+v", st)
	}
}

func TestUnauthenticatedAdd(t *testing.T) {
	wl := &countingWatchlist{}
	e := start(t, &fakeFetcher{}, wl)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	n, err := e.ctx.AddToWatchlist(context.Background(), "bitcoin")
	if !errors.Is(err, watchlist.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if n.Message != session.LoginRequiredMessage {
		t.Errorf("returned notification %+v", n)
	}
	st := waitFor(t, e.ctx, "alert", func(st session.State) bool { return st.Alert.Open })
	if st.Alert.Severity != model.SeverityError || st.Alert.Message != "Please login to manage watchlist" {
		t.Errorf("unexpected alert %+v", st.Alert)
	}
	if wl.calls != 0 {
		t.Errorf("watchlist store touched %d times", wl.calls)
	}
}

func TestSignInWatchlistLifecycle(t *testing.T) {
	e := start(t, &fakeFetcher{}, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))
	bg := context.Background()

	if _, err := e.ctx.Auth().SignUpWithPassword(bg, "ada@example.com", "secret1", "secret1", nil); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	waitFor(t, e.ctx, "user", func(st session.State) bool { return st.User != nil })

	n, err := e.ctx.AddToWatchlist(bg, "bitcoin")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if n.Severity != model.SeveritySuccess || n.Message != "Bitcoin Added to the Watchlist !" {
		t.Errorf("returned notification %+v", n)
	}
	st := waitFor(t, e.ctx, "watchlist", func(st session.State) bool {
		return reflect.DeepEqual(st.Watchlist, []string{"bitcoin"})
	})
	if st.Alert.Message != "Bitcoin Added to the Watchlist !" {
		t.Errorf("alert = %q", st.Alert.Message)
	}

	panel, ok, err := e.ctx.Panel()
	if err != nil || !ok {
		t.Fatalf("panel: ok=%v err=%v", ok, err)
	}
	if panel.Profile.Name != "ada@example.com" || len(panel.Items) != 1 || panel.Items[0].Price != "₹ 100.00" {
		t.Errorf("unexpected panel %+v", panel)
	}

	n, err = e.ctx.AddToWatchlist(bg, "bitcoin")
	if !errors.Is(err, watchlist.ErrAlreadyWatched) || n.Severity != model.SeverityInfo {
		t.Errorf("second add: %+v %v", n, err)
	}

	n, err = e.ctx.RemoveFromWatchlist(bg, "bitcoin")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n.Message != "Bitcoin Removed from the Watchlist !" {
		t.Errorf("returned notification %+v", n)
	}
	st = waitFor(t, e.ctx, "empty watchlist", func(st session.State) bool { return len(st.Watchlist) == 0 })
	if st.Alert.Message != "Bitcoin Removed from the Watchlist !" {
		t.Errorf("alert = %q", st.Alert.Message)
	}

	if err := e.ctx.Auth().SignOut(bg); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	waitFor(t, e.ctx, "signed out", func(st session.State) bool { return st.User == nil })
	if _, ok, _ := e.ctx.Panel(); ok {
		t.Error("panel should not exist when signed out")
	}
}

func TestWatchlistFollowsUser(t *testing.T) {
	mem := docstore.NewMemoryStore()
	bg := context.Background()
	e := start(t, &fakeFetcher{}, watchlist.NewStore(mem))

	a, err := e.provider.CreateUserWithPassword(bg, "a@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	mem.Set(bg, model.WatchlistCollection, a.UID, docstore.Document{"coins": []string{"bitcoin"}}, docstore.SetOptions{})
	waitFor(t, e.ctx, "a's watchlist", func(st session.State) bool {
		return st.User != nil && st.User.UID == a.UID && reflect.DeepEqual(st.Watchlist, []string{"bitcoin"})
	})

	b, err := e.provider.CreateUserWithPassword(bg, "b@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, e.ctx, "b's empty watchlist", func(st session.State) bool {
		return st.User != nil && st.User.UID == b.UID && len(st.Watchlist) == 0
	})

	// Changes to a's document no longer reach the session.
	mem.Set(bg, model.WatchlistCollection, a.UID, docstore.Document{"coins": []string{"ethereum"}}, docstore.SetOptions{})
	time.Sleep(20 * time.Millisecond)
	st, _ := e.ctx.State()
	if len(st.Watchlist) != 0 {
		t.Errorf("stale subscription delivered %v", st.Watchlist)
	}
}

func TestSingleAuthObserver(t *testing.T) {
	p := &countingProvider{MemoryProvider: auth.NewMemoryProvider(auth.NewMemoryDirectory())}
	c := session.New(session.Config{
		Fetcher:   &fakeFetcher{},
		Watchlist: &countingWatchlist{},
		Provider:  p,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	defer func() { cancel(); <-c.Done() }()

	waitFor(t, c, "initial listing", loaded("INR"))
	c.SetCurrency("USD")
	waitFor(t, c, "usd listing", loaded("USD"))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observers != 1 {
		t.Errorf("expected one auth observer, got %d", p.observers)
	}
}

func TestSubscribeAndDismiss(t *testing.T) {
	e := start(t, &fakeFetcher{}, nil)
	waitFor(t, e.ctx, "initial listing", loaded("INR"))

	got := make(chan session.State, 16)
	unsub := e.ctx.Subscribe(func(st session.State) {
		select {
		case got <- st:
		default:
		}
	})
	defer unsub()

	e.ctx.Notify(model.Info("hello"))
	select {
	case st := <-got:
		if st.Alert.Message != "hello" {
			t.Errorf("alert = %+v", st.Alert)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no state pushed")
	}

	e.ctx.DismissAlert()
	waitFor(t, e.ctx, "dismissed", func(st session.State) bool { return !st.Alert.Open })
}

func TestClosedContext(t *testing.T) {
	c := session.New(session.Config{Fetcher: &fakeFetcher{}, Watchlist: &countingWatchlist{}, Provider: auth.NewMemoryProvider(auth.NewMemoryDirectory())})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	cancel()
	<-c.Done()

	if _, err := c.State(); !errors.Is(err, session.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.SetCurrency("USD"); !errors.Is(err, session.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
