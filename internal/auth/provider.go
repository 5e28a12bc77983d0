package auth

import (
	"context"
	"sync"

	"github.com/neelesh18904/CryptoProject/internal/model"
)

// Provider is one client's handle on the identity provider, the equivalent
// of a client SDK auth instance. Failures are *ProviderError values.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.User, error)
	CreateUserWithPassword(ctx context.Context, email, password string) (*model.User, error)

	// SignInWithPopup runs an interactive sign-in and returns its result.
	SignInWithPopup(ctx context.Context, cfg OAuthConfig) (*model.User, error)

	// SignInWithRedirect starts a redirect sign-in and returns the URL the
	// browser must navigate to. The result is only available through
	// RedirectResult once the browser comes back.
	SignInWithRedirect(ctx context.Context, cfg OAuthConfig) (string, error)

	// RedirectResult completes a pending redirect sign-in. It returns
	// (nil, nil) when none is pending.
	RedirectResult(ctx context.Context) (*model.User, error)

	SignOut(ctx context.Context) error

	// OnAuthStateChanged calls fn with the current user immediately and on
	// every change. The returned func unregisters fn.
	OnAuthStateChanged(fn func(*model.User)) func()
}

// RedirectCallbackRecorder is implemented by providers that need the URL
// the browser returned to in order to finish a redirect sign-in.
type RedirectCallbackRecorder interface {
	RecordRedirectCallback(uri string)
}

// Intent selects the wording used for an OAuth flow.
type Intent int

const (
	IntentSignIn Intent = iota
	IntentSignUp
)

// ParseIntent maps "signup" to IntentSignUp and anything else to
// IntentSignIn.
func ParseIntent(s string) Intent {
	if s == "signup" || s == "sign-up" || s == "sign_up" {
		return IntentSignUp
	}
	return IntentSignIn
}

func (i Intent) String() string {
	if i == IntentSignUp {
		return "signup"
	}
	return "signin"
}

func (i Intent) title() string {
	if i == IntentSignUp {
		return "Sign Up"
	}
	return "Sign In"
}

func (i Intent) noun() string {
	if i == IntentSignUp {
		return "Sign-up"
	}
	return "Sign-in"
}

func (i Intent) verb() string {
	if i == IntentSignUp {
		return "sign up"
	}
	return "sign in"
}

// OAuthConfig describes the federated identity provider to use.
type OAuthConfig struct {
	ProviderID       string
	DisplayName      string
	Scopes           []string
	CustomParameters map[string]string
	Intent           Intent
}

// GoogleProvider is the Google configuration: email and profile scopes and
// an account chooser on every attempt.
func GoogleProvider(intent Intent) OAuthConfig {
	return OAuthConfig{
		ProviderID:       "google.com",
		DisplayName:      "Google",
		Scopes:           []string{"email", "profile"},
		CustomParameters: map[string]string{"prompt": "select_account"},
		Intent:           intent,
	}
}

// observers is the auth-state listener registry shared by providers.
type observers struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(*model.User)
}

func (o *observers) add(fn func(*model.User)) func() {
	o.mu.Lock()
	if o.fns == nil {
		o.fns = make(map[uint64]func(*model.User))
	}
	o.next++
	id := o.next
	o.fns[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) notify(u *model.User) {
	o.mu.Lock()
	fns := make([]func(*model.User), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(u))
	}
}

func copyUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
