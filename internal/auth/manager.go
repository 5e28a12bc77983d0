// Package auth handles sign-in, sign-up and sign-out against an identity
// provider and classifies provider failures into a fixed taxonomy. Every
// operation reports its outcome as a Notification.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/neelesh18904/CryptoProject/internal/metrics"
	"github.com/neelesh18904/CryptoProject/internal/model"
)

// Notifier receives the user-facing outcome of an operation.
type Notifier interface {
	Set(model.Notification)
}

// OAuthState is the position of the last OAuth attempt in the
// popup-then-redirect state machine.
type OAuthState string

const (
	StateIdle                  OAuthState = "idle"
	StatePopupAttempted        OAuthState = "popup_attempted"
	StatePopupBlocked          OAuthState = "popup_blocked"
	StateRedirectInitiated     OAuthState = "redirect_initiated"
	StateRedirectResultChecked OAuthState = "redirect_result_checked"
	StateSuccess               OAuthState = "success"
	StateFailure               OAuthState = "failure"
)

// OAuthResult is the outcome of a successful OAuth attempt. Redirected is
// set when the popup was blocked and the browser must follow RedirectURL;
// User is then nil until the redirect result is collected.
type OAuthResult struct {
	User        *model.User
	Redirected  bool
	RedirectURL string
}

// LogoutMessage is the success text of SignOut.
const LogoutMessage = "Logout Successful !"

const (
	msgDomainNotAuthorized = "Domain not authorized for Google Sign-In. Please contact the administrator to add this domain to the authorized domains list."
	msgRedirectFailed      = "Authentication failed. Please try again or check your browser settings."
	msgRedirectResult      = "Authentication failed. Please try again."
	msgNetwork             = "Network error. Please check your connection"
	msgLogoutFailed        = "Failed to logout. Please try again."
	msgLogoutNetwork       = "Network error. Please check your connection and try again."
)

// Manager drives one browser session's authentication. It is safe for
// concurrent use.
type Manager struct {
	provider Provider
	notifier Notifier

	signingOut atomic.Bool

	mu    sync.Mutex
	state OAuthState
}

// NewManager creates a Manager reporting outcomes to notifier.
func NewManager(p Provider, n Notifier) *Manager {
	return &Manager{provider: p, notifier: n, state: StateIdle}
}

// State returns the state of the last OAuth attempt.
func (m *Manager) State() OAuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s OAuthState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// SignInWithPassword validates locally, then signs in. done runs only on
// success.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string, done func(*model.User)) (*model.User, error) {
	if v := validateSignIn(email, password); v != nil {
		return nil, m.rejectInput("password_signin", v)
	}

	user, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		ae := Classify(err)
		return nil, m.fail("password_signin", ae, passwordSignInMessage(ae))
	}

	m.succeed("password_signin", WelcomeMessage(IntentSignIn, user.Email), user, done)
	return user, nil
}

// SignUpWithPassword validates the form locally, then creates the account.
// done runs only on success.
func (m *Manager) SignUpWithPassword(ctx context.Context, email, password, confirm string, done func(*model.User)) (*model.User, error) {
	if v := validateSignUp(email, password, confirm); v != nil {
		return nil, m.rejectInput("password_signup", v)
	}

	user, err := m.provider.CreateUserWithPassword(ctx, email, password)
	if err != nil {
		ae := Classify(err)
		return nil, m.fail("password_signup", ae, signUpMessage(ae))
	}

	m.succeed("password_signup", WelcomeMessage(IntentSignUp, user.Email), user, done)
	return user, nil
}

// SignInWithOAuth tries a popup first and falls back to exactly one
// redirect attempt when the popup is blocked. An unauthorized domain in
// either branch ends the attempt.
func (m *Manager) SignInWithOAuth(ctx context.Context, cfg OAuthConfig, done func(*model.User)) (OAuthResult, error) {
	m.setState(StatePopupAttempted)

	user, err := m.provider.SignInWithPopup(ctx, cfg)
	if err == nil {
		m.setState(StateSuccess)
		m.succeed("oauth_popup", WelcomeMessage(cfg.Intent, user.Label()), user, done)
		return OAuthResult{User: user}, nil
	}

	ae := Classify(err)
	if !errors.Is(ae, ErrPopupBlocked) {
		m.setState(StateFailure)
		return OAuthResult{}, m.fail("oauth_popup", ae, oauthMessage(cfg.Intent, ae))
	}

	m.setState(StatePopupBlocked)
	slog.Info("popup blocked, falling back to redirect", "provider", cfg.ProviderID)

	url, err := m.provider.SignInWithRedirect(ctx, cfg)
	if err != nil {
		rae := Classify(err)
		m.setState(StateFailure)
		if errors.Is(rae, ErrDomainNotAuthorized) {
			return OAuthResult{}, m.fail("oauth_redirect", rae, msgDomainNotAuthorized)
		}
		wrapped := &Error{Kind: ErrUnknown, Code: rae.Code, Message: rae.Message, Err: err}
		return OAuthResult{}, m.fail("oauth_redirect", wrapped, msgRedirectFailed)
	}

	m.setState(StateRedirectInitiated)
	metrics.AuthAttempts.WithLabelValues("oauth_redirect", metrics.OutcomeRedirect).Inc()
	return OAuthResult{Redirected: true, RedirectURL: url}, nil
}

// CheckPendingRedirectResult completes a redirect sign-in started earlier.
// It returns (nil, nil) when no redirect is pending.
func (m *Manager) CheckPendingRedirectResult(ctx context.Context, intent Intent, done func(*model.User)) (*model.User, error) {
	user, err := m.provider.RedirectResult(ctx)
	if err != nil {
		ae := Classify(err)
		m.setState(StateFailure)
		return nil, m.fail("oauth_redirect_result", ae, msgRedirectResult)
	}
	if user == nil {
		metrics.AuthAttempts.WithLabelValues("oauth_redirect_result", metrics.OutcomeSkipped).Inc()
		return nil, nil
	}

	m.setState(StateRedirectResultChecked)
	m.succeed("oauth_redirect_result", WelcomeMessage(intent, user.Label()), user, done)
	return user, nil
}

// RecordRedirectCallback hands the URL the browser returned to over to
// providers that need it to finish a redirect sign-in.
func (m *Manager) RecordRedirectCallback(uri string) {
	if r, ok := m.provider.(RedirectCallbackRecorder); ok {
		r.RecordRedirectCallback(uri)
	}
}

// SignOut ends the session. A call made while another is in flight returns
// immediately without notifying.
func (m *Manager) SignOut(ctx context.Context) error {
	if !m.signingOut.CompareAndSwap(false, true) {
		metrics.AuthAttempts.WithLabelValues("signout", metrics.OutcomeSkipped).Inc()
		return nil
	}
	defer m.signingOut.Store(false)

	if err := m.provider.SignOut(ctx); err != nil {
		ae := Classify(err)
		msg := msgLogoutFailed
		switch {
		case errors.Is(ae, ErrNetwork):
			msg = msgLogoutNetwork
		case ae.Message != "":
			msg = ae.Message
		}
		return m.fail("signout", ae, msg)
	}

	metrics.AuthAttempts.WithLabelValues("signout", metrics.OutcomeSuccess).Inc()
	m.notifier.Set(model.Success(LogoutMessage))
	return nil
}

// ObserveSession registers cb for identity changes. cb fires once with the
// current user. The returned func is idempotent.
func (m *Manager) ObserveSession(cb func(*model.User)) func() {
	return m.provider.OnAuthStateChanged(cb)
}

func (m *Manager) rejectInput(method string, v *ValidationError) error {
	metrics.AuthAttempts.WithLabelValues(method, metrics.OutcomeInvalid).Inc()
	m.notifier.Set(model.Failure(validationMessage(v)))
	return v
}

func (m *Manager) succeed(method, msg string, user *model.User, done func(*model.User)) {
	metrics.AuthAttempts.WithLabelValues(method, metrics.OutcomeSuccess).Inc()
	slog.Info("authenticated", "method", method, "uid", user.UID)
	m.notifier.Set(model.Success(msg))
	if done != nil {
		done(user)
	}
}

// fail reports msg and returns a copy of ae carrying it as the Notice.
func (m *Manager) fail(method string, ae *Error, msg string) *Error {
	metrics.AuthAttempts.WithLabelValues(method, metrics.OutcomeFailure).Inc()
	metrics.AuthErrors.WithLabelValues(KindName(ae)).Inc()
	slog.Warn("authentication failed", "method", method, "kind", KindName(ae), "code", ae.Code, "err", ae.Err)
	m.notifier.Set(model.Failure(msg))

	out := *ae
	out.Notice = msg
	return &out
}

// WelcomeMessage is the success text for a sign-in or sign-up of name.
func WelcomeMessage(intent Intent, name string) string {
	return fmt.Sprintf("%s Successful. Welcome %s", intent.title(), name)
}

// Message returns the text the Manager showed the user for an error one of
// its operations returned.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return validationMessage(ve)
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Notice != "" {
			return ae.Notice
		}
		return fallback(ae, msgRedirectResult)
	}
	return err.Error()
}

func passwordSignInMessage(ae *Error) string {
	switch {
	case errors.Is(ae, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(ae, ErrUserNotFound):
		return "No account found with this email"
	case errors.Is(ae, ErrNetwork):
		return msgNetwork
	}
	return fallback(ae, "Failed to sign in")
}

func signUpMessage(ae *Error) string {
	switch {
	case errors.Is(ae, ErrEmailInUse):
		return "Email is already registered. Please use a different email or try logging in"
	case errors.Is(ae, ErrWeakPassword):
		return "Password is too weak. Please choose a stronger password"
	case errors.Is(ae, ErrInvalidEmail):
		return "Invalid email address"
	case errors.Is(ae, ErrNetwork):
		return msgNetwork
	}
	return fallback(ae, "Failed to create account")
}

func oauthMessage(intent Intent, ae *Error) string {
	switch {
	case errors.Is(ae, ErrDomainNotAuthorized):
		return msgDomainNotAuthorized
	case errors.Is(ae, ErrUserCancelled) && ae.Code == CodeCancelledPopupRequest:
		return intent.noun() + " request was cancelled"
	case errors.Is(ae, ErrUserCancelled):
		return intent.noun() + " was cancelled"
	case errors.Is(ae, ErrAccountExists):
		return "Account already exists with different sign-in method"
	case errors.Is(ae, ErrNetwork):
		return msgNetwork
	}
	return fallback(ae, fmt.Sprintf("Failed to %s with Google", intent.verb()))
}

func fallback(ae *Error, def string) string {
	if ae.Message != "" {
		return ae.Message
	}
	return def
}
