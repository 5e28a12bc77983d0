// Package api provides the HTTP and WebSocket surface of the tracker. Each
// browser session is identified by a cookie and owns a session.Context.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/neelesh18904/CryptoProject/internal/auth"
	"github.com/neelesh18904/CryptoProject/internal/model"
	"github.com/neelesh18904/CryptoProject/internal/session"
	"github.com/neelesh18904/CryptoProject/internal/watchlist"
)

// Options configures the Service.
type Options struct {
	CookieName     string
	CookieSecure   bool
	CallbackURL    string // absolute URL of the OAuth callback route
	HomeURL        string // where the callback sends the browser afterwards
	AllowedOrigins []string
}

// Service handles session-scoped HTTP requests.
type Service struct {
	sessions *Registry
	hub      *WSHub
	opts     Options
	upgrader websocket.Upgrader
}

// NewService creates a new API service.
func NewService(reg *Registry, hub *WSHub, opts Options) *Service {
	if opts.CookieName == "" {
		opts.CookieName = "sid"
	}
	if opts.HomeURL == "" {
		opts.HomeURL = "/"
	}
	return &Service{sessions: reg, hub: hub, opts: opts, upgrader: newUpgrader(opts.AllowedOrigins)}
}

// --- Request/Response types ---

// CurrencyRequest is the JSON body for PUT /session/currency.
type CurrencyRequest struct {
	Currency string `json:"currency"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the JSON body for POST /auth/signup.
type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// OAuthRequest is the JSON body for POST /auth/oauth.
type OAuthRequest struct {
	Provider string `json:"provider"` // only "google" is supported
	Intent   string `json:"intent"`   // "signin" or "signup"
}

// SessionResponse is returned from GET /session.
type SessionResponse struct {
	session.State
	OAuthState auth.OAuthState `json:"oauth_state"`
}

// CoinsResponse is returned from GET /coins.
type CoinsResponse struct {
	Currency string       `json:"currency"`
	Symbol   string       `json:"symbol"`
	Loading  bool         `json:"loading"`
	Coins    []model.Coin `json:"coins"`
}

// AuthResponse is returned from the auth endpoints.
type AuthResponse struct {
	User        *model.User        `json:"user,omitempty"`
	RedirectURL string             `json:"redirect_url,omitempty"`
	Alert       model.Notification `json:"alert"`
}

// --- HTTP Handlers ---

// GetSession handles GET /api/v1/session
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	sc := s.session(w, r)
	st, err := sc.State()
	if err != nil {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{State: st, OAuthState: sc.Auth().State()})
}

// SetCurrency handles PUT /api/v1/session/currency
func (s *Service) SetCurrency(w http.ResponseWriter, r *http.Request) {
	var req CurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(code) != 3 {
		writeError(w, "currency must be a 3-letter code", http.StatusBadRequest)
		return
	}

	if err := s.session(w, r).SetCurrency(code); err != nil {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, CurrencyRequest{Currency: code})
}

// DismissAlert handles DELETE /api/v1/session/alert
func (s *Service) DismissAlert(w http.ResponseWriter, r *http.Request) {
	s.session(w, r).DismissAlert()
	w.WriteHeader(http.StatusNoContent)
}

// GetCoins handles GET /api/v1/coins
func (s *Service) GetCoins(w http.ResponseWriter, r *http.Request) {
	st, err := s.session(w, r).State()
	if err != nil {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, CoinsResponse{
		Currency: st.Currency,
		Symbol:   st.Symbol,
		Loading:  st.Loading,
		Coins:    st.Coins,
	})
}

// RefreshCoins handles POST /api/v1/coins/refresh
func (s *Service) RefreshCoins(w http.ResponseWriter, r *http.Request) {
	if err := s.session(w, r).Refresh(); err != nil {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Login handles POST /api/v1/auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc := s.session(w, r)
	user, err := sc.Auth().SignInWithPassword(r.Context(), req.Email, req.Password, nil)
	if err != nil {
		writeError(w, auth.Message(err), authStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{User: user, Alert: model.Success(auth.WelcomeMessage(auth.IntentSignIn, user.Email))})
}

// Signup handles POST /api/v1/auth/signup
func (s *Service) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc := s.session(w, r)
	user, err := sc.Auth().SignUpWithPassword(r.Context(), req.Email, req.Password, req.ConfirmPassword, nil)
	if err != nil {
		writeError(w, auth.Message(err), authStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{User: user, Alert: model.Success(auth.WelcomeMessage(auth.IntentSignUp, user.Email))})
}

// OAuth handles POST /api/v1/auth/oauth
func (s *Service) OAuth(w http.ResponseWriter, r *http.Request) {
	var req OAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider != "" && req.Provider != "google" && req.Provider != "google.com" {
		writeError(w, "unsupported provider: "+req.Provider, http.StatusBadRequest)
		return
	}

	sc := s.session(w, r)
	intent := auth.ParseIntent(req.Intent)
	res, err := sc.Auth().SignInWithOAuth(r.Context(), auth.GoogleProvider(intent), nil)
	if err != nil {
		writeError(w, auth.Message(err), authStatus(err))
		return
	}
	resp := AuthResponse{User: res.User, RedirectURL: res.RedirectURL}
	if res.User != nil {
		resp.Alert = model.Success(auth.WelcomeMessage(intent, res.User.Label()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Callback handles GET /api/v1/auth/callback, the return leg of a
// redirect sign-in. The outcome reaches the page as an alert.
func (s *Service) Callback(w http.ResponseWriter, r *http.Request) {
	sc := s.session(w, r)

	uri := s.opts.CallbackURL
	if uri == "" {
		uri = r.URL.Path
	}
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}
	sc.Auth().RecordRedirectCallback(uri)

	intent := auth.ParseIntent(r.URL.Query().Get("intent"))
	if _, err := sc.Auth().CheckPendingRedirectResult(r.Context(), intent, nil); err != nil {
		slog.Warn("redirect sign-in failed", "err", err)
	}
	http.Redirect(w, r, s.opts.HomeURL, http.StatusFound)
}

// Logout handles POST /api/v1/auth/logout
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	sc := s.session(w, r)
	if err := sc.Auth().SignOut(r.Context()); err != nil {
		writeError(w, auth.Message(err), authStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWatchlist handles GET /api/v1/watchlist
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	panel, ok, err := s.session(w, r).Panel()
	if err != nil {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		writeError(w, session.LoginRequiredMessage, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, panel)
}

// AddToWatchlist handles POST /api/v1/watchlist/{coinID}
func (s *Service) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	n, err := s.session(w, r).AddToWatchlist(r.Context(), chi.URLParam(r, "coinID"))
	if err != nil {
		writeError(w, watchlistMessage(n, err), watchlistStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": n.Message})
}

// RemoveFromWatchlist handles DELETE /api/v1/watchlist/{coinID}
func (s *Service) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	n, err := s.session(w, r).RemoveFromWatchlist(r.Context(), chi.URLParam(r, "coinID"))
	if err != nil {
		writeError(w, watchlistMessage(n, err), watchlistStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": n.Message})
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	id, sc := s.sessionWithID(w, r)
	if !s.sessions.Acquire(id) {
		writeError(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	s.hub.serve(w, r, s.upgrader, id, sc, func() { s.sessions.Release(id) })
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) *session.Context {
	_, sc := s.sessionWithID(w, r)
	return sc
}

// sessionWithID resolves the session cookie, starting a new session when
// the cookie is missing or the session was reaped.
func (s *Service) sessionWithID(w http.ResponseWriter, r *http.Request) (string, *session.Context) {
	if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
		if sc, ok := s.sessions.Get(c.Value); ok {
			return c.Value, sc
		}
	}

	id, sc := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, sc
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUserCancelled):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrDomainNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrEmailInUse), errors.Is(err, auth.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func watchlistStatus(err error) int {
	switch {
	case errors.Is(err, watchlist.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, watchlist.ErrAlreadyWatched):
		return http.StatusConflict
	case errors.Is(err, watchlist.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// watchlistMessage prefers the alert the operation raised; a closed session
// raises none.
func watchlistMessage(n model.Notification, err error) string {
	if n.Message != "" {
		return n.Message
	}
	if errors.Is(err, session.ErrClosed) {
		return "session closed"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
