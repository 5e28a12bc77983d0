package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/neelesh18904/CryptoProject/internal/model"
)

// DefaultToolkitURL is the Identity Toolkit REST v1 endpoint.
const DefaultToolkitURL = "https://identitytoolkit.googleapis.com/v1"

var toolkitCodes = map[string]string{
	"EMAIL_EXISTS":              CodeEmailInUse,
	"EMAIL_NOT_FOUND":           CodeUserNotFound,
	"INVALID_PASSWORD":          CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS": CodeInvalidLoginCredentials,
	"INVALID_IDP_RESPONSE":      CodeInvalidCredential,
	"INVALID_EMAIL":             CodeInvalidEmail,
	"MISSING_EMAIL":             CodeInvalidEmail,
	"WEAK_PASSWORD":             CodeWeakPassword,
	"UNAUTHORIZED_DOMAIN":       CodeUnauthorizedDomain,
	"OPERATION_NOT_ALLOWED":     CodeOperationNotAllowed,
	"USER_DISABLED":             "auth/user-disabled",
}

// ToolkitConfig configures the Identity Toolkit client.
type ToolkitConfig struct {
	BaseURL     string
	APIKey      string
	CallbackURL string // continue URI for redirect sign-ins
	Timeout     time.Duration
}

// ToolkitClient is the shared Identity Toolkit REST client. Each browser
// session gets its own IdentityToolkit provider from NewProvider.
type ToolkitClient struct {
	rest     *resty.Client
	callback string
}

// NewToolkitClient creates a client for cfg.
func NewToolkitClient(cfg ToolkitConfig) *ToolkitClient {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultToolkitURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rest := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetQueryParam("key", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &ToolkitClient{rest: rest, callback: cfg.CallbackURL}
}

// NewProvider returns a signed-out provider for one browser session.
func (c *ToolkitClient) NewProvider() *IdentityToolkit {
	return &IdentityToolkit{client: c}
}

type toolkitErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type tokenResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	ProviderID  string `json:"providerId"`
	IDToken     string `json:"idToken"`
	ExpiresIn   string `json:"expiresIn"`

	NeedConfirmation bool   `json:"needConfirmation"`
	ErrorMessage     string `json:"errorMessage"`
}

type createAuthURIRequest struct {
	ProviderID      string            `json:"providerId"`
	ContinueURI     string            `json:"continueUri"`
	OAuthScope      string            `json:"oauthScope,omitempty"`
	CustomParameter map[string]string `json:"customParameter,omitempty"`
}

type createAuthURIResponse struct {
	AuthURI   string `json:"authUri"`
	SessionID string `json:"sessionId"`
}

type signInWithIdpRequest struct {
	RequestURI          string `json:"requestUri"`
	SessionID           string `json:"sessionId"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type idTokenClaims struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// IdentityToolkit is a Provider backed by the Identity Toolkit REST API.
// A server cannot open popups, so every popup attempt reports
// auth/popup-blocked and callers fall back to a redirect.
type IdentityToolkit struct {
	client *ToolkitClient

	mu        sync.Mutex
	current   *model.User
	idToken   string
	expiresAt time.Time
	sessionID string // correlation token from createAuthUri
	callback  string // URL the browser came back to

	obs observers
}

func (p *IdentityToolkit) SignInWithPassword(ctx context.Context, email, password string) (*model.User, error) {
	return p.passwordCall(ctx, "/accounts:signInWithPassword", email, password)
}

func (p *IdentityToolkit) CreateUserWithPassword(ctx context.Context, email, password string) (*model.User, error) {
	return p.passwordCall(ctx, "/accounts:signUp", email, password)
}

func (p *IdentityToolkit) SignInWithPopup(ctx context.Context, cfg OAuthConfig) (*model.User, error) {
	return nil, &ProviderError{Code: CodePopupBlocked, Message: "Popups are not available for server-side sessions."}
}

func (p *IdentityToolkit) SignInWithRedirect(ctx context.Context, cfg OAuthConfig) (string, error) {
	req := createAuthURIRequest{
		ProviderID:      cfg.ProviderID,
		ContinueURI:     p.client.callback,
		CustomParameter: cfg.CustomParameters,
	}
	if len(cfg.Scopes) > 0 {
		scope, err := json.Marshal(map[string]string{cfg.ProviderID: strings.Join(cfg.Scopes, " ")})
		if err != nil {
			return "", fmt.Errorf("encode oauth scope: %w", err)
		}
		req.OAuthScope = string(scope)
	}

	var out createAuthURIResponse
	if err := p.post(ctx, "/accounts:createAuthUri", req, &out); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.sessionID = out.SessionID
	p.callback = ""
	p.mu.Unlock()
	return out.AuthURI, nil
}

// RecordRedirectCallback stores the full URL the browser returned to.
func (p *IdentityToolkit) RecordRedirectCallback(uri string) {
	p.mu.Lock()
	p.callback = uri
	p.mu.Unlock()
}

func (p *IdentityToolkit) RedirectResult(ctx context.Context) (*model.User, error) {
	p.mu.Lock()
	sessionID, callback := p.sessionID, p.callback
	if sessionID != "" && callback != "" {
		p.sessionID, p.callback = "", ""
	}
	p.mu.Unlock()
	if sessionID == "" || callback == "" {
		return nil, nil
	}

	var out tokenResponse
	err := p.post(ctx, "/accounts:signInWithIdp", signInWithIdpRequest{
		RequestURI:          callback,
		SessionID:           sessionID,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.NeedConfirmation {
		return nil, &ProviderError{Code: CodeAccountExists, Message: "An account already exists with the same email address but different sign-in credentials."}
	}
	if out.ErrorMessage != "" {
		return nil, toolkitError(out.ErrorMessage)
	}
	return p.establish(out), nil
}

func (p *IdentityToolkit) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.idToken, p.expiresAt = "", time.Time{}
	p.mu.Unlock()
	p.setCurrent(nil)
	return nil
}

func (p *IdentityToolkit) OnAuthStateChanged(fn func(*model.User)) func() {
	unsub := p.obs.add(fn)
	p.mu.Lock()
	cur := copyUser(p.current)
	p.mu.Unlock()
	fn(cur)
	return unsub
}

// IDToken returns the current ID token and its expiry.
func (p *IdentityToolkit) IDToken() (string, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken, p.expiresAt
}

func (p *IdentityToolkit) passwordCall(ctx context.Context, path, email, password string) (*model.User, error) {
	var out tokenResponse
	req := passwordRequest{Email: email, Password: password, ReturnSecureToken: true}
	if err := p.post(ctx, path, req, &out); err != nil {
		return nil, err
	}
	if out.ProviderID == "" {
		out.ProviderID = "password"
	}
	return p.establish(out), nil
}

func (p *IdentityToolkit) post(ctx context.Context, path string, body, result any) error {
	resp, err := p.client.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&toolkitErrorBody{}).
		Post(path)
	if err != nil {
		return &ProviderError{Code: CodeNetworkRequestFailed, Message: err.Error()}
	}
	if resp.IsError() {
		if eb, ok := resp.Error().(*toolkitErrorBody); ok && eb.Error.Message != "" {
			return toolkitError(eb.Error.Message)
		}
		return &ProviderError{Code: "auth/internal-error", Message: fmt.Sprintf("identity toolkit returned %d", resp.StatusCode())}
	}
	if resp.StatusCode() != http.StatusOK {
		return &ProviderError{Code: "auth/internal-error", Message: fmt.Sprintf("identity toolkit returned %d", resp.StatusCode())}
	}
	return nil
}

// toolkitError maps "WEAK_PASSWORD : Password should be ..." style
// messages to a ProviderError.
func toolkitError(msg string) *ProviderError {
	key, detail, _ := strings.Cut(msg, " : ")
	key = strings.TrimSpace(key)
	code, ok := toolkitCodes[key]
	if !ok {
		code = "auth/internal-error"
	}
	if detail == "" {
		detail = msg
	}
	return &ProviderError{Code: code, Message: detail}
}

func (p *IdentityToolkit) establish(out tokenResponse) *model.User {
	u := &model.User{
		UID:         out.LocalID,
		DisplayName: out.DisplayName,
		Email:       out.Email,
		PhotoURL:    out.PhotoURL,
		ProviderID:  out.ProviderID,
	}

	var expiresAt time.Time
	if out.IDToken != "" {
		var claims idTokenClaims
		if _, _, err := jwt.NewParser().ParseUnverified(out.IDToken, &claims); err == nil {
			if u.DisplayName == "" {
				u.DisplayName = claims.Name
			}
			if u.PhotoURL == "" {
				u.PhotoURL = claims.Picture
			}
			if u.Email == "" {
				u.Email = claims.Email
			}
			if u.UID == "" {
				u.UID = claims.Subject
			}
			if claims.ExpiresAt != nil {
				expiresAt = claims.ExpiresAt.Time
			}
		}
	}

	p.mu.Lock()
	p.idToken, p.expiresAt = out.IDToken, expiresAt
	p.mu.Unlock()
	p.setCurrent(u)
	return copyUser(u)
}

func (p *IdentityToolkit) setCurrent(u *model.User) {
	p.mu.Lock()
	p.current = copyUser(u)
	p.mu.Unlock()
	p.obs.notify(u)
}
