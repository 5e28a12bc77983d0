package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neelesh18904/CryptoProject/internal/model"
)

// DefaultCallbackPath is where redirect sign-ins send the browser back to.
const DefaultCallbackPath = "/api/v1/auth/callback"

type account struct {
	user model.User
	hash []byte
}

// MemoryDirectory is an in-process user directory shared by every
// MemoryProvider. It backs development mode and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byEmail    map[string]*account
	identities map[string]model.User // federated account per provider id
	domains    map[string]bool       // empty means every domain is authorized
	offline    bool
}

// NewMemoryDirectory creates a directory. When domains is non-empty, OAuth
// flows are only allowed from those domains.
func NewMemoryDirectory(domains ...string) *MemoryDirectory {
	d := &MemoryDirectory{
		byEmail:    make(map[string]*account),
		identities: make(map[string]model.User),
		domains:    make(map[string]bool),
	}
	for _, dom := range domains {
		d.domains[strings.ToLower(dom)] = true
	}
	return d
}

// AddIdentity registers the account the given federated provider signs in
// as. A blank UID is filled in.
func (d *MemoryDirectory) AddIdentity(providerID string, u model.User) {
	if u.UID == "" {
		u.UID = uuid.NewString()
	}
	u.ProviderID = providerID
	d.mu.Lock()
	d.identities[providerID] = u
	d.mu.Unlock()
}

// SetOffline makes every provider call fail with a network error.
func (d *MemoryDirectory) SetOffline(offline bool) {
	d.mu.Lock()
	d.offline = offline
	d.mu.Unlock()
}

func (d *MemoryDirectory) checkOnline() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.offline {
		return &ProviderError{Code: CodeNetworkRequestFailed, Message: "A network error has occurred."}
	}
	return nil
}

func (d *MemoryDirectory) authorized(domain string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.domains) == 0 || d.domains[strings.ToLower(domain)]
}

func (d *MemoryDirectory) create(email, password string) (*model.User, error) {
	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, &ProviderError{Code: CodeInvalidEmail, Message: "The email address is badly formatted."}
	}
	if len(password) < MinPasswordLength {
		return nil, &ProviderError{Code: CodeWeakPassword, Message: "Password should be at least 6 characters."}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	key := strings.ToLower(email)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[key]; ok {
		return nil, &ProviderError{Code: CodeEmailInUse, Message: "The email address is already in use by another account."}
	}
	acc := &account{
		user: model.User{UID: uuid.NewString(), Email: email, ProviderID: "password"},
		hash: hash,
	}
	d.byEmail[key] = acc
	u := acc.user
	return &u, nil
}

func (d *MemoryDirectory) verify(email, password string) (*model.User, error) {
	d.mu.RLock()
	acc, ok := d.byEmail[strings.ToLower(email)]
	d.mu.RUnlock()
	if !ok {
		return nil, &ProviderError{Code: CodeUserNotFound, Message: "There is no user record corresponding to this identifier."}
	}
	if bcrypt.CompareHashAndPassword(acc.hash, []byte(password)) != nil {
		return nil, &ProviderError{Code: CodeWrongPassword, Message: "The password is invalid."}
	}
	u := acc.user
	return &u, nil
}

func (d *MemoryDirectory) identity(providerID string) (*model.User, error) {
	d.mu.RLock()
	u, ok := d.identities[providerID]
	d.mu.RUnlock()
	if !ok {
		return nil, &ProviderError{Code: CodeOperationNotAllowed, Message: "The identity provider is not enabled."}
	}
	if u.Email != "" {
		d.mu.RLock()
		acc, clash := d.byEmail[strings.ToLower(u.Email)]
		d.mu.RUnlock()
		if clash && acc.user.ProviderID != providerID {
			return nil, &ProviderError{Code: CodeAccountExists, Message: "An account already exists with the same email address but different sign-in credentials."}
		}
	}
	return &u, nil
}

// MemoryOption configures a MemoryProvider.
type MemoryOption func(*MemoryProvider)

// WithDomain sets the domain the client is served from.
func WithDomain(domain string) MemoryOption {
	return func(p *MemoryProvider) { p.domain = domain }
}

// WithPopupsBlocked makes every popup attempt fail as blocked.
func WithPopupsBlocked() MemoryOption {
	return func(p *MemoryProvider) { p.popupsBlocked = true }
}

// WithCallbackURL sets the URL redirect sign-ins return to.
func WithCallbackURL(u string) MemoryOption {
	return func(p *MemoryProvider) { p.callback = u }
}

// MemoryProvider is one client's auth instance over a MemoryDirectory.
type MemoryProvider struct {
	dir           *MemoryDirectory
	domain        string
	popupsBlocked bool
	callback      string

	mu      sync.Mutex
	current *model.User
	pending *model.User

	obs observers
}

// NewMemoryProvider creates a signed-out client of dir.
func NewMemoryProvider(dir *MemoryDirectory, opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{dir: dir, domain: "localhost", callback: DefaultCallbackPath}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MemoryProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.User, error) {
	if err := p.dir.checkOnline(); err != nil {
		return nil, err
	}
	u, err := p.dir.verify(email, password)
	if err != nil {
		return nil, err
	}
	p.setCurrent(u)
	return copyUser(u), nil
}

func (p *MemoryProvider) CreateUserWithPassword(ctx context.Context, email, password string) (*model.User, error) {
	if err := p.dir.checkOnline(); err != nil {
		return nil, err
	}
	u, err := p.dir.create(email, password)
	if err != nil {
		return nil, err
	}
	p.setCurrent(u)
	return copyUser(u), nil
}

func (p *MemoryProvider) SignInWithPopup(ctx context.Context, cfg OAuthConfig) (*model.User, error) {
	if err := p.preflight(); err != nil {
		return nil, err
	}
	if p.popupsBlocked {
		return nil, &ProviderError{Code: CodePopupBlocked, Message: "Unable to establish a connection with the popup."}
	}
	u, err := p.dir.identity(cfg.ProviderID)
	if err != nil {
		return nil, err
	}
	p.setCurrent(u)
	return copyUser(u), nil
}

func (p *MemoryProvider) SignInWithRedirect(ctx context.Context, cfg OAuthConfig) (string, error) {
	if err := p.preflight(); err != nil {
		return "", err
	}
	u, err := p.dir.identity(cfg.ProviderID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.pending = u
	p.mu.Unlock()

	q := url.Values{}
	q.Set("provider", cfg.ProviderID)
	q.Set("intent", cfg.Intent.String())
	return p.callback + "?" + q.Encode(), nil
}

func (p *MemoryProvider) RedirectResult(ctx context.Context) (*model.User, error) {
	p.mu.Lock()
	u := p.pending
	p.pending = nil
	p.mu.Unlock()
	if u == nil {
		return nil, nil
	}
	if err := p.dir.checkOnline(); err != nil {
		return nil, err
	}
	p.setCurrent(u)
	return copyUser(u), nil
}

func (p *MemoryProvider) SignOut(ctx context.Context) error {
	if err := p.dir.checkOnline(); err != nil {
		return err
	}
	p.setCurrent(nil)
	return nil
}

func (p *MemoryProvider) OnAuthStateChanged(fn func(*model.User)) func() {
	unsub := p.obs.add(fn)
	p.mu.Lock()
	cur := copyUser(p.current)
	p.mu.Unlock()
	fn(cur)
	return unsub
}

// CurrentUser returns the signed-in user, or nil.
func (p *MemoryProvider) CurrentUser() *model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyUser(p.current)
}

func (p *MemoryProvider) preflight() error {
	if err := p.dir.checkOnline(); err != nil {
		return err
	}
	if !p.dir.authorized(p.domain) {
		return &ProviderError{Code: CodeUnauthorizedDomain, Message: "This domain is not authorized for OAuth operations."}
	}
	return nil
}

func (p *MemoryProvider) setCurrent(u *model.User) {
	p.mu.Lock()
	p.current = copyUser(u)
	p.mu.Unlock()
	p.obs.notify(u)
}
