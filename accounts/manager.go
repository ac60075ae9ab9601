package accounts

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/calder-labs/gapi"
	"github.com/calder-labs/gapi/auth"
)

// Authenticator runs whatever authorization the account's credential state
// calls for, mutating the account in place. The default runs an
// auth.AuthJob; tests inject fakes.
type Authenticator interface {
	Authenticate(ctx context.Context, account *gapi.Account, apiKey, apiSecret string) error
}

type authJobAuthenticator struct {
	opts auth.Options
}

func (a authJobAuthenticator) Authenticate(ctx context.Context, account *gapi.Account, apiKey, apiSecret string) error {
	job := auth.NewAuthJob(account, apiKey, apiSecret, a.opts)
	return job.Run(ctx)
}

type promiseKey struct {
	apiKey      string
	accountName string
}

// Manager is the account-management facade. It deduplicates in-flight
// authorization flows per (apiKey, accountName), merges requested scopes
// into stored credentials, and persists results through its Storage. There
// is no ordering across different keys; per key at most one flow runs at a
// time.
type Manager struct {
	storage       Storage
	authenticator Authenticator
	clock         clock.Clock
	log           *logrus.Entry

	mu      sync.Mutex
	pending map[promiseKey]*Promise
}

// Option configures a Manager.
type Option func(*Manager)

// WithStorage replaces the default keychain-backed store.
func WithStorage(s Storage) Option {
	return func(m *Manager) { m.storage = s }
}

// WithAuthenticator replaces the default AuthJob-based authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(m *Manager) { m.authenticator = a }
}

// WithAuthOptions configures the default authenticator's endpoints, loopback
// port, browser launcher and timeouts.
func WithAuthOptions(opts auth.Options) Option {
	return func(m *Manager) { m.authenticator = authJobAuthenticator{opts: opts} }
}

// WithClock swaps the clock used for expiry decisions.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates the facade. Storage defaults to the system keychain
// and is opened lazily on first use.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		storage:       NewKeyringStorage(),
		authenticator: authJobAuthenticator{},
		clock:         clock.New(),
		pending:       make(map[promiseKey]*Promise),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetAccount resolves an account for the key, authorizing as needed: a
// missing account runs the full flow for the requested scopes; a stored
// account covering the scopes with a live token resolves immediately; a
// stored account missing scopes gets the union of both sets and a forced
// full re-authorization (incremental authorization is not safe for
// installed applications); a covered but expired account gets a silent
// refresh.
//
// Concurrent calls for the same (apiKey, accountName) share one promise.
func (m *Manager) GetAccount(ctx context.Context, apiKey, apiSecret, accountName string, scopes []string) *Promise {
	key := promiseKey{apiKey: apiKey, accountName: accountName}
	p, fresh := m.promiseFor(key)
	if !fresh {
		return p
	}
	go func() {
		account, err := m.getAccount(ctx, key, apiSecret, scopes)
		m.finish(key, p, account, err)
	}()
	return p
}

func (m *Manager) getAccount(ctx context.Context, key promiseKey, apiSecret string, scopes []string) (*gapi.Account, error) {
	if err := m.ensureOpen(ctx); err != nil {
		return nil, err
	}
	account, err := m.storage.Get(ctx, key.apiKey, key.accountName)
	if err != nil {
		return nil, err
	}
	switch {
	case account == nil:
		account = gapi.NewAccount(key.accountName, scopes...)
	case account.HasScopes(scopes):
		if !account.Expired(m.clock.Now()) {
			return account, nil
		}
		// Token expired, scopes satisfied: silent refresh.
	default:
		// Merging scopes marks the set changed, which forces the full
		// flow; the old tokens are useless either way.
		for _, scope := range scopes {
			account.AddScope(scope)
		}
		account.InvalidateTokens()
	}
	return m.authorize(ctx, key, apiSecret, account)
}

// RefreshTokens forces a token refresh for a stored account, running the
// full flow instead when no account exists yet.
func (m *Manager) RefreshTokens(ctx context.Context, apiKey, apiSecret, accountName string) *Promise {
	key := promiseKey{apiKey: apiKey, accountName: accountName}
	p, fresh := m.promiseFor(key)
	if !fresh {
		return p
	}
	go func() {
		account, err := m.refreshTokens(ctx, key, apiSecret)
		m.finish(key, p, account, err)
	}()
	return p
}

func (m *Manager) refreshTokens(ctx context.Context, key promiseKey, apiSecret string) (*gapi.Account, error) {
	if err := m.ensureOpen(ctx); err != nil {
		return nil, err
	}
	account, err := m.storage.Get(ctx, key.apiKey, key.accountName)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = gapi.NewAccount(key.accountName)
	}
	return m.authorize(ctx, key, apiSecret, account)
}

// FindAccount is a read-only lookup: it resolves with nil (not an error)
// when the account does not exist or does not cover the requested scopes.
// No network I/O is performed.
func (m *Manager) FindAccount(ctx context.Context, apiKey, accountName string, scopes []string) *Promise {
	p := newPromise()
	go func() {
		if err := m.ensureOpen(ctx); err != nil {
			p.reject(err)
			return
		}
		account, err := m.storage.Get(ctx, apiKey, accountName)
		if err != nil {
			p.reject(err)
			return
		}
		if account == nil || (len(scopes) > 0 && !account.HasScopes(scopes)) {
			p.resolve(nil)
			return
		}
		p.resolve(account)
	}()
	return p
}

// RemoveScopes strips scopes from a stored account. An emptied scope set
// deletes the account outright; otherwise both tokens are invalidated (a
// future authorization must run the full flow) and the account persists.
func (m *Manager) RemoveScopes(ctx context.Context, apiKey, accountName string, scopes []string) error {
	if err := m.ensureOpen(ctx); err != nil {
		return err
	}
	account, err := m.storage.Get(ctx, apiKey, accountName)
	if err != nil || account == nil {
		return err
	}
	for _, scope := range scopes {
		account.RemoveScope(scope)
	}
	if len(account.Scopes) == 0 {
		return m.storage.Remove(ctx, apiKey, account.Name)
	}
	account.InvalidateTokens()
	return m.storage.Put(ctx, apiKey, account)
}

// promiseFor returns the live promise for the key, creating one when none
// is outstanding. fresh reports whether the caller owns the new flow.
func (m *Manager) promiseFor(key promiseKey) (p *Promise, fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[key]; ok {
		return p, false
	}
	p = newPromise()
	m.pending[key] = p
	return p, true
}

// finish retires the promise from the live set and fires it. A call landing
// after retirement starts a fresh flow.
func (m *Manager) finish(key promiseKey, p *Promise, account *gapi.Account, err error) {
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()

	if err != nil {
		if m.log != nil {
			m.log.WithError(err).WithField("account", key.accountName).Warn("account operation failed")
		}
		p.reject(err)
		return
	}
	p.resolve(account)
}

// authorize runs the authenticator and commits the result.
func (m *Manager) authorize(ctx context.Context, key promiseKey, apiSecret string, account *gapi.Account) (*gapi.Account, error) {
	if err := m.authenticator.Authenticate(ctx, account, key.apiKey, apiSecret); err != nil {
		return nil, err
	}
	if err := m.storage.Put(ctx, key.apiKey, account); err != nil {
		return nil, err
	}
	return account, nil
}

// ensureOpen lazily opens the storage once; it stays open thereafter.
func (m *Manager) ensureOpen(ctx context.Context) error {
	if m.storage.Opened() {
		return nil
	}
	return m.storage.Open(ctx)
}
