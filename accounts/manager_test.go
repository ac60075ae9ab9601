package accounts

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/gapi"
)

// authCall snapshots the credential state an Authenticate call saw, which
// tells the full flow and the silent refresh apart.
type authCall struct {
	refreshToken  string
	scopes        []string
	scopesChanged bool
}

func (c authCall) fullFlow() bool {
	return c.refreshToken == "" || c.scopesChanged
}

type fakeAuthenticator struct {
	mu    sync.Mutex
	calls []authCall
	gate  chan struct{} // non-nil blocks Authenticate until closed
	fail  error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, account *gapi.Account, apiKey, apiSecret string) error {
	f.mu.Lock()
	f.calls = append(f.calls, authCall{
		refreshToken:  account.RefreshToken,
		scopes:        slices.Clone(account.Scopes),
		scopesChanged: account.ScopesChanged(),
	})
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}

	// Mirror the real paths: missing refresh token or a changed scope set
	// runs the full flow, anything else refreshes silently.
	if account.RefreshToken == "" || account.ScopesChanged() {
		account.AddScope(gapi.AccountInfoEmailScope)
		if account.Name == "" {
			account.Name = "u@x.test"
		}
		account.RefreshToken = "RT"
		account.ClearScopesChanged()
	}
	account.AccessToken = "AT"
	account.ExpiresAt = time.Now().Add(time.Hour)
	return nil
}

func (f *fakeAuthenticator) recorded() []authCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]authCall(nil), f.calls...)
}

func newTestManager(t *testing.T) (*Manager, *MemoryStorage, *fakeAuthenticator) {
	t.Helper()
	storage := NewMemoryStorage()
	authenticator := &fakeAuthenticator{}
	m := NewManager(WithStorage(storage), WithAuthenticator(authenticator))
	return m, storage, authenticator
}

func validAccount(name string, scopes ...string) *gapi.Account {
	return &gapi.Account{
		Name:         name,
		AccessToken:  "AT-stored",
		RefreshToken: "RT-stored",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scopes:       scopes,
	}
}

func TestManagerGetAccountNewRunsFullFlow(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()

	acc, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, acc)

	assert.Equal(t, "u@x.test", acc.Name)
	assert.Contains(t, acc.Scopes, "scope-a")
	assert.Contains(t, acc.Scopes, gapi.AccountInfoEmailScope)

	calls := authenticator.recorded()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].fullFlow())

	stored, err := storage.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	assert.True(t, acc.Equal(stored), "the authorized account must be persisted")
}

func TestManagerGetAccountValidResolvesWithoutAuthorization(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	require.NoError(t, storage.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	acc, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "AT-stored", acc.AccessToken)
	assert.Empty(t, authenticator.recorded())
}

func TestManagerGetAccountExpiredRefreshesSilently(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	expired := validAccount("u@x.test", "scope-a")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, storage.Put(ctx, "K", expired))

	acc, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AT", acc.AccessToken)
	assert.Equal(t, "RT-stored", acc.RefreshToken, "a silent refresh keeps the refresh token")

	calls := authenticator.recorded()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].fullFlow(), "an expired but covered account refreshes, never re-consents")
}

func TestManagerGetAccountScopeMergeForcesFullFlow(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	require.NoError(t, storage.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	acc, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a", "scope-b"}).Wait(ctx)
	require.NoError(t, err)

	calls := authenticator.recorded()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].scopesChanged)
	assert.Empty(t, calls[0].refreshToken, "old tokens are invalid once the scope set grows")
	assert.ElementsMatch(t, []string{"scope-a", "scope-b"}, calls[0].scopes)

	assert.Subset(t, acc.Scopes, []string{"scope-a", "scope-b"})

	stored, err := storage.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	assert.Subset(t, stored.Scopes, []string{"scope-a", "scope-b"})
}

func TestManagerGetAccountDeduplicatesConcurrentCalls(t *testing.T) {
	m, _, authenticator := newTestManager(t)
	authenticator.gate = make(chan struct{})
	ctx := context.Background()

	p1 := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"})
	p2 := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"})
	assert.Same(t, p1, p2, "callers racing on the same key share one flow")

	p3 := m.GetAccount(ctx, "K", "S", "other@x.test", []string{"scope-a"})
	assert.NotSame(t, p1, p3, "different keys never share a flow")

	close(authenticator.gate)
	_, err := p1.Wait(ctx)
	require.NoError(t, err)
	_, err = p3.Wait(ctx)
	require.NoError(t, err)

	// The retired promise is gone; a later call starts fresh.
	p4 := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"})
	assert.NotSame(t, p1, p4)
	_, err = p4.Wait(ctx)
	require.NoError(t, err)
}

func TestManagerRefreshTokensForcesAuthorization(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	require.NoError(t, storage.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	acc, err := m.RefreshTokens(ctx, "K", "S", "u@x.test").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AT", acc.AccessToken)

	calls := authenticator.recorded()
	require.Len(t, calls, 1, "a live token does not skip a forced refresh")
	assert.False(t, calls[0].fullFlow())
}

func TestManagerRefreshTokensMissingAccountRunsFullFlow(t *testing.T) {
	m, _, authenticator := newTestManager(t)
	ctx := context.Background()

	acc, err := m.RefreshTokens(ctx, "K", "S", "u@x.test").Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, acc)

	calls := authenticator.recorded()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].fullFlow())
}

func TestManagerFindAccountIsReadOnly(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	require.NoError(t, storage.Put(ctx, "K", validAccount("u@x.test", "scope-a")))

	acc, err := m.FindAccount(ctx, "K", "missing@x.test", nil).Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc, "a missing account resolves with nothing, not an error")

	acc, err = m.FindAccount(ctx, "K", "u@x.test", []string{"scope-b"}).Wait(ctx)
	require.NoError(t, err)
	assert.Nil(t, acc, "uncovered scopes resolve with nothing")

	acc, err = m.FindAccount(ctx, "K", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "AT-stored", acc.AccessToken)

	assert.Empty(t, authenticator.recorded(), "lookups never trigger authorization")
}

func TestManagerRemoveScopes(t *testing.T) {
	m, storage, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, storage.Open(ctx))
	require.NoError(t, storage.Put(ctx, "K", validAccount("u@x.test", "scope-a", "scope-b")))

	require.NoError(t, m.RemoveScopes(ctx, "K", "u@x.test", []string{"scope-b"}))
	stored, err := storage.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"scope-a"}, stored.Scopes)
	assert.Empty(t, stored.AccessToken, "shrinking the grant invalidates the tokens")
	assert.Empty(t, stored.RefreshToken)

	require.NoError(t, m.RemoveScopes(ctx, "K", "u@x.test", []string{"scope-a"}))
	stored, err = storage.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	assert.Nil(t, stored, "an account with no scopes left is deleted")

	// Removing from a missing account is a no-op.
	require.NoError(t, m.RemoveScopes(ctx, "K", "missing@x.test", []string{"scope-a"}))
}

func TestManagerAuthorizationFailureRejectsPromise(t *testing.T) {
	m, storage, authenticator := newTestManager(t)
	authenticator.fail = errors.New("consent denied")
	ctx := context.Background()

	_, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.EqualError(t, err, "consent denied")

	acc, err := storage.Get(ctx, "K", "u@x.test")
	require.NoError(t, err)
	assert.Nil(t, acc, "nothing is persisted on failure")

	// The failed flow is retired; the next call tries again.
	_, err = m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.Error(t, err)
	assert.Len(t, authenticator.recorded(), 2)
}

type countingStorage struct {
	*MemoryStorage
	opens int
}

func (s *countingStorage) Open(ctx context.Context) error {
	s.opens++
	return s.MemoryStorage.Open(ctx)
}

func TestManagerOpensStorageLazilyOnce(t *testing.T) {
	storage := &countingStorage{MemoryStorage: NewMemoryStorage()}
	m := NewManager(WithStorage(storage), WithAuthenticator(&fakeAuthenticator{}))
	ctx := context.Background()

	_, err := m.GetAccount(ctx, "K", "S", "u@x.test", []string{"scope-a"}).Wait(ctx)
	require.NoError(t, err)
	_, err = m.FindAccount(ctx, "K", "u@x.test", nil).Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, storage.opens)
}

func TestManagerTokenSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	ts := m.TokenSource(ctx, "K", "S", "u@x.test", []string{"scope-a"})
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "AT", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Valid())
}
