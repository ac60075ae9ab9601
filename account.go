package gapi

import (
	"slices"
	"time"
)

// AccountInfoEmailScope is the scope every full authorization carries so the
// account's email can be resolved into its name afterwards.
const AccountInfoEmailScope = "https://www.googleapis.com/auth/userinfo.email"

// Account is a credential set (tokens, expiry, scopes) identified by an
// account name and scoped under an application key. Accounts are mutated in
// place by authentication jobs; callers must not mutate one concurrently
// while a job holds it.
type Account struct {
	Name         string    `json:"name"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expires"`
	Scopes       []string  `json:"scopes"`

	// scopesChanged records that the scope set diverged from what the last
	// full authorization granted. A changed scope set always invalidates the
	// existing tokens: installed applications cannot use incremental
	// authorization, so the next AuthJob must run the full flow.
	scopesChanged bool
}

// NewAccount creates an account with the given identity and scopes.
func NewAccount(name string, scopes ...string) *Account {
	return &Account{Name: name, Scopes: scopes}
}

// AddScope appends a scope and marks the scope set changed when it was not
// already present.
func (a *Account) AddScope(scope string) {
	if slices.Contains(a.Scopes, scope) {
		return
	}
	a.Scopes = append(a.Scopes, scope)
	a.scopesChanged = true
}

// RemoveScope drops a scope and marks the scope set changed when present.
func (a *Account) RemoveScope(scope string) {
	i := slices.Index(a.Scopes, scope)
	if i < 0 {
		return
	}
	a.Scopes = slices.Delete(a.Scopes, i, i+1)
	a.scopesChanged = true
}

// HasScopes reports whether every requested scope is already granted.
func (a *Account) HasScopes(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(a.Scopes, s) {
			return false
		}
	}
	return true
}

// ScopesChanged reports whether the scope set changed since the last full
// authorization.
func (a *Account) ScopesChanged() bool {
	return a.scopesChanged
}

// MarkScopesChanged forces the next authorization to run the full flow.
func (a *Account) MarkScopesChanged() {
	a.scopesChanged = true
}

// ClearScopesChanged resets the dirty flag after a successful full
// authorization.
func (a *Account) ClearScopesChanged() {
	a.scopesChanged = false
}

// Expired reports whether the access token expiry has passed at the given
// instant. An account without an expiry counts as expired.
func (a *Account) Expired(now time.Time) bool {
	return a.ExpiresAt.IsZero() || !now.Before(a.ExpiresAt)
}

// InvalidateTokens clears both tokens and the expiry, forcing a future full
// authorization.
func (a *Account) InvalidateTokens() {
	a.AccessToken = ""
	a.RefreshToken = ""
	a.ExpiresAt = time.Time{}
}

// Equal compares all persisted fields.
func (a *Account) Equal(other *Account) bool {
	if a == other {
		return true
	}
	if a == nil || other == nil {
		return false
	}
	return a.Name == other.Name &&
		a.AccessToken == other.AccessToken &&
		a.RefreshToken == other.RefreshToken &&
		a.ExpiresAt.Equal(other.ExpiresAt) &&
		slices.Equal(a.Scopes, other.Scopes)
}

// Clone returns a deep copy. The dirty flag travels with the copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Scopes = slices.Clone(a.Scopes)
	return &c
}
