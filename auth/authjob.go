package auth

import (
	"context"

	"github.com/calder-labs/gapi"
)

// AuthJob decides between the interactive authorization-code flow and the
// silent refresh exchange based on credential state, then runs the chosen
// sub-job. It performs no network I/O of its own.
type AuthJob struct {
	account   *gapi.Account
	apiKey    string
	apiSecret string
	username  string
	opts      Options
}

// NewAuthJob creates the orchestrator for the given account and application
// credentials.
func NewAuthJob(account *gapi.Account, apiKey, apiSecret string, opts Options) *AuthJob {
	return &AuthJob{account: account, apiKey: apiKey, apiSecret: apiSecret, opts: opts.withDefaults()}
}

// SetUsername pre-fills the login hint used by the interactive flow.
func (a *AuthJob) SetUsername(username string) {
	a.username = username
}

// Account returns the account the chosen sub-job updated in place.
func (a *AuthJob) Account() *gapi.Account {
	return a.account
}

// Run picks the path: no refresh token or a changed scope set means the user
// must consent again through the full flow; otherwise the refresh token is
// exchanged silently.
func (a *AuthJob) Run(ctx context.Context) error {
	if a.account == nil {
		return gapi.ErrInvalidAccount("Invalid account")
	}

	if a.account.RefreshToken == "" || a.account.ScopesChanged() {
		a.account.AddScope(gapi.AccountInfoEmailScope)

		// Pre-fill the username so the user knows which account they are
		// re-authenticating.
		if a.username == "" && a.account.Name != "" {
			a.username = a.account.Name
		}

		full := NewFullAuthenticationJob(a.account, a.apiKey, a.apiSecret, a.opts)
		full.SetUsername(a.username)
		return full.Run(ctx)
	}

	if a.account.Name == "" {
		return gapi.ErrInvalidAccount("Account name is empty")
	}
	return NewRefreshTokensJob(a.account, a.apiKey, a.apiSecret, a.opts).Run(ctx)
}
