package accounts

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/calder-labs/gapi"
)

// TokenSource adapts the manager to oauth2.TokenSource so accounts it
// manages can drive any client built on golang.org/x/oauth2. Each Token call
// goes through GetAccount, which refreshes or re-authorizes as needed.
func (m *Manager) TokenSource(ctx context.Context, apiKey, apiSecret, accountName string, scopes []string) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m, apiKey: apiKey, apiSecret: apiSecret, accountName: accountName, scopes: scopes}
}

type managerTokenSource struct {
	ctx         context.Context
	m           *Manager
	apiKey      string
	apiSecret   string
	accountName string
	scopes      []string
}

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	account, err := ts.m.GetAccount(ts.ctx, ts.apiKey, ts.apiSecret, ts.accountName, ts.scopes).Wait(ts.ctx)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, gapi.ErrInvalidAccount("no account available")
	}
	return &oauth2.Token{
		AccessToken: account.AccessToken,
		TokenType:   "Bearer",
		Expiry:      account.ExpiresAt,
	}, nil
}
