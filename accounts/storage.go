package accounts

import (
	"context"

	"github.com/calder-labs/gapi"
)

// Storage is the secure store credentials persist through, keyed by
// application key plus account name. Implementations are expected to be
// slow (keychains, files, remote stores); the manager opens one lazily on
// first use and keeps it open for the life of the process.
//
// Get returns (nil, nil) when no account is stored under the key.
type Storage interface {
	Open(ctx context.Context) error
	Opened() bool
	Get(ctx context.Context, apiKey, accountName string) (*gapi.Account, error)
	Put(ctx context.Context, apiKey string, account *gapi.Account) error
	Remove(ctx context.Context, apiKey, accountName string) error
}

// storageKey is the composite key accounts are stored under.
func storageKey(apiKey, accountName string) string {
	return apiKey + "::" + accountName
}
