package accounts

import (
	"context"
	"sync"

	"github.com/calder-labs/gapi"
)

// MemoryStorage keeps accounts in process memory. Useful for tests and
// short-lived tools that must not touch the keychain.
type MemoryStorage struct {
	mu       sync.Mutex
	opened   bool
	accounts map[string]*gapi.Account
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{accounts: make(map[string]*gapi.Account)}
}

func (s *MemoryStorage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *MemoryStorage) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *MemoryStorage) Get(ctx context.Context, apiKey, accountName string) (*gapi.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[storageKey(apiKey, accountName)].Clone(), nil
}

func (s *MemoryStorage) Put(ctx context.Context, apiKey string, account *gapi.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[storageKey(apiKey, account.Name)] = account.Clone()
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, apiKey, accountName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, storageKey(apiKey, accountName))
	return nil
}
