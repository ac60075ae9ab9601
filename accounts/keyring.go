package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/calder-labs/gapi"
)

const keyringService = "gapi"

// KeyringStorage persists accounts through the system keychain (Keychain on
// macOS, Secret Service on Linux, Credential Manager on Windows).
type KeyringStorage struct {
	mu      sync.Mutex
	service string
	opened  bool
}

// NewKeyringStorage creates a keychain-backed store under the default
// service name.
func NewKeyringStorage() *KeyringStorage {
	return &KeyringStorage{service: keyringService}
}

// Open probes the keychain with a throwaway entry so unavailability surfaces
// here rather than on the first real write.
func (s *KeyringStorage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	const probe = "gapi::probe"
	if err := keyring.Set(s.service, probe, "probe"); err != nil {
		return &gapi.Error{Code: gapi.CodeBackendNotReady, Message: "system keyring unavailable", Cause: err}
	}
	_ = keyring.Delete(s.service, probe) // Best-effort cleanup
	s.opened = true
	return nil
}

func (s *KeyringStorage) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *KeyringStorage) Get(ctx context.Context, apiKey, accountName string) (*gapi.Account, error) {
	data, err := keyring.Get(s.service, storageKey(apiKey, accountName))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var account gapi.Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, gapi.ErrInvalidResponse("stored credentials are corrupt")
	}
	return &account, nil
}

func (s *KeyringStorage) Put(ctx context.Context, apiKey string, account *gapi.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return keyring.Set(s.service, storageKey(apiKey, account.Name), string(data))
}

func (s *KeyringStorage) Remove(ctx context.Context, apiKey, accountName string) error {
	err := keyring.Delete(s.service, storageKey(apiKey, accountName))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
