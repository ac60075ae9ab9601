package accounts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/calder-labs/gapi"
)

// FileStorage persists accounts as a JSON file. It is the fallback for
// systems without a usable keychain: writes are atomic and guarded by a
// cross-process file lock, and an fsnotify watch drops the in-memory cache
// whenever another process rewrites the file.
type FileStorage struct {
	mu      sync.Mutex
	path    string
	flk     *flock.Flock
	watcher *fsnotify.Watcher
	cache   map[string]*gapi.Account
	fresh   bool
	opened  bool
}

// DefaultFileStoragePath returns the per-user accounts file location.
func DefaultFileStoragePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gapi", "accounts.json"), nil
}

// NewFileStorage creates a file-backed store at the given path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &gapi.Error{Code: gapi.CodeBackendNotReady, Message: "could not create accounts directory", Cause: err}
	}
	s.flk = flock.New(s.path + ".lock")

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(dir); err == nil {
			s.watcher = watcher
			go s.watch()
		} else {
			watcher.Close()
		}
	}
	// A missing watcher only costs cache coherence with other processes;
	// every write still re-reads the file under the lock.

	s.opened = true
	return nil
}

// watch invalidates the cache when another process touches the file.
func (s *FileStorage) watch() {
	for ev := range s.watcher.Events {
		if ev.Name != s.path {
			continue
		}
		if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
			s.mu.Lock()
			s.fresh = false
			s.mu.Unlock()
		}
	}
}

func (s *FileStorage) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Close stops the external-change watcher.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

func (s *FileStorage) Get(ctx context.Context, apiKey, accountName string) (*gapi.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		if err := s.flk.RLock(); err != nil {
			return nil, err
		}
		err := s.loadLocked()
		_ = s.flk.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return s.cache[storageKey(apiKey, accountName)].Clone(), nil
}

func (s *FileStorage) Put(ctx context.Context, apiKey string, account *gapi.Account) error {
	return s.update(func() {
		s.cache[storageKey(apiKey, account.Name)] = account.Clone()
	})
}

func (s *FileStorage) Remove(ctx context.Context, apiKey, accountName string) error {
	return s.update(func() {
		delete(s.cache, storageKey(apiKey, accountName))
	})
}

// update re-reads the file under the exclusive lock, applies the mutation,
// and writes the result back atomically.
func (s *FileStorage) update(mutate func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flk.Lock(); err != nil {
		return err
	}
	defer s.flk.Unlock() //nolint:errcheck

	if err := s.loadLocked(); err != nil {
		return err
	}
	mutate()
	return s.writeLocked()
}

func (s *FileStorage) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cache = make(map[string]*gapi.Account)
			s.fresh = true
			return nil
		}
		return err
	}
	var all map[string]*gapi.Account
	if err := json.Unmarshal(data, &all); err != nil {
		return gapi.ErrInvalidResponse("accounts file is corrupt")
	}
	if all == nil {
		all = make(map[string]*gapi.Account)
	}
	s.cache = all
	s.fresh = true
	return nil
}

func (s *FileStorage) writeLocked() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "accounts-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Unix: rename atomically replaces the destination. Windows: rename
	// fails when the destination exists, so remove and retry.
	if err := os.Rename(tmpPath, s.path); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(s.path)
			return os.Rename(tmpPath, s.path)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}
