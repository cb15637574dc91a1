package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// TokenKey is the fixed name the bearer token is stored under.
const TokenKey = "authToken"

// Store persists the bearer token in a local JSON file. A sibling lock file
// serialises access between concurrently running commands.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the stored token, or "" when none is stored.
func (s *Store) Get() (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", err
	}
	if err := s.lock.RLock(); err != nil {
		return "", fmt.Errorf("lock token store: %w", err)
	}
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return "", err
	}
	return values[TokenKey], nil
}

// Set stores token, replacing any previous value.
func (s *Store) Set(token string) error {
	return s.update(func(values map[string]string) { values[TokenKey] = token })
}

// Clear removes the stored token.
func (s *Store) Clear() error {
	return s.update(func(values map[string]string) { delete(values, TokenKey) })
}

func (s *Store) update(fn func(map[string]string)) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock token store: %w", err)
	}
	defer s.lock.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	fn(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token store: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse token store %s: %w", s.path, err)
	}
	return values, nil
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token store dir: %w", err)
	}
	return nil
}
