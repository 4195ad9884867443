// Package session persists the client's token pair between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// AppDir is the directory name under the user config dir.
const AppDir = "arena-auth"

// ErrIncomplete is returned by Set when either token is empty.
var ErrIncomplete = errors.New("session: both tokens are required")

// Tokens is the persisted pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present.
func (t Tokens) Complete() bool { return t.AccessToken != "" && t.RefreshToken != "" }

// Store keeps at most one token pair. Get returns nil when nothing is stored.
type Store interface {
	Get() (*Tokens, error)
	Set(Tokens) error
	Clear() error
}

// DefaultDir resolves $XDG_CONFIG_HOME/arena-auth, falling back to ~/.config/arena-auth.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, AppDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppDir)
}

// FileStore keeps the pair in dir/session.json with 0600 permissions.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore uses dir, or DefaultDir when dir is empty.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{dir: dir}
}

// Path is the session file location.
func (s *FileStore) Path() string { return filepath.Join(s.dir, "session.json") }

// Get reads the stored pair. A missing file is not an error.
func (s *FileStore) Get() (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", s.Path(), err)
	}
	if !t.Complete() {
		return nil, nil
	}
	return &t, nil
}

// Set replaces the stored pair atomically.
func (s *FileStore) Set(t Tokens) error {
	if !t.Complete() {
		return ErrIncomplete
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("session: temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after rename

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("session: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("session: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("session: rename: %w", err)
	}
	return nil
}

// Clear removes the session file. Clearing an empty store is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// MemStore is an in-process Store.
type MemStore struct {
	mu sync.Mutex
	t  *Tokens
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore { return &MemStore{} }

// Get returns a copy of the stored pair.
func (s *MemStore) Get() (*Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil {
		return nil, nil
	}
	t := *s.t
	return &t, nil
}

// Set replaces the stored pair.
func (s *MemStore) Set(t Tokens) error {
	if !t.Complete() {
		return ErrIncomplete
	}
	s.mu.Lock()
	s.t = &t
	s.mu.Unlock()
	return nil
}

// Clear drops the stored pair.
func (s *MemStore) Clear() error {
	s.mu.Lock()
	s.t = nil
	s.mu.Unlock()
	return nil
}
