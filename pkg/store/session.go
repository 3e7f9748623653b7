package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionStore is the fast backend: one file per key under a directory that
// lives in the OS temp area, so values are cheap to read and are gone after a
// reboot. Multiple skimmr processes in the same boot session share it, which
// is what lets a login performed in one process be picked up by another.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

var _ Backend = (*SessionStore)(nil)

// NewSessionStore creates a session store rooted at dir, creating it if
// needed. An empty dir defaults to a skimmr-session directory in os.TempDir.
func NewSessionStore(dir string) (*SessionStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "skimmr-session")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) Name() string { return "session" }

func (s *SessionStore) path(key string) string {
	// Keys are fixed identifiers, but keep path traversal out regardless.
	return filepath.Join(s.dir, strings.ReplaceAll(key, string(os.PathSeparator), "_"))
}

func (s *SessionStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v := string(data)
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *SessionStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Write-then-rename so concurrent readers never observe a partial value.
	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
