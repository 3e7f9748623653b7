package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore is a Backend over a bucket in a bbolt database. It backs the
// durable server-status snapshot and serves as the keyring fallback on
// machines without a keyring daemon.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

var _ Backend = (*BoltStore)(nil)

// DefaultStatePath returns the bbolt state database location, preferring
// XDG_STATE_HOME and falling back to the user config directory.
func DefaultStatePath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "skimmr", "state.db"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skimmr", "state.db"), nil
}

// OpenBolt opens (creating if needed) the state database at path.
func OpenBolt(path string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	return db, nil
}

// NewBoltStore returns a Backend over the named bucket of db.
func NewBoltStore(db *bbolt.DB, bucket string) *BoltStore {
	return &BoltStore{db: db, bucket: []byte(bucket)}
}

func (s *BoltStore) Name() string { return "bolt" }

func (s *BoltStore) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if data := b.Get([]byte(key)); data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if value == "" {
		return "", false, nil
	}
	return value, found, nil
}

func (s *BoltStore) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
