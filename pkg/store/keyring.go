package store

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const keyringService = "skimmr"

// KeyringStore is the durable backend: values live in the OS keyring
// (Keychain, Secret Service, Credential Manager) under the skimmr service.
//
// Headless machines often have no keyring daemon, so an optional fallback
// backend can be supplied; it takes over transparently after the first
// keyring failure that is not a simple miss.
type KeyringStore struct {
	service  string
	fallback Backend
	log      *slog.Logger
}

var _ Backend = (*KeyringStore)(nil)

// NewKeyringStore creates a keyring-backed store. fallback may be nil.
func NewKeyringStore(fallback Backend, log *slog.Logger) *KeyringStore {
	if log == nil {
		log = slog.Default()
	}
	return &KeyringStore{service: keyringService, fallback: fallback, log: log}
}

func (s *KeyringStore) Name() string { return "keyring" }

func (s *KeyringStore) Get(key string) (string, bool, error) {
	v, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		if s.fallback != nil {
			// The value may have been written through the fallback on a
			// machine where the keyring only later became available.
			return s.fallback.Get(key)
		}
		return "", false, nil
	}
	if err != nil {
		if s.fallback != nil {
			s.log.Warn("keyring read failed, using fallback store", "key", key, "err", err)
			return s.fallback.Get(key)
		}
		return "", false, err
	}
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (s *KeyringStore) Set(key, value string) error {
	err := keyring.Set(s.service, key, value)
	if err != nil && s.fallback != nil {
		s.log.Warn("keyring write failed, using fallback store", "key", key, "err", err)
		return s.fallback.Set(key, value)
	}
	return err
}

func (s *KeyringStore) Delete(key string) error {
	err := keyring.Delete(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		err = nil
	}
	if s.fallback != nil {
		// Clear both homes so a later fallback read cannot resurrect the value.
		if ferr := s.fallback.Delete(key); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}
