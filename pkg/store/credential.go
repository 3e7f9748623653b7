package store

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrWriteFailed reports a backend write rejected by the backend itself.
var ErrWriteFailed = errors.New("storage write failed")

// DefaultConsistencyDelay is how long after a save the backends get to settle
// before the consistency check reads them back.
const DefaultConsistencyDelay = 150 * time.Millisecond

// ConsistencyResult reports the outcome of a dual-backend reconciliation.
type ConsistencyResult struct {
	// IsConsistent is true only when both backends held the same non-empty
	// value. Both backends being empty is reported as inconsistent: that is
	// the credential-lost-everywhere alarm, not a benign agreement.
	IsConsistent bool
	// ResolvedToken is the value both backends hold after repair, or empty
	// when no backend had one.
	ResolvedToken string
}

// CredentialStore mirrors the in-memory credential into the fast and durable
// backends and repairs divergence between them. It owns no credential itself;
// the session manager does.
//
// Every operation is failure-tolerant: backend errors are logged and
// downgraded to false/empty results, never surfaced to the auth path.
type CredentialStore struct {
	fast    Backend
	durable Backend
	log     *slog.Logger

	consistencyDelay time.Duration
	// schedule defers fn by d; tests replace it to run synchronously.
	schedule func(d time.Duration, fn func())

	wg sync.WaitGroup
}

// CredentialStoreOption configures a CredentialStore.
type CredentialStoreOption func(*CredentialStore)

// WithConsistencyDelay overrides the settle delay before the post-save check.
func WithConsistencyDelay(d time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) { s.consistencyDelay = d }
}

// WithScheduler replaces the deferred-execution hook, letting tests run the
// post-save consistency check deterministically.
func WithScheduler(fn func(d time.Duration, f func())) CredentialStoreOption {
	return func(s *CredentialStore) { s.schedule = fn }
}

// NewCredentialStore creates a store over the given fast and durable backends.
func NewCredentialStore(fast, durable Backend, log *slog.Logger, opts ...CredentialStoreOption) *CredentialStore {
	if log == nil {
		log = slog.Default()
	}
	s := &CredentialStore{
		fast:             fast,
		durable:          durable,
		log:              log,
		consistencyDelay: DefaultConsistencyDelay,
	}
	s.schedule = func(d time.Duration, fn func()) {
		s.wg.Add(1)
		time.AfterFunc(d, func() {
			defer s.wg.Done()
			fn()
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes token to both backends concurrently and reports whether both
// writes succeeded. The value is trimmed first. A consistency check is
// scheduled to run after the backends have had time to settle.
func (s *CredentialStore) Save(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		s.log.Warn("refusing to save empty credential")
		return false
	}

	var wg sync.WaitGroup
	var fastErr, durableErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		fastErr = s.fast.Set(KeyCredentialFastBackup, token)
	}()
	go func() {
		defer wg.Done()
		durableErr = s.durable.Set(KeyCredential, token)
	}()
	wg.Wait()

	if fastErr != nil {
		s.log.Error("credential write failed", "backend", s.fast.Name(), "err", fastErr)
	}
	if durableErr != nil {
		s.log.Error("credential write failed", "backend", s.durable.Name(), "err", durableErr)
	}

	s.schedule(s.consistencyDelay, func() {
		res := s.CheckConsistency()
		if !res.IsConsistent {
			s.log.Warn("post-save consistency check found divergence",
				"resolved", res.ResolvedToken != "")
		}
	})

	return fastErr == nil && durableErr == nil
}

// SaveFast writes only the fast backend, best-effort. The login path uses it
// to make the credential visible on the fast path before the durable write
// completes; a durable failure must not void that immediate success.
func (s *CredentialStore) SaveFast(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	if err := s.fast.Set(KeyCredentialFastBackup, token); err != nil {
		s.log.Warn("fast-backend write failed", "err", err)
	}
}

// ClearFast removes only the fast-backend copy, best-effort. Login clears a
// stale fallback left over from a previous session before requesting a new
// token.
func (s *CredentialStore) ClearFast() {
	if err := s.fast.Delete(KeyCredentialFastBackup); err != nil {
		s.log.Warn("fast-backend clear failed", "err", err)
	}
}

// Load reads the credential from the durable backend, which is authoritative
// across restarts. On a hit the value is mirrored into the fast backend in
// the background so later LoadFast calls see it.
func (s *CredentialStore) Load() string {
	v, ok, err := s.durable.Get(KeyCredential)
	if err != nil {
		s.log.Error("credential read failed", "backend", s.durable.Name(), "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.fast.Set(KeyCredentialFastBackup, v); err != nil {
			s.log.Warn("fast-backend mirror failed", "err", err)
		}
	}()
	return v
}

// LoadFast reads only the fast backend. It is the emergency path for callers
// that need a credential without a durable-storage round trip.
func (s *CredentialStore) LoadFast() string {
	v, ok, err := s.fast.Get(KeyCredentialFastBackup)
	if err != nil {
		s.log.Warn("fast-backend read failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// Clear removes the credential from both backends and reports whether both
// removals succeeded. Partial failure is logged, not escalated.
func (s *CredentialStore) Clear() bool {
	fastErr := s.fast.Delete(KeyCredentialFastBackup)
	durableErr := s.durable.Delete(KeyCredential)
	if fastErr != nil {
		s.log.Warn("credential clear failed", "backend", s.fast.Name(), "err", fastErr)
	}
	if durableErr != nil {
		s.log.Warn("credential clear failed", "backend", s.durable.Name(), "err", durableErr)
	}
	return fastErr == nil && durableErr == nil
}

// CheckConsistency reads both backends and reconciles them. When the values
// differ, the fast-backend value wins because a just-completed write becomes
// visible there first; the resolved value is written back to both backends.
func (s *CredentialStore) CheckConsistency() ConsistencyResult {
	fastVal, _, fastErr := s.fast.Get(KeyCredentialFastBackup)
	if fastErr != nil {
		s.log.Warn("consistency check: fast read failed", "err", fastErr)
	}
	durableVal, _, durableErr := s.durable.Get(KeyCredential)
	if durableErr != nil {
		s.log.Warn("consistency check: durable read failed", "err", durableErr)
	}

	switch {
	case fastVal == "" && durableVal == "":
		s.log.Error("credential missing from every storage backend")
		return ConsistencyResult{IsConsistent: false}
	case fastVal == durableVal:
		return ConsistencyResult{IsConsistent: true, ResolvedToken: fastVal}
	}

	resolved := fastVal
	if resolved == "" {
		resolved = durableVal
	}
	if err := s.fast.Set(KeyCredentialFastBackup, resolved); err != nil {
		s.log.Warn("consistency repair: fast write failed", "err", err)
	}
	if err := s.durable.Set(KeyCredential, resolved); err != nil {
		s.log.Warn("consistency repair: durable write failed", "err", err)
	}
	return ConsistencyResult{IsConsistent: false, ResolvedToken: resolved}
}

// Wait blocks until background mirror and consistency work has finished.
// Tests use it; production callers normally do not.
func (s *CredentialStore) Wait() {
	s.wg.Wait()
}
