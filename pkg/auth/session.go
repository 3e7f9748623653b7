// Package auth owns the in-memory authentication state: the credential and
// the authenticated flag. All transitions run through the SessionManager,
// which repairs inconsistencies between memory and the storage backends and
// broadcasts every externally visible change.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/store"
)

// DefaultValidationGrace is how long after a persisted session is restored
// the server-side validation waits, giving other components time to come up.
const DefaultValidationGrace = 2 * time.Second

// State is the externally visible authentication state.
//
// Invariant: IsAuthenticated implies HasCredential. The manager treats an
// observed violation as an error condition and repairs it, never reports it.
type State struct {
	IsAuthenticated   bool   `json:"isAuthenticated"`
	HasCredential     bool   `json:"hasCredential"`
	CredentialPreview string `json:"credentialPreview,omitempty"`
}

// SessionManager drives login, logout and validation against the server and
// mirrors the credential through the CredentialStore.
type SessionManager struct {
	api   *api.Client
	store *store.CredentialStore
	bus   bus.Bus
	log   *slog.Logger

	validationGrace time.Duration
	schedule        func(d time.Duration, fn func())

	mu            sync.Mutex
	authenticated bool
	token         string

	// reloading collapses concurrent self-heal reloads from AuthHeaders.
	reloading atomic.Bool
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithValidationGrace overrides the delay before post-restore validation.
func WithValidationGrace(d time.Duration) SessionOption {
	return func(m *SessionManager) { m.validationGrace = d }
}

// WithSessionScheduler replaces the deferred-execution hook for tests.
func WithSessionScheduler(fn func(d time.Duration, f func())) SessionOption {
	return func(m *SessionManager) { m.schedule = fn }
}

// NewSessionManager creates a logged-out manager.
func NewSessionManager(client *api.Client, cs *store.CredentialStore, b bus.Bus, log *slog.Logger, opts ...SessionOption) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	m := &SessionManager{
		api:             client,
		store:           cs,
		bus:             b,
		log:             log,
		validationGrace: DefaultValidationGrace,
	}
	m.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current authentication state with a redacted credential
// preview. The full token is never exposed through this path.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		IsAuthenticated:   m.authenticated,
		HasCredential:     m.token != "",
		CredentialPreview: PreviewToken(m.token),
	}
}

// Login exchanges password for a new credential. In-memory state is reset
// first so a failed login can never leave a half-authenticated session, and
// any stale fast-backend fallback from a previous session is cleared before
// the request goes out.
func (m *SessionManager) Login(ctx context.Context, password string) (string, error) {
	m.mu.Lock()
	m.authenticated = false
	m.token = ""
	m.mu.Unlock()
	m.store.ClearFast()

	token, err := m.api.Login(ctx, password)
	if err != nil {
		return "", err
	}

	// Fast path first: the immediate in-memory/fast-path success must hold
	// even if the durable write below fails.
	m.store.SaveFast(token)

	m.mu.Lock()
	m.token = token
	m.authenticated = true
	m.mu.Unlock()

	if !m.store.Save(token) {
		m.log.Warn("durable credential persistence incomplete after login")
	}
	m.broadcast()

	if _, ok := m.AuthHeaders()["Authorization"]; !ok {
		// Cannot happen with the token set above; if it does, the header
		// path has a logic bug worth shouting about.
		m.log.Error("login succeeded but header generation produced no Authorization header")
	}

	return token, nil
}

// Logout evicts the session. Local state goes first so the UI reflects the
// logout even when the network is down; the server notification afterwards is
// best-effort and its failure is swallowed. Always returns true.
//
// The credential for the notification is read directly rather than through
// AuthHeaders: its self-heal path schedules a session reload, which mid-logout
// could resurrect the state being torn down.
func (m *SessionManager) Logout(ctx context.Context) bool {
	m.mu.Lock()
	token := m.token
	m.authenticated = false
	m.token = ""
	m.mu.Unlock()
	if token == "" {
		token = m.store.LoadFast()
	}

	m.store.Clear()
	m.broadcast()

	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	if err := m.api.Logout(ctx, headers); err != nil {
		m.log.Debug("server logout notification failed", "err", err)
	}
	return true
}

// LoadPersistedSession restores the credential from durable storage at
// startup. Restoration is optimistic: the session is reported authenticated
// immediately so the UI is not blocked on the network, and validation runs in
// the background after a short grace delay. A validation answer of "invalid"
// is logged loudly but does not evict; transient network trouble must not
// cost a working session. Only the explicit unauthorized sentinel does.
func (m *SessionManager) LoadPersistedSession(ctx context.Context) State {
	token := m.store.Load()
	if token == "" {
		return m.State()
	}

	m.mu.Lock()
	m.token = token
	m.authenticated = true
	m.mu.Unlock()
	m.broadcast()

	m.schedule(m.validationGrace, func() {
		m.validatePersistedSession(context.WithoutCancel(ctx))
	})

	return m.State()
}

func (m *SessionManager) validatePersistedSession(ctx context.Context) {
	outcome, err := m.api.CheckAuth(ctx, m.AuthHeaders())
	if err != nil {
		m.log.Debug("persisted session validation failed, keeping session", "err", err)
		return
	}
	switch outcome {
	case api.CheckUnauthorized:
		m.log.Warn("persisted credential rejected by server, evicting session")
		m.evict()
	case api.CheckNotAuthenticated:
		// Deliberate asymmetry with CheckAuthWithServer: a few seconds of
		// stale authenticated UI beats a false-negative eviction.
		m.log.Error("server reports persisted session not authenticated; keeping session pending explicit unauthorized")
	default:
	}
}

// CheckAuthWithServer asks the server whether the session is valid and
// reconciles the local flag with the answer. The authenticated-but-no-
// credential state is repaired first: the fast backend is tried, and if the
// credential cannot be recovered the session is evicted, because that state
// must never be reported as authenticated.
func (m *SessionManager) CheckAuthWithServer(ctx context.Context) bool {
	m.mu.Lock()
	inconsistent := m.authenticated && m.token == ""
	m.mu.Unlock()

	if inconsistent {
		recovered := m.store.LoadFast()
		if recovered == "" {
			m.log.Error("authenticated with no credential anywhere, forcing eviction")
			m.evict()
			return false
		}
		m.log.Warn("recovered credential from fast backend, retrying auth check")
		m.mu.Lock()
		m.token = recovered
		m.mu.Unlock()
		return m.CheckAuthWithServer(ctx)
	}

	outcome, err := m.api.CheckAuth(ctx, m.AuthHeaders())
	if err != nil {
		// Fail open for read-only checks: transient errors must not cause
		// spurious logouts.
		m.log.Debug("auth check errored, preserving state", "err", err)
		return m.State().IsAuthenticated
	}

	switch outcome {
	case api.CheckAuthenticated:
		m.transition(true)
		return true
	case api.CheckNotAuthenticated:
		m.transition(false)
		return false
	case api.CheckUnauthorized:
		m.evict()
		return false
	default: // CheckNoChange
		return m.State().IsAuthenticated
	}
}

// AuthHeaders returns the Authorization header map for the current
// credential. With no credential in memory it falls back to the fast backend;
// if that also comes up empty it returns an empty map and schedules a reload
// of the persisted session in the background. Callers must treat a missing
// Authorization entry as "not currently authenticated".
func (m *SessionManager) AuthHeaders() map[string]string {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == "" {
		token = m.store.LoadFast()
		if token != "" {
			m.mu.Lock()
			if m.token == "" {
				m.token = token
			}
			m.mu.Unlock()
		}
	}

	if token == "" {
		if m.reloading.CompareAndSwap(false, true) {
			m.schedule(0, func() {
				defer m.reloading.Store(false)
				m.LoadPersistedSession(context.Background())
			})
		}
		return map[string]string{}
	}

	return map[string]string{"Authorization": "Bearer " + token}
}

// ResetAuthentication is the unconditional hard eviction: memory and both
// storage backends are cleared and the change broadcast. It returns false as
// the new authentication status, convenient for call sites that use the
// return value directly.
func (m *SessionManager) ResetAuthentication() bool {
	m.evict()
	return false
}

// transition flips the authenticated flag to v if it differs, broadcasting
// the change. The credential itself is untouched.
func (m *SessionManager) transition(v bool) {
	m.mu.Lock()
	changed := m.authenticated != v
	m.authenticated = v
	m.mu.Unlock()
	if changed {
		m.broadcast()
	}
}

// evict drops the session from memory and both storage backends.
func (m *SessionManager) evict() {
	m.mu.Lock()
	m.authenticated = false
	m.token = ""
	m.mu.Unlock()
	m.store.Clear()
	m.broadcast()
}

func (m *SessionManager) broadcast() {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(m.State())
	if err != nil {
		m.log.Error("auth broadcast encode failed", "err", err)
		return
	}
	if err := m.bus.Publish(bus.TopicAuthStatusChanged, data); err != nil {
		m.log.Warn("auth broadcast failed", "err", err)
	}
}
