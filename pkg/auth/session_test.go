package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/store"
)

func inline(_ time.Duration, fn func()) { fn() }

func never(_ time.Duration, _ func()) {}

type fixture struct {
	manager *SessionManager
	fast    *store.MemoryStore
	durable *store.MemoryStore
	bus     *bus.MemoryBus
}

func newFixture(t *testing.T, serverURL string, opts ...SessionOption) *fixture {
	t.Helper()
	fast := store.NewMemoryStore("fast")
	durable := store.NewMemoryStore("durable")
	cs := store.NewCredentialStore(fast, durable, nil, store.WithScheduler(inline))
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	opts = append([]SessionOption{WithSessionScheduler(never)}, opts...)
	return &fixture{
		manager: NewSessionManager(api.NewClient(serverURL), cs, b, nil, opts...),
		fast:    fast,
		durable: durable,
		bus:     b,
	}
}

func authEvents(t *testing.T, b *bus.MemoryBus) chan State {
	t.Helper()
	events := make(chan State, 16)
	_, err := b.Subscribe(bus.TopicAuthStatusChanged, func(msg bus.Message) {
		var s State
		require.NoError(t, json.Unmarshal(msg.Data, &s))
		events <- s
	})
	require.NoError(t, err)
	return events
}

func waitEvent(t *testing.T, events chan State) State {
	t.Helper()
	select {
	case s := <-events:
		return s
	case <-time.After(time.Second):
		t.Fatal("expected an auth broadcast")
		return State{}
	}
}

func TestLoginPersistsToBothBackendsAndBroadcasts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		var body struct {
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hunter2", body.Password)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-fresh-123"})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	events := authEvents(t, f.bus)

	token, err := f.manager.Login(context.Background(), "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh-123", token)

	state := waitEvent(t, events)
	assert.True(t, state.IsAuthenticated)
	assert.True(t, state.HasCredential)

	v, ok, _ := f.fast.Get(store.KeyCredentialFastBackup)
	require.True(t, ok)
	assert.Equal(t, "tok-fresh-123", v)
	v, ok, _ = f.durable.Get(store.KeyCredential)
	require.True(t, ok)
	assert.Equal(t, "tok-fresh-123", v)

	headers := f.manager.AuthHeaders()
	assert.Equal(t, "Bearer tok-fresh-123", headers["Authorization"])
}

func TestLoginFailureLeavesSessionLoggedOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "wrong password"})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	_, err := f.manager.Login(context.Background(), "wrong")
	require.Error(t, err)
	var serr *api.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
	assert.Equal(t, "wrong password", serr.Message)

	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
	assert.Empty(t, f.manager.AuthHeaders())
}

func TestLoginReplacesStaleFastFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-new"})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.fast.Set(store.KeyCredentialFastBackup, "tok-stale"))

	_, err := f.manager.Login(context.Background(), "pw")
	require.NoError(t, err)

	v, _, _ := f.fast.Get(store.KeyCredentialFastBackup)
	assert.Equal(t, "tok-new", v)
}

func TestLogoutEvictsLocallyEvenWhenServerIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // server unreachable

	f := newFixture(t, srv.URL)
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))
	f.manager.LoadPersistedSession(context.Background())
	f.manager.store.Wait()

	assert.True(t, f.manager.Logout(context.Background()))

	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
	_, ok, _ := f.durable.Get(store.KeyCredential)
	assert.False(t, ok)
	_, ok, _ = f.fast.Get(store.KeyCredentialFastBackup)
	assert.False(t, ok)
}

func TestLogoutWithoutMemoryCredentialDoesNotReloadSession(t *testing.T) {
	var reloads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newFixture(t, srv.URL, WithSessionScheduler(func(_ time.Duration, fn func()) {
		reloads.Add(1)
		fn()
	}))
	// A durable credential a background reload would happily resurrect.
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))

	assert.True(t, f.manager.Logout(context.Background()))

	// No reload was scheduled mid-logout, and nothing survived the eviction.
	assert.Equal(t, int32(0), reloads.Load())
	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
	_, ok, _ := f.durable.Get(store.KeyCredential)
	assert.False(t, ok)
}

func TestLogoutSendsStoredCredentialBestEffort(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/logout" {
			gotAuth <- r.Header.Get("Authorization")
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.fast.Set(store.KeyCredentialFastBackup, "tok-fast"))

	assert.True(t, f.manager.Logout(context.Background()))

	select {
	case auth := <-gotAuth:
		assert.Equal(t, "Bearer tok-fast", auth)
	case <-time.After(time.Second):
		t.Fatal("server logout notification never arrived")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	assert.True(t, f.manager.Logout(context.Background()))
	assert.True(t, f.manager.Logout(context.Background()))
}

func TestLoadPersistedSessionRestoresOptimistically(t *testing.T) {
	var checked atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checked.Store(true)
		json.NewEncoder(w).Encode(map[string]bool{"authenticated": true})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-restored"))

	state := f.manager.LoadPersistedSession(context.Background())
	assert.True(t, state.IsAuthenticated)
	assert.True(t, state.HasCredential)
	// Validation is deferred, not part of the restore round trip.
	assert.False(t, checked.Load())
}

func TestLoadPersistedSessionEmptyStorage(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")
	state := f.manager.LoadPersistedSession(context.Background())
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
}

func TestPersistedSessionValidationEvictsOnlyOnUnauthorized(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantsEvict bool
	}{
		{
			name: "unauthorized sentinel evicts",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantsEvict: true,
		},
		{
			name: "explicit not-authenticated keeps the session",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]bool{"authenticated": false})
			},
			wantsEvict: false,
		},
		{
			name: "server error keeps the session",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantsEvict: false,
		},
		{
			name: "confirmation keeps the session",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]bool{"authenticated": true})
			},
			wantsEvict: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := newFixture(t, srv.URL, WithSessionScheduler(inline))
			require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))

			f.manager.LoadPersistedSession(context.Background())

			state := f.manager.State()
			if tt.wantsEvict {
				assert.False(t, state.IsAuthenticated)
				assert.False(t, state.HasCredential)
				_, ok, _ := f.durable.Get(store.KeyCredential)
				assert.False(t, ok)
			} else {
				assert.True(t, state.IsAuthenticated)
				assert.True(t, state.HasCredential)
			}
		})
	}
}

func TestCheckAuthWithServerTransitions(t *testing.T) {
	var response atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch v := response.Load().(string); v {
		case "ok":
			json.NewEncoder(w).Encode(map[string]bool{"authenticated": true})
		case "no":
			json.NewEncoder(w).Encode(map[string]bool{"authenticated": false})
		case "401":
			w.WriteHeader(http.StatusUnauthorized)
		case "304":
			w.WriteHeader(http.StatusNotModified)
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))
	f.manager.LoadPersistedSession(context.Background())

	response.Store("ok")
	assert.True(t, f.manager.CheckAuthWithServer(context.Background()))

	// 304 means "previous answer still holds".
	response.Store("304")
	assert.True(t, f.manager.CheckAuthWithServer(context.Background()))

	// An explicit "not authenticated" flips the flag but keeps the credential.
	response.Store("no")
	assert.False(t, f.manager.CheckAuthWithServer(context.Background()))
	assert.True(t, f.manager.State().HasCredential)

	response.Store("ok")
	assert.True(t, f.manager.CheckAuthWithServer(context.Background()))

	// 401 evicts everything.
	response.Store("401")
	assert.False(t, f.manager.CheckAuthWithServer(context.Background()))
	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
	_, ok, _ := f.durable.Get(store.KeyCredential)
	assert.False(t, ok)
	assert.Empty(t, f.manager.AuthHeaders())
}

func TestCheckAuthWithServerFailsOpenOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))
	f.manager.LoadPersistedSession(context.Background())

	assert.True(t, f.manager.CheckAuthWithServer(context.Background()))
	assert.True(t, f.manager.State().IsAuthenticated)
}

func TestCheckAuthWithServerRecoversFromInconsistentState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-recovered", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]bool{"authenticated": true})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.fast.Set(store.KeyCredentialFastBackup, "tok-recovered"))

	// Force the invariant violation: authenticated with no credential.
	f.manager.mu.Lock()
	f.manager.authenticated = true
	f.manager.mu.Unlock()

	assert.True(t, f.manager.CheckAuthWithServer(context.Background()))
	state := f.manager.State()
	assert.True(t, state.IsAuthenticated)
	assert.True(t, state.HasCredential)
}

func TestCheckAuthWithServerEvictsWhenRecoveryImpossible(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")

	f.manager.mu.Lock()
	f.manager.authenticated = true
	f.manager.mu.Unlock()

	assert.False(t, f.manager.CheckAuthWithServer(context.Background()))
	assert.False(t, f.manager.State().IsAuthenticated)
}

func TestAuthHeadersAdoptsFastBackendCredential(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")
	require.NoError(t, f.fast.Set(store.KeyCredentialFastBackup, "tok-fast"))

	headers := f.manager.AuthHeaders()
	assert.Equal(t, "Bearer tok-fast", headers["Authorization"])

	// The recovered credential is kept for subsequent calls.
	assert.True(t, f.manager.State().HasCredential)
}

func TestAuthHeadersEmptyWhenNoCredentialExists(t *testing.T) {
	var reloads atomic.Int32
	f := newFixture(t, "http://unused.invalid", WithSessionScheduler(func(_ time.Duration, fn func()) {
		reloads.Add(1)
		fn()
	}))

	assert.Empty(t, f.manager.AuthHeaders())
	// One background reload was attempted for the missing credential.
	assert.Equal(t, int32(1), reloads.Load())
}

func TestResetAuthenticationClearsEverything(t *testing.T) {
	f := newFixture(t, "http://unused.invalid")
	require.NoError(t, f.durable.Set(store.KeyCredential, "tok-123"))
	require.NoError(t, f.fast.Set(store.KeyCredentialFastBackup, "tok-123"))
	f.manager.LoadPersistedSession(context.Background())

	assert.False(t, f.manager.ResetAuthentication())

	state := f.manager.State()
	assert.False(t, state.IsAuthenticated)
	assert.False(t, state.HasCredential)
	_, ok, _ := f.durable.Get(store.KeyCredential)
	assert.False(t, ok)
	_, ok, _ = f.fast.Get(store.KeyCredentialFastBackup)
	assert.False(t, ok)
}

func TestStateRedactsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-abcdefghijklmnop"})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	_, err := f.manager.Login(context.Background(), "pw")
	require.NoError(t, err)

	state := f.manager.State()
	assert.NotContains(t, state.CredentialPreview, "abcdefghijklmnop")
	assert.Equal(t, "tok-…mnop", state.CredentialPreview)
}
