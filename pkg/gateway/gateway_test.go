package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/status"
	"github.com/skimmr/cli/pkg/store"
)

func newTestGateway(t *testing.T, serverURL, token string) (*Gateway, *status.Monitor) {
	t.Helper()
	fast := store.NewMemoryStore("fast")
	durable := store.NewMemoryStore("durable")
	if token != "" {
		require.NoError(t, durable.Set(store.KeyCredential, token))
	}
	cs := store.NewCredentialStore(fast, durable, nil,
		store.WithScheduler(func(_ time.Duration, fn func()) { fn() }))

	client := api.NewClient(serverURL)
	session := auth.NewSessionManager(client, cs, nil, nil,
		auth.WithSessionScheduler(func(_ time.Duration, _ func()) {}))
	if token != "" {
		session.LoadPersistedSession(context.Background())
	}
	monitor := status.NewMonitor(client, session, nil, nil, nil,
		status.WithScheduler(func(_ time.Duration, fn func()) { fn() }))
	return New(client, session, monitor, nil), monitor
}

func TestExecuteSubmitsTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tasks", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var body struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, TaskSummarizeEmail, body.Type)

		json.NewEncoder(w).Encode(map[string]any{
			"taskId": "task-1",
			"status": "completed",
			"result": map[string]string{"summary": "three unread invoices"},
		})
	}))
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, "tok-123")

	resp, err := g.Execute(context.Background(), TaskSummarizeEmail, map[string]string{
		"subject": "invoices",
		"content": "...",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, "completed", resp.Status)
}

func TestExecuteFailsFastWithoutCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	g, _ := newTestGateway(t, srv.URL, "")

	_, err := g.Execute(context.Background(), TaskSummarizeChat, nil)
	assert.ErrorIs(t, err, ErrCredentialNotConfigured)
	// No network round trip happened.
	assert.Equal(t, int32(0), hits.Load())
}

func TestExecuteRejectionMarksCredentialInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "token revoked"})
	}))
	defer srv.Close()

	g, monitor := newTestGateway(t, srv.URL, "tok-123")

	_, err := g.Execute(context.Background(), TaskSummarizeEmail, nil)
	var rejected *CredentialRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.StatusCode)

	got := monitor.GetStatus()
	assert.True(t, got.Reachable)
	assert.Equal(t, status.AuthInvalid, got.AuthValid)
	require.NotNil(t, got.HTTPStatusCode)
	assert.Equal(t, http.StatusForbidden, *got.HTTPStatusCode)
}

func TestExecuteTransportFailureMarksUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g, monitor := newTestGateway(t, srv.URL, "tok-123")

	_, err := g.Execute(context.Background(), TaskSummarizeEmail, nil)
	require.Error(t, err)

	// The raw transport error comes back, not a credential rejection.
	var rejected *CredentialRejectedError
	assert.False(t, errors.As(err, &rejected))

	got := monitor.GetStatus()
	assert.False(t, got.Reachable)
	assert.True(t, got.Errored)
	assert.Equal(t, status.AuthUnknown, got.AuthValid)
	assert.Nil(t, got.HTTPStatusCode)
}

func TestExecuteServerErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unsupported task type"})
	}))
	defer srv.Close()

	g, monitor := newTestGateway(t, srv.URL, "tok-123")

	_, err := g.Execute(context.Background(), "summarize_calendar", nil)
	var serr *api.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "unsupported task type", serr.Message)

	// A plain 4xx says nothing about reachability or the credential.
	got := monitor.GetStatus()
	assert.False(t, got.Reachable)
	assert.Equal(t, status.AuthUnknown, got.AuthValid)
}
