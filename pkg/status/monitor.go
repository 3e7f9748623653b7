package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/store"
)

const (
	// CheckTimeout bounds one health-check round trip.
	CheckTimeout = 5 * time.Second
	// RebroadcastDelay is how long after a forced check the status is sent a
	// second time, to defeat delivery races with contexts that were not yet
	// listening at the first broadcast.
	RebroadcastDelay = 500 * time.Millisecond
)

// HeaderSource supplies the auth headers for health probes. An empty map is
// valid and simply means the probe goes out unauthenticated.
type HeaderSource interface {
	AuthHeaders() map[string]string
}

// Monitor owns the in-memory ServerStatus. Health checks, task-response
// observations and snapshot persistence all funnel through it.
type Monitor struct {
	api      *api.Client
	headers  HeaderSource
	bus      bus.Bus
	snapshot store.Backend
	log      *slog.Logger

	checkTimeout     time.Duration
	rebroadcastDelay time.Duration
	schedule         func(d time.Duration, fn func())

	mu      sync.Mutex
	current ServerStatus

	// checkInFlight serializes health checks: a forced check that arrives
	// while another is running is dropped rather than queued, so a slow
	// probe and a timer tick cannot interleave their status writes.
	checkInFlight atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheckTimeout overrides the health-check timeout.
func WithCheckTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.checkTimeout = d }
}

// WithRebroadcastDelay overrides the forced-check rebroadcast delay.
func WithRebroadcastDelay(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.rebroadcastDelay = d }
}

// WithScheduler replaces the deferred-execution hook for tests.
func WithScheduler(fn func(d time.Duration, f func())) MonitorOption {
	return func(m *Monitor) { m.schedule = fn }
}

// NewMonitor creates a Monitor. snapshot may be nil when no durable fallback
// copy is wanted (short-lived CLI contexts).
func NewMonitor(client *api.Client, headers HeaderSource, b bus.Bus, snapshot store.Backend, log *slog.Logger, opts ...MonitorOption) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		api:              client,
		headers:          headers,
		bus:              b,
		snapshot:         snapshot,
		log:              log,
		checkTimeout:     CheckTimeout,
		rebroadcastDelay: RebroadcastDelay,
		current:          ServerStatus{AuthValid: AuthUnknown},
	}
	m.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetStatus returns a defensive copy of the current status. No I/O.
func (m *Monitor) GetStatus() ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// CheckServerOnline probes the server once with a bounded timeout and folds
// the outcome into the current status. It returns true iff the server was
// reachable, regardless of what it thought of the credential.
func (m *Monitor) CheckServerOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	var headers map[string]string
	if m.headers != nil {
		headers = m.headers.AuthHeaders()
	}
	probe := m.api.ProbeStatus(ctx, headers)

	var u Update
	var outcome string
	switch {
	case probe.ReachedServer && probe.StatusCode >= 200 && probe.StatusCode < 300:
		outcome = "ok"
		u = Update{
			Reachable:      boolPtr(true),
			AuthValid:      validityPtr(AuthValid),
			HTTPStatusCode: intPtr(probe.StatusCode),
			TimedOut:       boolPtr(false),
			Errored:        boolPtr(false),
		}
	case probe.ReachedServer && (probe.StatusCode == http.StatusUnauthorized || probe.StatusCode == http.StatusForbidden):
		outcome = "credential_rejected"
		u = Update{
			Reachable:      boolPtr(true),
			AuthValid:      validityPtr(AuthInvalid),
			HTTPStatusCode: intPtr(probe.StatusCode),
			TimedOut:       boolPtr(false),
			Errored:        boolPtr(false),
		}
	case probe.ReachedServer:
		outcome = "unexpected_status"
		u = Update{
			Reachable:      boolPtr(true),
			AuthValid:      validityPtr(AuthUnknown),
			HTTPStatusCode: intPtr(probe.StatusCode),
			TimedOut:       boolPtr(false),
			Errored:        boolPtr(true),
		}
	case probe.TimedOut:
		outcome = "timeout"
		u = Update{
			Reachable: boolPtr(false),
			TimedOut:  boolPtr(true),
			Errored:   boolPtr(false),
		}
	default:
		outcome = "transport_error"
		m.log.Warn("health check transport failure", "err", probe.Err)
		u = Update{
			Reachable: boolPtr(false),
			TimedOut:  boolPtr(false),
			Errored:   boolPtr(true),
		}
	}

	m.SetStatus(u)
	recordHealthCheck(outcome)
	return m.GetStatus().Reachable
}

// ForceServerCheck runs a health check and then broadcasts the result
// unconditionally, twice, whether or not anything changed: once immediately
// and once after a short delay, so UI contexts that attach between the two
// still see it. The result is also persisted as a durable snapshot for
// contexts that start after both broadcasts have fired.
//
// A forced check that arrives while another is still in flight is dropped
// and the last known reachability answer is returned.
func (m *Monitor) ForceServerCheck(ctx context.Context) bool {
	if !m.checkInFlight.CompareAndSwap(false, true) {
		m.log.Debug("health check already in flight, dropping")
		return m.GetStatus().Reachable
	}
	defer m.checkInFlight.Store(false)

	online := m.CheckServerOnline(ctx)

	m.broadcast(m.GetStatus())
	m.schedule(m.rebroadcastDelay, func() {
		m.broadcast(m.GetStatus())
	})
	m.persistSnapshot()

	return online
}

// SetStatus merges u into the current status, stamps the observation time and
// broadcasts, but only when a significant field actually changed. Periodic
// polls mostly reconfirm the existing state; broadcasting each one would
// flood the UI listeners.
//
// Significant fields: Reachable, a resolved AuthValid change (both sides
// determined, transitions through unknown excluded), HTTPStatusCode, Errored,
// TimedOut.
func (m *Monitor) SetStatus(u Update) {
	m.mu.Lock()
	old := m.current.Clone()
	next := m.current

	if u.Reachable != nil {
		next.Reachable = *u.Reachable
	}
	if u.AuthValid != nil {
		next.AuthValid = *u.AuthValid
	}
	if u.HTTPStatusCode != nil {
		code := *u.HTTPStatusCode
		next.HTTPStatusCode = &code
	}
	if u.TimedOut != nil {
		next.TimedOut = *u.TimedOut
	}
	if u.Errored != nil {
		next.Errored = *u.Errored
	}
	next.LastCheckedAt = time.Now()

	// An unreachable server can say nothing about the credential.
	if !next.Reachable {
		next.AuthValid = AuthUnknown
		next.HTTPStatusCode = nil
	}
	if next.AuthValid == "" {
		next.AuthValid = AuthUnknown
	}

	m.current = next
	changed := significantChange(old, next)
	snapshot := next.Clone()
	m.mu.Unlock()

	if changed {
		m.broadcast(snapshot)
	}
}

func significantChange(old, next ServerStatus) bool {
	if old.Reachable != next.Reachable {
		return true
	}
	if old.AuthValid != next.AuthValid &&
		old.AuthValid != AuthUnknown && next.AuthValid != AuthUnknown {
		return true
	}
	if !intPtrEqual(old.HTTPStatusCode, next.HTTPStatusCode) {
		return true
	}
	if old.Errored != next.Errored || old.TimedOut != next.TimedOut {
		return true
	}
	return false
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Monitor) broadcast(s ServerStatus) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		m.log.Error("status broadcast encode failed", "err", err)
		return
	}
	if err := m.bus.Publish(bus.TopicServerStatusChanged, data); err != nil {
		m.log.Warn("status broadcast failed", "err", err)
	}
	recordBroadcast(bus.TopicServerStatusChanged)
}

func (m *Monitor) persistSnapshot() {
	if m.snapshot == nil {
		return
	}
	data, err := json.Marshal(m.GetStatus())
	if err != nil {
		m.log.Error("status snapshot encode failed", "err", err)
		return
	}
	if err := m.snapshot.Set(store.KeyServerStatusSnapshot, string(data)); err != nil {
		m.log.Warn("status snapshot write failed", "err", err)
	}
}

// LoadSnapshot reads the durable snapshot written by a previous forced check.
// Late-starting contexts use it to seed their view before the next broadcast.
func (m *Monitor) LoadSnapshot() (ServerStatus, bool) {
	if m.snapshot == nil {
		return ServerStatus{}, false
	}
	raw, ok, err := m.snapshot.Get(store.KeyServerStatusSnapshot)
	if err != nil || !ok {
		if err != nil {
			m.log.Warn("status snapshot read failed", "err", err)
		}
		return ServerStatus{}, false
	}
	var s ServerStatus
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		m.log.Warn("status snapshot decode failed", "err", err)
		return ServerStatus{}, false
	}
	return s, true
}
