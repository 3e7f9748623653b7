package agentserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skimmr/cli/pkg/bus"
)

const (
	wsSendQueueSize = 64
	wsWriteTimeout  = 5 * time.Second
)

var metricWSClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "skimmr",
	Name:      "ws_clients",
	Help:      "Connected websocket UI contexts.",
})

// event is the wire envelope for one pushed notification.
type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wsClient is one connected UI context.
//
// Send is never closed by the hub so concurrent broadcasters cannot panic;
// done signals the writer goroutine to stop, and close is idempotent.
type wsClient struct {
	id        string
	send      chan event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient() *wsClient {
	return &wsClient{
		id:   ulid.Make().String(),
		send: make(chan event, wsSendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

type hub struct {
	log     *slog.Logger
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, clients: make(map[string]*wsClient)}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metricWSClients.Inc()
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		metricWSClients.Dec()
	}
	h.mu.Unlock()
	c.close()
}

// broadcast fans a bus message out to every client. Sends are non-blocking:
// a client whose queue is full loses the message and recovers via the pull
// endpoints, never stalling the other clients.
func (h *hub) broadcast(topic string, data []byte) {
	ev := event{Type: topic, Payload: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Debug("ws client queue full, dropping event", "client", c.id, "topic", topic)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
		metricWSClients.Dec()
	}
	h.mu.Unlock()
}

// handleEvents upgrades to a websocket and streams bus events. The current
// auth and server states are pushed first, so a freshly attached context is
// current even if every earlier broadcast was missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("ws accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	client := newWSClient()
	s.hub.add(client)
	defer s.hub.remove(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Seed the new context with full current state.
	if data, err := json.Marshal(s.session.State()); err == nil {
		client.send <- event{Type: bus.TopicAuthStatusChanged, Payload: data}
	}
	if data, err := json.Marshal(s.monitor.GetStatus()); err == nil {
		client.send <- event{Type: bus.TopicServerStatusChanged, Payload: data}
	}

	// Reader: we expect no inbound traffic, but reading surfaces the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case ev := <-client.send:
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.log.Debug("ws write failed", "client", client.id, "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
