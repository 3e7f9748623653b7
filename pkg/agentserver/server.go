// Package agentserver is the long-lived background context: it hosts the
// pull API that late-starting UI contexts use to recover state they missed,
// the websocket stream carrying bus broadcasts, and the request/response
// endpoints through which popup-style contexts drive login, logout and task
// execution.
package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/gateway"
	"github.com/skimmr/cli/pkg/status"
)

// DefaultAddr is the local listen address for the agent API.
const DefaultAddr = "127.0.0.1:7391"

// Server wires the state owners to the local HTTP surface.
type Server struct {
	addr    string
	log     *slog.Logger
	session *auth.SessionManager
	monitor *status.Monitor
	gateway *gateway.Gateway
	bus     bus.Bus
	hub     *hub
}

// New creates an agent server. addr defaults to DefaultAddr when empty.
func New(addr string, session *auth.SessionManager, monitor *status.Monitor, gw *gateway.Gateway, b bus.Bus, log *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:    addr,
		log:     log,
		session: session,
		monitor: monitor,
		gateway: gw,
		bus:     b,
		hub:     newHub(log),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/auth/status", s.handleAuthStatus)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/auth/reset", s.handleReset)
		r.Get("/server/status", s.handleServerStatus)
		r.Post("/server/check", s.handleServerCheck)
		r.Post("/tasks", s.handleTask)
		r.Get("/events", s.handleEvents)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until ctx is cancelled, forwarding every bus broadcast to the
// connected websocket clients.
func (s *Server) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(bus.TopicAll, func(msg bus.Message) {
		s.hub.broadcast(msg.Topic, msg.Data)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("agent API listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.session.Login(r.Context(), req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout(r.Context())
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.ResetAuthentication()
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.GetStatus()
	if st.LastCheckedAt.IsZero() {
		if snap, ok := s.monitor.LoadSnapshot(); ok {
			st = snap
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleServerCheck(w http.ResponseWriter, r *http.Request) {
	s.monitor.ForceServerCheck(r.Context())
	writeJSON(w, http.StatusOK, s.monitor.GetStatus())
}

type taskRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.gateway.Execute(r.Context(), req.Type, req.Data)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrCredentialNotConfigured):
			writeError(w, http.StatusPreconditionFailed, err.Error())
		default:
			var rejected *gateway.CredentialRejectedError
			if errors.As(err, &rejected) {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
