// Package gateway executes remote summarization tasks, gated on a configured
// credential, and feeds what task responses reveal about the server back into
// the status monitor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/status"
)

// Task types accepted by the server.
const (
	TaskSummarizeEmail = "summarize_email"
	TaskSummarizeChat  = "summarize_chat"
)

// ErrCredentialNotConfigured means no credential is available locally. The
// call fails fast without touching the network; the session itself is fine.
var ErrCredentialNotConfigured = errors.New("credential not configured")

// CredentialRejectedError means the server answered 401/403 to a task
// request. It marks the credential invalid but does not evict the session;
// eviction requires confirmation via the auth check.
type CredentialRejectedError struct {
	StatusCode int
}

func (e *CredentialRejectedError) Error() string {
	return fmt.Sprintf("credential rejected by server (HTTP %d)", e.StatusCode)
}

// Gateway submits tasks on behalf of the UI contexts.
type Gateway struct {
	api     *api.Client
	session *auth.SessionManager
	monitor *status.Monitor
	log     *slog.Logger
}

// New creates a Gateway. monitor may be nil when no status feedback is
// wanted.
func New(client *api.Client, session *auth.SessionManager, monitor *status.Monitor, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{api: client, session: session, monitor: monitor, log: log}
}

// Execute submits one task. The credential must be configured, though not
// necessarily validated; the server is the judge. HTTP 401/403 comes back as
// *CredentialRejectedError after updating the status monitor; a transport
// failure marks the server unreachable before the error is returned.
func (g *Gateway) Execute(ctx context.Context, taskType string, data any) (*api.TaskResponse, error) {
	headers := g.session.AuthHeaders()
	if _, ok := headers["Authorization"]; !ok {
		return nil, ErrCredentialNotConfigured
	}

	resp, err := g.api.SubmitTask(ctx, headers, taskType, data)
	if err == nil {
		return resp, nil
	}

	if api.IsCredentialRejected(err) {
		var se *api.ServerError
		errors.As(err, &se)
		g.log.Warn("task request rejected, marking credential invalid", "code", se.StatusCode)
		if g.monitor != nil {
			reachable := true
			invalid := status.AuthInvalid
			code := se.StatusCode
			g.monitor.SetStatus(status.Update{
				Reachable:      &reachable,
				AuthValid:      &invalid,
				HTTPStatusCode: &code,
			})
		}
		return nil, &CredentialRejectedError{StatusCode: se.StatusCode}
	}

	if api.IsUnreachable(err) {
		g.log.Warn("task request failed at transport level, marking server unreachable", "err", err)
		if g.monitor != nil {
			unreachable := false
			timedOut := api.IsTimeout(err)
			errored := !timedOut
			g.monitor.SetStatus(status.Update{
				Reachable: &unreachable,
				TimedOut:  &timedOut,
				Errored:   &errored,
			})
		}
		return nil, err
	}

	return nil, err
}
