// Package status owns the server-reachability and credential-validity state.
// A single health check yields both facts; they are orthogonal and are both
// recorded, merged into one tri-state status object.
package status

import (
	"encoding/json"
	"time"
)

// Validity is the tri-state answer to "does the server accept our credential".
type Validity string

const (
	// AuthValid means the server confirmed the credential.
	AuthValid Validity = "valid"
	// AuthInvalid means the server rejected the credential (401/403).
	AuthInvalid Validity = "invalid"
	// AuthUnknown means the server was unreachable or answered with an
	// unexpected code, so validity could not be determined.
	AuthUnknown Validity = "unknown"
)

// ServerStatus is the latest health-check observation.
//
// Invariant: Reachable == false implies AuthValid == AuthUnknown and
// HTTPStatusCode == nil. The monitor enforces this on every merge.
type ServerStatus struct {
	Reachable      bool      `json:"reachable"`
	AuthValid      Validity  `json:"authValid"`
	HTTPStatusCode *int      `json:"httpStatusCode"`
	LastCheckedAt  time.Time `json:"lastCheckedAt"`
	TimedOut       bool      `json:"timedOut"`
	Errored        bool      `json:"errored"`
}

// Clone returns a defensive copy, including the status-code pointer.
func (s ServerStatus) Clone() ServerStatus {
	out := s
	if s.HTTPStatusCode != nil {
		code := *s.HTTPStatusCode
		out.HTTPStatusCode = &code
	}
	return out
}

// MarshalJSON is the wire and snapshot form; it is the plain struct encoding.
func (s ServerStatus) MarshalJSON() ([]byte, error) {
	type alias ServerStatus
	return json.Marshal(alias(s))
}

// Update is a partial status change to merge into the current status.
// Nil fields are left unchanged.
type Update struct {
	Reachable      *bool
	AuthValid      *Validity
	HTTPStatusCode *int
	TimedOut       *bool
	Errored        *bool
}

func boolPtr(b bool) *bool             { return &b }
func intPtr(i int) *int                { return &i }
func validityPtr(v Validity) *Validity { return &v }
