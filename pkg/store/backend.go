// Package store provides credential persistence across two storage backends:
// a fast session-scoped backend and a durable backend that survives restarts.
// Backend failures never propagate past this package as panics or errors to
// the authentication path; they downgrade to absent values plus a logged
// diagnostic.
package store

// Backend is a minimal key-value store for opaque string values.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set writes the value for key, replacing any previous value.
	Set(key, value string) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
	// Name identifies the backend in diagnostics.
	Name() string
}

// Storage keys shared between the CLI and the agent.
const (
	// KeyCredential is the durable-backend key holding the bearer token.
	KeyCredential = "credential"
	// KeyCredentialFastBackup is the fast-backend key holding the token copy.
	KeyCredentialFastBackup = "credentialFastPathBackup"
	// KeyServerStatusSnapshot is the durable key holding the last known
	// server status, for contexts that start after broadcasts have fired.
	KeyServerStatusSnapshot = "serverStatusSnapshot"
)
