// Package bus provides the notification bus that carries auth and server
// status changes between the state owners and any listening UI context.
// Publishing is fire-and-forget: delivery to contexts that are not currently
// listening is not guaranteed, and publishers never block on slow consumers.
package bus

import (
	"errors"
)

// Topics published by the state owners.
const (
	// TopicAuthStatusChanged carries an auth.State JSON payload.
	TopicAuthStatusChanged = "authStatusChanged"
	// TopicServerStatusChanged carries a status.ServerStatus JSON payload.
	TopicServerStatusChanged = "serverStatusChanged"
	// TopicAll subscribes to every topic; used by the websocket fan-out.
	TopicAll = "*"
)

// ErrClosed is returned when publishing on or subscribing to a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is one published notification.
type Message struct {
	Topic string
	Data  []byte
}

// Handler processes one incoming message. Handlers run on the subscription's
// delivery goroutine; a slow handler drops that subscriber's backlog, never
// the publisher.
type Handler func(msg Message)

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops delivery and releases the subscription.
	Unsubscribe()
	// Topic returns the topic pattern this subscription was created with.
	Topic() string
}

// Bus is the cross-context notification primitive. Implementations must be
// safe for concurrent use and must tolerate having zero subscribers.
type Bus interface {
	// Publish sends data to all current subscribers of topic and returns
	// immediately. Absent subscribers are not an error.
	Publish(topic string, data []byte) error
	// Subscribe registers a handler for topic. TopicAll matches everything.
	Subscribe(topic string, handler Handler) (Subscription, error)
	// Close shuts the bus down and cancels all subscriptions.
	Close() error
}
