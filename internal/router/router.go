// Package router holds the delivery backends. Every backend exposes the
// same dispatch capability and reports its result as a structured
// Outcome, never as an error: the coordinator's reconciliation step needs
// a status code and (possibly refreshed) router data even on failure.
package router

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crensch/pushgate/internal/store"
)

// Notification is the payload handed to a router, already validated at
// the boundary. Data is opaque; the content-coding headers travel with it
// untouched.
type Notification struct {
	MessageID string
	ChannelID uuid.UUID
	TTL       int64
	Topic     string
	Headers   map[string]string
	Data      []byte
	Timestamp time.Time
}

// Outcome is a dispatch result. StatusCode is surfaced to the caller
// unchanged. RouterData drives reconciliation: on a non-success status, a
// non-empty map means "re-register me with this refreshed state", an
// empty non-nil map means "this subscription is permanently stale, drop
// it", and nil means the router offers no opinion (state kept as is).
type Outcome struct {
	StatusCode int
	RouterData map[string]any
}

// Delivered reports whether the outcome is a success status.
func (o Outcome) Delivered() bool {
	return o.StatusCode >= 200 && o.StatusCode < 300
}

// Router is a delivery backend. Implementations are stateless across
// requests apart from shared outbound-connection resources, and must be
// safe for concurrent use.
type Router interface {
	// Type is the router_type string this backend registers under.
	Type() string

	// Dispatch attempts delivery to one subscriber. Network failures and
	// backend rejections are encoded in the Outcome.
	Dispatch(ctx context.Context, sub store.Record, n Notification) Outcome
}
