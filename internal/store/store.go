// Package store is the gateway to subscriber records: which delivery
// backend owns a uaid and the backend-specific state needed to reach it.
//
// The contract is a narrow key-value one. Register is a wholesale upsert:
// router data is replaced, never merged, so callers send the complete
// replacement map. Drop is idempotent. No retry or backoff lives here;
// transient backend trouble surfaces as ErrUnavailable and the caller
// decides.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("subscriber not found")
	ErrUnavailable   = errors.New("subscriber store unavailable")
	ErrInvalidRecord = errors.New("invalid subscriber record")
)

// Record is a subscriber's routing state. RouterType names the delivery
// backend and is never changed by reconciliation; RouterData is opaque,
// router-owned state (node bindings, device tokens, credentials).
// CurrentMonth is the message epoch the subscriber reads from.
type Record struct {
	UAID         string
	RouterType   string
	RouterData   map[string]any
	CurrentMonth string
}

// Clone returns a copy with its own RouterData map, safe to mutate.
func (r Record) Clone() Record {
	out := r
	if r.RouterData != nil {
		out.RouterData = make(map[string]any, len(r.RouterData))
		for k, v := range r.RouterData {
			out.RouterData[k] = v
		}
	}
	return out
}

type Store interface {
	// Get returns the record for a uaid, or ErrNotFound.
	Get(uaid string) (Record, error)

	// Register upserts a record. RouterType is mandatory; RouterData is
	// replaced wholesale.
	Register(rec Record) error

	// Drop deletes a record. Deleting an absent uaid is not an error.
	Drop(uaid string) error

	Close() error
}

func validate(rec Record) error {
	if rec.UAID == "" {
		return fmt.Errorf("%w: empty uaid", ErrInvalidRecord)
	}
	if rec.RouterType == "" {
		return fmt.Errorf("%w: empty router_type", ErrInvalidRecord)
	}
	return nil
}
