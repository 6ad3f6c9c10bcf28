// Package dispatch drives a single push delivery end to end: subscription
// token decode, credential validation, subscriber lookup, router dispatch
// and the reconciliation of whatever routing state the router handed back.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crensch/pushgate/internal/router"
	"github.com/crensch/pushgate/internal/store"
	"github.com/crensch/pushgate/internal/token"
	"github.com/crensch/pushgate/internal/vapid"
)

var (
	// ErrKeyAgreement is returned when a v2 token's embedded sender key
	// does not match the key the sender authenticated with. Deliberately
	// classified as a lookup failure, not an auth failure.
	ErrKeyAgreement = errors.New("sender key does not match subscription")

	// ErrStaleRecord is returned for subscriber records missing their
	// message epoch; the record is dropped on sight.
	ErrStaleRecord = errors.New("stale subscriber record")
)

// Request is one inbound delivery attempt, already stripped of transport
// concerns.
type Request struct {
	Version       int
	Token         string
	Authorization string
	CryptoKey     string

	TTL     int64
	Topic   string
	Headers map[string]string
	Data    []byte
}

// Result reports a dispatch that reached a router. Failures earlier in
// the pipeline come back as errors and are classified by StatusFor.
type Result struct {
	StatusCode int
	MessageID  string
	RouterType string
}

// Coordinator wires the delivery pipeline together. All fields are set
// once at construction; Dispatch is safe for concurrent use.
type Coordinator struct {
	Tokens   *token.Codec
	Store    store.Store
	Registry *router.Registry
	Logger   *slog.Logger

	// RequireSignature enables strict verification of the VAPID JWT
	// against the agreed public key.
	RequireSignature bool

	// RequireSignatureFor, when set, supplies the signature policy per
	// dispatch and takes precedence over RequireSignature. Lets a config
	// reload flip the policy without restarting.
	RequireSignatureFor func() bool

	// ObserveResult, when set, is invoked once per dispatch that reached
	// a router, with the stored router type and the outcome status.
	ObserveResult func(routerType string, status int)

	// NowFn overrides the clock in tests.
	NowFn func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.NowFn != nil {
		return c.NowFn()
	}
	return time.Now()
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Dispatch runs the delivery state machine: decode, authorize, look up,
// route, reconcile. The returned Result carries the router's outcome
// status unchanged; any error is one of the package sentinels, suitable
// for StatusFor.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (Result, error) {
	sub, err := c.Tokens.Decode(req.Token, req.Version)
	if err != nil {
		return Result{}, fmt.Errorf("token decode: %w", err)
	}

	if req.Version >= token.VersionV2 {
		if err := c.authorize(req, sub); err != nil {
			return Result{}, err
		}
	}

	rec, err := c.Store.Get(sub.UAID.String())
	if err != nil {
		return Result{}, fmt.Errorf("subscriber lookup: %w", err)
	}

	// A webpush record without a message epoch predates the current
	// storage layout and can no longer receive messages.
	if rec.RouterType == router.RouterTypeWebPush && rec.CurrentMonth == "" {
		if derr := c.Store.Drop(rec.UAID); derr != nil {
			c.logger().Warn("stale_drop_failed", "uaid", rec.UAID, "error", derr)
		}
		return Result{}, ErrStaleRecord
	}

	rt, err := c.Registry.Resolve(rec.RouterType)
	if err != nil {
		return Result{}, fmt.Errorf("router resolve: %w", err)
	}

	n := router.Notification{
		MessageID: uuid.NewString(),
		ChannelID: sub.ChannelID,
		TTL:       req.TTL,
		Topic:     req.Topic,
		Headers:   req.Headers,
		Data:      req.Data,
		Timestamp: c.now(),
	}

	out := rt.Dispatch(ctx, rec, n)
	c.reconcile(rec, out)

	if c.ObserveResult != nil {
		c.ObserveResult(rec.RouterType, out.StatusCode)
	}
	c.logger().Debug("dispatch_complete",
		"uaid", rec.UAID,
		"router_type", rec.RouterType,
		"status", out.StatusCode,
		"message_id", n.MessageID,
	)

	return Result{
		StatusCode: out.StatusCode,
		MessageID:  n.MessageID,
		RouterType: rec.RouterType,
	}, nil
}

// authorize validates the sender's credentials for v2 subscriptions and
// checks them against the key embedded in the token.
func (c *Coordinator) authorize(req Request, sub token.Subscription) error {
	cred, err := vapid.Validate(req.Authorization, req.CryptoKey)
	if err != nil {
		return fmt.Errorf("credential validation: %w", err)
	}
	if len(sub.PublicKey) > 0 && !bytes.Equal(sub.PublicKey, cred.PublicKey) {
		return ErrKeyAgreement
	}
	strict := c.RequireSignature
	if c.RequireSignatureFor != nil {
		strict = c.RequireSignatureFor()
	}
	if strict {
		if err := vapid.VerifySignature(cred, c.now()); err != nil {
			return fmt.Errorf("signature verification: %w", err)
		}
	}
	return nil
}

// reconcile applies the routing-state update a failed dispatch requested.
// An empty (non-nil) RouterData map asks for the subscriber to be
// dropped; a populated map replaces the stored routing state wholesale.
// Mutations run without the request context so they complete even when
// the caller has already gone away.
func (c *Coordinator) reconcile(rec store.Record, out router.Outcome) {
	if out.StatusCode < 300 || out.RouterData == nil {
		return
	}
	if len(out.RouterData) == 0 {
		if err := c.Store.Drop(rec.UAID); err != nil {
			c.logger().Warn("reconcile_drop_failed", "uaid", rec.UAID, "error", err)
			return
		}
		c.logger().Info("reconcile_drop", "uaid", rec.UAID, "router_type", rec.RouterType)
		return
	}
	next := rec.Clone()
	next.RouterData = out.RouterData
	if err := c.Store.Register(next); err != nil {
		c.logger().Warn("reconcile_register_failed", "uaid", rec.UAID, "error", err)
		return
	}
	c.logger().Info("reconcile_register", "uaid", rec.UAID, "router_type", rec.RouterType)
}
