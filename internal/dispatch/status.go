package dispatch

import (
	"errors"
	"net/http"

	"github.com/crensch/pushgate/internal/router"
	"github.com/crensch/pushgate/internal/store"
	"github.com/crensch/pushgate/internal/token"
	"github.com/crensch/pushgate/internal/vapid"
)

// StatusFor classifies a pipeline error into a boundary status. The
// mapping conflates sub-causes within each family: a caller cannot tell
// a bad token from a missing subscriber, nor a malformed credential from
// a key mismatch.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, token.ErrInvalid),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, ErrKeyAgreement),
		errors.Is(err, ErrStaleRecord):
		return http.StatusNotFound
	case errors.Is(err, vapid.ErrBadlyFormed),
		errors.Is(err, vapid.ErrInvalidKey),
		errors.Is(err, vapid.ErrMissingKey),
		errors.Is(err, vapid.ErrKeyMismatch),
		errors.Is(err, vapid.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, router.ErrUnknownRouterType),
		errors.Is(err, store.ErrUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
