package vapid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrBadSignature = errors.New("vapid signature verification failed")

// Longest acceptable expiry horizon for a signed token. Senders minting
// tokens further out than this are rejected.
const maxTokenAge = 24 * time.Hour

// VerifySignature checks the credential's signed token against the agreed
// public key: ES256 only, a mandatory exp claim, and an expiry no further
// out than maxTokenAge. Callers opt in to this step; Validate never
// performs it.
func VerifySignature(cred Credential, now time.Time) error {
	pub, err := parsePoint(cred.PublicKey)
	if err != nil {
		return err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(cred.Token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing exp claim", ErrBadSignature)
	}
	if exp.After(now.Add(maxTokenAge)) {
		return fmt.Errorf("%w: exp too far in the future", ErrBadSignature)
	}
	return nil
}

// parsePoint rebuilds an ecdsa.PublicKey from an uncompressed P-256
// point. Validate has already pinned the length.
func parsePoint(key []byte) (*ecdsa.PublicKey, error) {
	if len(key) != publicKeyLen || key[0] != 0x04 {
		return nil, fmt.Errorf("%w: not an uncompressed point", ErrInvalidKey)
	}
	x := new(big.Int).SetBytes(key[1:33])
	y := new(big.Int).SetBytes(key[33:])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidKey)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
