// Package vapid validates the sender authentication headers carried by
// version-2 endpoint requests: the draft-01 and draft-02 VAPID schemes.
//
// Validation here is strictly structural: header shape, base64url key
// material, and agreement between the inline key and the crypto-key
// header. Cryptographic verification of the signed token is a separate,
// optional step (see jwt.go) invoked by the embedding handler.
package vapid

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadlyFormed = errors.New("badly formed authorization header")
	ErrInvalidKey  = errors.New("invalid vapid public key")
	ErrMissingKey  = errors.New("missing vapid public key")
	ErrKeyMismatch = errors.New("vapid public key mismatch")
)

// Accepted authorization scheme literals.
const (
	SchemeVapid   = "vapid"   // draft-02: vapid t=<jwt>,k=<key>
	SchemeWebpush = "webpush" // draft-01: webpush <jwt>, key via crypto-key header
)

// An uncompressed P-256 point: 0x04 || X || Y.
const publicKeyLen = 65

// Credential is a validated sender credential. PublicKey is the agreed
// key material, decoded.
type Credential struct {
	Scheme    string
	Token     string
	PublicKey []byte
}

// Validate parses the authorization header and, where the scheme carries
// no inline key, the companion crypto-key header. Returns the agreed
// credential or one of the AuthError sentinels; it never panics on
// malformed input.
func Validate(authorization, cryptoKey string) (Credential, error) {
	scheme, rest, err := splitScheme(authorization)
	if err != nil {
		return Credential{}, err
	}

	var cred Credential
	switch scheme {
	case SchemeVapid:
		cred, err = parseDraft02(rest)
	case SchemeWebpush:
		cred, err = parseDraft01(rest)
	}
	if err != nil {
		return Credential{}, err
	}

	headerKey, headerErr := publicKeyFromCryptoKey(cryptoKey)
	switch {
	case cred.PublicKey == nil:
		// No inline key: the crypto-key header is authoritative and
		// required.
		if headerErr != nil {
			return Credential{}, headerErr
		}
		cred.PublicKey = headerKey
	case headerErr == nil:
		if !bytes.Equal(cred.PublicKey, headerKey) {
			return Credential{}, ErrKeyMismatch
		}
	case errors.Is(headerErr, ErrInvalidKey):
		// An unusable header key alongside a valid inline key is still a
		// rejection: the sender presented two keys that cannot agree.
		return Credential{}, headerErr
	}
	return cred, nil
}

func splitScheme(authorization string) (scheme, rest string, err error) {
	header := strings.TrimSpace(authorization)
	if header == "" {
		return "", "", ErrBadlyFormed
	}
	fields := strings.SplitN(header, " ", 2)
	if len(fields) != 2 {
		return "", "", ErrBadlyFormed
	}
	scheme = strings.ToLower(strings.TrimSpace(fields[0]))
	rest = strings.TrimSpace(fields[1])
	if rest == "" {
		return "", "", ErrBadlyFormed
	}
	switch scheme {
	case SchemeVapid, SchemeWebpush:
		return scheme, rest, nil
	default:
		return "", "", fmt.Errorf("%w: scheme %q", ErrBadlyFormed, scheme)
	}
}

// parseDraft02 handles `t=<token>,k=<key>` parameter lists. The t
// parameter is mandatory; k is optional and, when present, must decode as
// a valid curve point.
func parseDraft02(params string) (Credential, error) {
	cred := Credential{Scheme: SchemeVapid}
	for _, part := range strings.Split(params, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			return Credential{}, ErrBadlyFormed
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "t":
			cred.Token = strings.TrimSpace(value)
		case "k":
			key, err := decodePublicKey(strings.TrimSpace(value))
			if err != nil {
				return Credential{}, err
			}
			cred.PublicKey = key
		}
	}
	if cred.Token == "" {
		return Credential{}, fmt.Errorf("%w: missing t parameter", ErrBadlyFormed)
	}
	return cred, nil
}

// parseDraft01 treats the remainder as a bare signed token. The public
// key always travels in the crypto-key header for this scheme.
func parseDraft01(rest string) (Credential, error) {
	if strings.ContainsAny(rest, " \t") {
		return Credential{}, ErrBadlyFormed
	}
	return Credential{Scheme: SchemeWebpush, Token: rest}, nil
}

// publicKeyFromCryptoKey extracts the p256ecdsa parameter from a
// crypto-key header. The header is a comma-separated list of entries,
// each a semicolon-separated parameter list.
func publicKeyFromCryptoKey(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingKey
	}
	for _, entry := range strings.Split(header, ",") {
		for _, param := range strings.Split(entry, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(param), "=")
			if !found {
				continue
			}
			if strings.ToLower(strings.TrimSpace(name)) != "p256ecdsa" {
				continue
			}
			raw := strings.TrimSpace(value)
			if raw == "" {
				return nil, ErrMissingKey
			}
			key, err := base64.URLEncoding.DecodeString(repad(raw))
			if err != nil {
				// A header key that does not even decode is treated as
				// absent; a decodable key of the wrong size is invalid.
				return nil, fmt.Errorf("%w: %v", ErrMissingKey, err)
			}
			if len(key) != publicKeyLen {
				return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidKey, len(key))
			}
			return key, nil
		}
	}
	return nil, ErrMissingKey
}

// decodePublicKey decodes base64url key material, tolerating missing
// padding, and enforces the uncompressed P-256 point size.
func decodePublicKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrInvalidKey
	}
	key, err := base64.URLEncoding.DecodeString(repad(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != publicKeyLen {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidKey, len(key))
	}
	return key, nil
}

func repad(s string) string {
	if n := len(s) % 4; n != 0 {
		return s + strings.Repeat("=", 4-n)
	}
	return s
}
