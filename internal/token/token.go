// Package token decodes the opaque, Fernet-encrypted subscription tokens
// that arrive on the endpoint URL. Decoding is pure: it never touches
// storage, and it never reveals whether a rejected token failed decryption
// or failed the structural checks.
package token

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
)

var (
	// ErrInvalid covers any integrity or authenticity failure of the
	// ciphertext. Surfaced as "not found" at the boundary.
	ErrInvalid = errors.New("invalid subscription token")
	// ErrMalformed covers structurally wrong plaintext (bad length,
	// unrecognized version marker). Also "not found" at the boundary.
	ErrMalformed = errors.New("malformed subscription token")
)

// Version markers accepted on the endpoint path.
const (
	VersionV1 = 1
	VersionV2 = 2
)

// v1 plaintext is exactly uaid || chid. v2 appends the sender public key.
const idPairLen = 32

// Subscription is the decoded form of an endpoint token. Immutable once
// decoded.
type Subscription struct {
	UAID      uuid.UUID
	ChannelID uuid.UUID

	// PublicKey is the sender key embedded in v2 tokens; nil for v1.
	PublicKey []byte
}

// Codec decrypts and validates subscription tokens. Multiple keys are
// accepted so endpoint keys can rotate without invalidating issued tokens;
// the first key signs new tokens.
type Codec struct {
	keys []*fernet.Key
}

// NewCodec builds a codec from base64-encoded Fernet keys.
func NewCodec(encodedKeys []string) (*Codec, error) {
	if len(encodedKeys) == 0 {
		return nil, errors.New("token: at least one key is required")
	}
	keys, err := fernet.DecodeKeys(encodedKeys...)
	if err != nil {
		return nil, fmt.Errorf("token: decode keys: %w", err)
	}
	return &Codec{keys: keys}, nil
}

// Decode decrypts ciphertext and validates the plaintext layout for the
// declared endpoint version.
func (c *Codec) Decode(ciphertext string, version int) (Subscription, error) {
	switch version {
	case VersionV1, VersionV2:
	default:
		return Subscription{}, fmt.Errorf("%w: unknown version %d", ErrMalformed, version)
	}

	plain := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, c.keys)
	if plain == nil {
		return Subscription{}, ErrInvalid
	}

	if version == VersionV1 && len(plain) != idPairLen {
		return Subscription{}, fmt.Errorf("%w: v1 token length %d", ErrMalformed, len(plain))
	}
	if version == VersionV2 && len(plain) < idPairLen {
		return Subscription{}, fmt.Errorf("%w: v2 token length %d", ErrMalformed, len(plain))
	}

	uaid, err := uuid.FromBytes(plain[:16])
	if err != nil {
		return Subscription{}, ErrMalformed
	}
	chid, err := uuid.FromBytes(plain[16:32])
	if err != nil {
		return Subscription{}, ErrMalformed
	}

	sub := Subscription{UAID: uaid, ChannelID: chid}
	if version == VersionV2 && len(plain) > idPairLen {
		sub.PublicKey = append([]byte(nil), plain[idPairLen:]...)
	}
	return sub, nil
}

// Encode produces an endpoint token for a subscription. The inverse of
// Decode; used when minting subscription endpoints.
func (c *Codec) Encode(sub Subscription, version int) (string, error) {
	var plain []byte
	switch version {
	case VersionV1:
		plain = make([]byte, 0, idPairLen)
	case VersionV2:
		plain = make([]byte, 0, idPairLen+len(sub.PublicKey))
	default:
		return "", fmt.Errorf("token: unknown version %d", version)
	}
	plain = append(plain, sub.UAID[:]...)
	plain = append(plain, sub.ChannelID[:]...)
	if version == VersionV2 {
		plain = append(plain, sub.PublicKey...)
	}

	tok, err := fernet.EncryptAndSign(plain, c.keys[0])
	if err != nil {
		return "", fmt.Errorf("token: encrypt: %w", err)
	}
	return string(tok), nil
}
