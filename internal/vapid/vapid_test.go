package vapid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func b64Key(t *testing.T, size int) (string, []byte) {
	t.Helper()
	raw := make([]byte, size)
	raw[0] = 0x04
	for i := 1; i < size; i++ {
		raw[i] = byte(i)
	}
	return base64.URLEncoding.EncodeToString(raw), raw
}

func TestValidateDraft02InlineKey(t *testing.T) {
	enc, raw := b64Key(t, 65)
	cred, err := Validate("vapid t=dummy.key.value,k="+enc, "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cred.Scheme != SchemeVapid || cred.Token != "dummy.key.value" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if string(cred.PublicKey) != string(raw) {
		t.Fatal("inline key not decoded")
	}
}

func TestValidateSchemeCaseInsensitive(t *testing.T) {
	enc, _ := b64Key(t, 65)
	if _, err := Validate("Vapid t=tok,k="+enc, ""); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateBadlyFormed(t *testing.T) {
	cases := []string{
		"",
		"vapid",
		"vapid foo=bar",
		"vapid t=",
		"bearer t=tok",
		"basic dXNlcjpwYXNz",
	}
	for _, header := range cases {
		if _, err := Validate(header, ""); !errors.Is(err, ErrBadlyFormed) {
			t.Errorf("Validate(%q) = %v, want ErrBadlyFormed", header, err)
		}
	}
}

func TestValidateEmptyInlineKey(t *testing.T) {
	if _, err := Validate("vapid t=dummy.key.value,k=", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("empty k = %v, want ErrInvalidKey", err)
	}
}

func TestValidateNonBase64InlineKey(t *testing.T) {
	if _, err := Validate("vapid t=dummy.key.value,k=!aaa", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("bad b64 k = %v, want ErrInvalidKey", err)
	}
}

func TestValidateHeaderKeyOnly(t *testing.T) {
	enc, raw := b64Key(t, 65)
	cred, err := Validate("webpush dummy.key", "p256ecdsa="+enc)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if string(cred.PublicKey) != string(raw) {
		t.Fatal("header key not adopted")
	}
}

func TestValidateHeaderKeyAmongOtherParams(t *testing.T) {
	enc, _ := b64Key(t, 65)
	header := "keyid=p256dh;dh=BDUMMY,p256ecdsa=" + enc
	if _, err := Validate("webpush dummy.key", header); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateMissingHeaderKey(t *testing.T) {
	cases := []struct {
		name      string
		cryptoKey string
	}{
		{"no header", ""},
		{"no p256ecdsa param", "keyid=dummy_key"},
		{"empty value", "p256ecdsa="},
		{"undecodable value", "p256ecdsa=Invalid!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Validate("webpush dummy.key", tc.cryptoKey); !errors.Is(err, ErrMissingKey) {
				t.Fatalf("Validate = %v, want ErrMissingKey", err)
			}
		})
	}
}

// A key that decodes cleanly but is not an uncompressed P-256 point must
// be rejected, not silently accepted.
func TestValidateVariantLengthHeaderKey(t *testing.T) {
	variant := base64.URLEncoding.EncodeToString([]byte("0V0" + strings.Repeat("a", 63)))
	if _, err := Validate("webpush dummy.key", "p256ecdsa="+variant); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("variant key = %v, want ErrInvalidKey", err)
	}
}

func TestValidateKeyAgreement(t *testing.T) {
	enc, _ := b64Key(t, 65)
	if _, err := Validate("vapid t=tok,k="+enc, "p256ecdsa="+enc); err != nil {
		t.Fatalf("matching keys rejected: %v", err)
	}

	other := make([]byte, 65)
	other[0] = 0x04
	other[64] = 0xff
	encOther := base64.URLEncoding.EncodeToString(other)
	if _, err := Validate("vapid t=tok,k="+enc, "p256ecdsa="+encOther); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("differing keys = %v, want ErrKeyMismatch", err)
	}
}

func TestValidateUnpaddedKey(t *testing.T) {
	enc, _ := b64Key(t, 65)
	if _, err := Validate("vapid t=tok,k="+strings.TrimRight(enc, "="), ""); err != nil {
		t.Fatalf("unpadded key rejected: %v", err)
	}
}

func signedToken(t *testing.T, sk *ecdsa.PrivateKey, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"aud": "https://push.example.org",
		"sub": "mailto:ops@example.org",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString(sk)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func marshalPoint(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:])
	return out
}

func TestVerifySignature(t *testing.T) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	cred := Credential{
		Scheme:    SchemeVapid,
		Token:     signedToken(t, sk, now.Add(time.Hour)),
		PublicKey: marshalPoint(&sk.PublicKey),
	}
	if err := VerifySignature(cred, now); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestVerifySignatureWrongKey(t *testing.T) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	cred := Credential{
		Token:     signedToken(t, sk, now.Add(time.Hour)),
		PublicKey: marshalPoint(&other.PublicKey),
	}
	if err := VerifySignature(cred, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("VerifySignature = %v, want ErrBadSignature", err)
	}
}

func TestVerifySignatureExpiryRules(t *testing.T) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	pub := marshalPoint(&sk.PublicKey)

	expired := Credential{Token: signedToken(t, sk, now.Add(-time.Minute)), PublicKey: pub}
	if err := VerifySignature(expired, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expired token = %v, want ErrBadSignature", err)
	}

	tooFar := Credential{Token: signedToken(t, sk, now.Add(48*time.Hour)), PublicKey: pub}
	if err := VerifySignature(tooFar, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("far-future token = %v, want ErrBadSignature", err)
	}
}
