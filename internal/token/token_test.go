package token

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCodec([]string{k.Encode()})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestDecodeV1RoundTrip(t *testing.T) {
	c := testCodec(t)
	want := Subscription{
		UAID:      uuid.MustParse("abad1dea-0000-0000-aabb-ccdd00000000"),
		ChannelID: uuid.MustParse("deadbeef-0000-0000-deca-fbad00000000"),
	}

	tok, err := c.Encode(want, VersionV1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(tok, VersionV1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.UAID != want.UAID || got.ChannelID != want.ChannelID {
		t.Fatalf("got %v/%v, want %v/%v", got.UAID, got.ChannelID, want.UAID, want.ChannelID)
	}
	if got.PublicKey != nil {
		t.Fatalf("v1 token must not carry a public key, got %d bytes", len(got.PublicKey))
	}
}

func TestDecodeV2CarriesPublicKey(t *testing.T) {
	c := testCodec(t)
	key := bytes.Repeat([]byte{0x04}, 65)
	want := Subscription{
		UAID:      uuid.New(),
		ChannelID: uuid.New(),
		PublicKey: key,
	}

	tok, err := c.Encode(want, VersionV2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(tok, VersionV2)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.PublicKey, key) {
		t.Fatalf("public key mismatch: got %d bytes", len(got.PublicKey))
	}
}

func TestDecodeRejectsGarbageCiphertext(t *testing.T) {
	c := testCodec(t)
	for _, tok := range []string{"", "ignored", "gAAAAABnot-a-token"} {
		if _, err := c.Decode(tok, VersionV1); !errors.Is(err, ErrInvalid) {
			t.Errorf("Decode(%q) = %v, want ErrInvalid", tok, err)
		}
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	a := testCodec(t)
	b := testCodec(t)

	tok, err := a.Encode(Subscription{UAID: uuid.New(), ChannelID: uuid.New()}, VersionV1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := b.Decode(tok, VersionV1); !errors.Is(err, ErrInvalid) {
		t.Fatalf("decode with wrong key = %v, want ErrInvalid", err)
	}
}

func TestDecodeV1WrongLength(t *testing.T) {
	c := testCodec(t)

	// One byte short of the fixed uaid+chid width.
	short, err := fernet.EncryptAndSign(bytes.Repeat([]byte{'a'}, 31), c.keys[0])
	if err != nil {
		t.Fatalf("EncryptAndSign: %v", err)
	}
	if _, err := c.Decode(string(short), VersionV1); !errors.Is(err, ErrMalformed) {
		t.Fatalf("short v1 = %v, want ErrMalformed", err)
	}

	// v1 tokens must be exactly 32 bytes, longer is just as corrupt.
	long, err := fernet.EncryptAndSign(bytes.Repeat([]byte{'a'}, 64), c.keys[0])
	if err != nil {
		t.Fatalf("EncryptAndSign: %v", err)
	}
	if _, err := c.Decode(string(long), VersionV1); !errors.Is(err, ErrMalformed) {
		t.Fatalf("long v1 = %v, want ErrMalformed", err)
	}
}

func TestDecodeV2TooShort(t *testing.T) {
	c := testCodec(t)
	short, err := fernet.EncryptAndSign([]byte("tooshort"), c.keys[0])
	if err != nil {
		t.Fatalf("EncryptAndSign: %v", err)
	}
	if _, err := c.Decode(string(short), VersionV2); !errors.Is(err, ErrMalformed) {
		t.Fatalf("short v2 = %v, want ErrMalformed", err)
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	c := testCodec(t)
	if _, err := c.Decode("anything", 3); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown version = %v, want ErrMalformed", err)
	}
}

func TestCodecKeyRotation(t *testing.T) {
	var oldKey, newKey fernet.Key
	if err := oldKey.Generate(); err != nil {
		t.Fatal(err)
	}
	if err := newKey.Generate(); err != nil {
		t.Fatal(err)
	}

	oldCodec, err := NewCodec([]string{oldKey.Encode()})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := oldCodec.Encode(Subscription{UAID: uuid.New(), ChannelID: uuid.New()}, VersionV1)
	if err != nil {
		t.Fatal(err)
	}

	// New signing key first, old key kept for verification.
	rotated, err := NewCodec([]string{newKey.Encode(), oldKey.Encode()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rotated.Decode(tok, VersionV1); err != nil {
		t.Fatalf("rotated codec rejected old token: %v", err)
	}
}
