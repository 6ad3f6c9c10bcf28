// Package secrets resolves secret reference strings from configuration
// into their values. References keep key material out of the config file
// itself; the raw: form exists for tests and local development.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretRef = errors.New("invalid secret reference")

// ValidateRef validates a secret reference format without loading its value.
//
// Supported forms:
// - env:NAME
// - file:/path/to/secret
// - raw:literal-value
func ValidateRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("%w: empty", ErrSecretRef)
	}

	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimSpace(strings.TrimPrefix(ref, "env:"))
		if name == "" {
			return fmt.Errorf("%w: env var name is empty", ErrSecretRef)
		}
		return nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimSpace(strings.TrimPrefix(ref, "file:"))
		if path == "" {
			return fmt.Errorf("%w: file path is empty", ErrSecretRef)
		}
		return nil
	case strings.HasPrefix(ref, "raw:"):
		val := strings.TrimPrefix(ref, "raw:")
		if val == "" {
			return fmt.Errorf("%w: raw value is empty", ErrSecretRef)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme (use env:, file:, or raw:)", ErrSecretRef)
	}
}

// LoadRef loads a secret value from a reference string.
func LoadRef(ref string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	ref = strings.TrimSpace(ref)

	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimSpace(strings.TrimPrefix(ref, "env:"))
		val := os.Getenv(name)
		if val == "" {
			return nil, fmt.Errorf("%w: env var %q is empty or missing", ErrSecretRef, name)
		}
		return []byte(val), nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimSpace(strings.TrimPrefix(ref, "file:"))
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		val := strings.TrimSpace(string(b))
		if val == "" {
			return nil, fmt.Errorf("%w: file %q is empty", ErrSecretRef, path)
		}
		return []byte(val), nil
	default:
		return []byte(strings.TrimPrefix(ref, "raw:")), nil
	}
}

// LoadRefs resolves a list of references in order, failing on the first
// bad one.
func LoadRefs(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for i, ref := range refs {
		val, err := LoadRef(ref)
		if err != nil {
			return nil, fmt.Errorf("ref[%d]: %w", i, err)
		}
		out = append(out, string(val))
	}
	return out, nil
}
