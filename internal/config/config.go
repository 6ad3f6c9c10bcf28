// Package config reads the directive-style "Pushgatefile". Parsing
// produces a literal AST (strings as written, Set flags for duplicate
// detection); Compile resolves placeholders and turns it into typed
// runtime settings.
package config

import (
	"fmt"
	"os"
)

// Config is the parsed, user-authored configuration file.
//
// Optional blocks stay pointers so "not set" (use defaults) and "set but
// empty" (usually invalid) remain distinguishable.
type Config struct {
	// Preamble holds leading comment lines (including the leading '#').
	Preamble []string

	Listen          string
	ListenSet       bool
	StatusListen    string
	StatusListenSet bool

	Endpoint *EndpointBlock
	Store    *StoreBlock

	// Routers are instantiated in file order; types must be unique.
	Routers []RouterBlock

	Observability *ObservabilityBlock
}

type EndpointBlock struct {
	MaxBody    string
	MaxBodySet bool

	// TokenKeys are secret references; the first key signs new tokens,
	// the rest are accepted for decryption during rotation.
	TokenKeys []string

	Vapid *VapidBlock
}

type VapidBlock struct {
	RequireSignature    string
	RequireSignatureSet bool
}

type StoreBlock struct {
	Kind string

	Path    string
	PathSet bool
	DSN     string
	DSNSet  bool
	Dir     string
	DirSet  bool
}

type RouterBlock struct {
	Type string

	Timeout    string
	TimeoutSet bool

	// fcm
	ServerKey    string
	ServerKeySet bool
	Endpoint     string
	EndpointSet  bool
	DryRun       string
	DryRunSet    bool

	// apns
	KeyFile    string
	KeyFileSet bool
	KeyID      string
	KeyIDSet   bool
	TeamID     string
	TeamIDSet  bool
	Topic      string
	TopicSet   bool
	Sandbox    string
	SandboxSet bool
}

type ObservabilityBlock struct {
	Tracing *TracingBlock
}

type TracingBlock struct {
	Enabled    string
	EnabledSet bool

	Collector    string
	CollectorSet bool
	URLPath      string
	URLPathSet   bool
	Insecure     string
	InsecureSet  bool

	shorthand bool
}

// ValidationResult accumulates compile diagnostics. Warnings never block
// startup; any error does.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("config: %d error(s), first: %s", len(r.Errors), r.Errors[0])
}

// Parse parses Pushgatefile source text into the literal AST.
func Parse(src string) (*Config, error) {
	return newParser(src).parse()
}

// Load reads and parses a Pushgatefile from disk.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(string(normalizeInput(b)))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config: %s is empty", path)
	}
	return cfg, nil
}

// normalizeInput strips a UTF-8 BOM and normalizes CRLF/CR to LF.
func normalizeInput(in []byte) []byte {
	if len(in) >= 3 && in[0] == 0xEF && in[1] == 0xBB && in[2] == 0xBF {
		in = in[3:]
	}
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		b := in[i]
		if b == '\r' {
			if i+1 < len(in) && in[i+1] == '\n' {
				i++
			}
			out = append(out, '\n')
			continue
		}
		out = append(out, b)
	}
	return out
}
