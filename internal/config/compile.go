package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crensch/pushgate/internal/secrets"
)

const (
	defaultListen       = ":8082"
	defaultStatusListen = "127.0.0.1:8092"
	defaultMaxBodyBytes = 4 << 10

	defaultTracingURLPath = "/v1/traces"
)

// Compiled is the validated runtime configuration.
type Compiled struct {
	Listen       string
	StatusListen string

	Endpoint CompiledEndpoint
	Store    CompiledStore
	Routers  []CompiledRouter
	Tracing  CompiledTracing
}

type CompiledEndpoint struct {
	MaxBodyBytes int64

	// TokenKeyRefs are validated secret references, first key signs.
	TokenKeyRefs []string

	RequireSignature bool
}

type CompiledStore struct {
	Kind string

	Path string // sqlite
	DSN  string // postgres
	Dir  string // badger
}

type CompiledRouter struct {
	Type    string
	Timeout time.Duration

	// fcm
	ServerKeyRef string
	Endpoint     string
	DryRun       bool

	// apns
	KeyFile string
	KeyID   string
	TeamID  string
	Topic   string
	Sandbox bool
}

type CompiledTracing struct {
	Enabled   bool
	Collector string
	URLPath   string
	Insecure  bool
}

// Compile resolves placeholders, validates every directive and applies
// defaults. The returned Compiled is usable iff res.OK().
func Compile(cfg *Config) (*Compiled, ValidationResult) {
	var res ValidationResult
	out := &Compiled{
		Listen:       defaultListen,
		StatusListen: defaultStatusListen,
		Endpoint:     CompiledEndpoint{MaxBodyBytes: defaultMaxBodyBytes},
	}
	if cfg == nil {
		res.Errors = append(res.Errors, "empty configuration")
		return out, res
	}

	if cfg.ListenSet {
		out.Listen = resolveValue(cfg.Listen, "listen", &res)
		if out.Listen == "" {
			res.Errors = append(res.Errors, "listen: empty address")
		}
	}
	if cfg.StatusListenSet {
		out.StatusListen = resolveValue(cfg.StatusListen, "status_listen", &res)
	}

	compileEndpoint(cfg.Endpoint, out, &res)
	compileStore(cfg.Store, out, &res)
	compileRouters(cfg.Routers, out, &res)
	compileTracing(cfg.Observability, out, &res)

	return out, res
}

func compileEndpoint(b *EndpointBlock, out *Compiled, res *ValidationResult) {
	if b == nil {
		res.Errors = append(res.Errors, "endpoint: block is required")
		return
	}
	if b.MaxBodySet {
		n, err := parseSize(resolveValue(b.MaxBody, "endpoint.max_body", res))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("endpoint.max_body: %v", err))
		} else {
			out.Endpoint.MaxBodyBytes = n
		}
	}
	if len(b.TokenKeys) == 0 {
		res.Errors = append(res.Errors, "endpoint: at least one token_key is required")
	}
	for i, ref := range b.TokenKeys {
		ref = resolveValue(ref, fmt.Sprintf("endpoint.token_key[%d]", i), res)
		if err := secrets.ValidateRef(ref); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("endpoint.token_key[%d]: %v", i, err))
			continue
		}
		out.Endpoint.TokenKeyRefs = append(out.Endpoint.TokenKeyRefs, ref)
	}
	if b.Vapid != nil && b.Vapid.RequireSignatureSet {
		v, ok := parseBool(resolveValue(b.Vapid.RequireSignature, "endpoint.vapid.require_signature", res))
		if !ok {
			res.Errors = append(res.Errors, "endpoint.vapid.require_signature: expected on|off|true|false|1|0")
		} else {
			out.Endpoint.RequireSignature = v
		}
	}
}

func compileStore(b *StoreBlock, out *Compiled, res *ValidationResult) {
	if b == nil {
		res.Errors = append(res.Errors, "store: block is required")
		return
	}
	out.Store.Kind = b.Kind

	switch b.Kind {
	case "memory":
		if b.PathSet || b.DSNSet || b.DirSet {
			res.Warnings = append(res.Warnings, "store memory: path/dsn/dir directives are ignored")
		}
	case "sqlite":
		out.Store.Path = resolveValue(b.Path, "store.path", res)
		if !b.PathSet || out.Store.Path == "" {
			res.Errors = append(res.Errors, "store sqlite: path is required")
		}
	case "postgres":
		out.Store.DSN = resolveValue(b.DSN, "store.dsn", res)
		if !b.DSNSet || out.Store.DSN == "" {
			res.Errors = append(res.Errors, "store postgres: dsn is required")
		}
	case "badger":
		out.Store.Dir = resolveValue(b.Dir, "store.dir", res)
		if !b.DirSet || out.Store.Dir == "" {
			res.Errors = append(res.Errors, "store badger: dir is required")
		}
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("store: unknown kind %q (use memory|sqlite|postgres|badger)", b.Kind))
	}
}

func compileRouters(blocks []RouterBlock, out *Compiled, res *ValidationResult) {
	if len(blocks) == 0 {
		res.Errors = append(res.Errors, "router: at least one router block is required")
		return
	}

	for _, b := range blocks {
		cr := CompiledRouter{Type: b.Type}
		field := "router " + b.Type

		if b.TimeoutSet {
			d, err := time.ParseDuration(resolveValue(b.Timeout, field+".timeout", res))
			if err != nil || d <= 0 {
				res.Errors = append(res.Errors, field+".timeout: expected a positive duration")
			} else {
				cr.Timeout = d
			}
		}

		switch b.Type {
		case "webpush":
			// No backend credentials; node addresses come from the
			// subscriber's routing state.
		case "fcm":
			cr.ServerKeyRef = resolveValue(b.ServerKey, field+".server_key", res)
			if !b.ServerKeySet || cr.ServerKeyRef == "" {
				res.Errors = append(res.Errors, field+": server_key is required")
			} else if err := secrets.ValidateRef(cr.ServerKeyRef); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s.server_key: %v", field, err))
			}
			if b.EndpointSet {
				cr.Endpoint = resolveValue(b.Endpoint, field+".endpoint", res)
			}
			if b.DryRunSet {
				v, ok := parseBool(resolveValue(b.DryRun, field+".dry_run", res))
				if !ok {
					res.Errors = append(res.Errors, field+".dry_run: expected on|off|true|false|1|0")
				} else {
					cr.DryRun = v
				}
			}
		case "apns":
			cr.KeyFile = resolveValue(b.KeyFile, field+".key_file", res)
			cr.KeyID = resolveValue(b.KeyID, field+".key_id", res)
			cr.TeamID = resolveValue(b.TeamID, field+".team_id", res)
			cr.Topic = resolveValue(b.Topic, field+".topic", res)
			for _, req := range []struct {
				name string
				set  bool
				val  string
			}{
				{"key_file", b.KeyFileSet, cr.KeyFile},
				{"key_id", b.KeyIDSet, cr.KeyID},
				{"team_id", b.TeamIDSet, cr.TeamID},
				{"topic", b.TopicSet, cr.Topic},
			} {
				if !req.set || req.val == "" {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %s is required", field, req.name))
				}
			}
			if b.SandboxSet {
				v, ok := parseBool(resolveValue(b.Sandbox, field+".sandbox", res))
				if !ok {
					res.Errors = append(res.Errors, field+".sandbox: expected on|off|true|false|1|0")
				} else {
					cr.Sandbox = v
				}
			}
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("router: unknown type %q (use webpush|fcm|apns)", b.Type))
			continue
		}

		out.Routers = append(out.Routers, cr)
	}
}

func compileTracing(b *ObservabilityBlock, out *Compiled, res *ValidationResult) {
	out.Tracing.URLPath = defaultTracingURLPath
	if b == nil || b.Tracing == nil {
		return
	}
	t := b.Tracing

	if t.EnabledSet {
		v, ok := parseBool(resolveValue(t.Enabled, "observability.tracing.enabled", res))
		if !ok {
			res.Errors = append(res.Errors, "observability.tracing.enabled: expected on|off|true|false|1|0")
		} else {
			out.Tracing.Enabled = v
		}
	}
	if t.shorthand {
		if out.Tracing.Enabled {
			res.Errors = append(res.Errors, "observability.tracing: collector is required when enabled")
		}
		return
	}
	if t.CollectorSet {
		out.Tracing.Collector = resolveValue(t.Collector, "observability.tracing.collector", res)
	}
	if out.Tracing.Enabled && out.Tracing.Collector == "" {
		res.Errors = append(res.Errors, "observability.tracing: collector is required when enabled")
	}
	if t.URLPathSet {
		out.Tracing.URLPath = resolveValue(t.URLPath, "observability.tracing.url_path", res)
	}
	if t.InsecureSet {
		v, ok := parseBool(resolveValue(t.Insecure, "observability.tracing.insecure", res))
		if !ok {
			res.Errors = append(res.Errors, "observability.tracing.insecure: expected on|off|true|false|1|0")
		} else {
			out.Tracing.Insecure = v
		}
	}
}

// parseSize accepts plain byte counts plus k/m suffixes ("4096", "64k",
// "2m").
func parseSize(raw string) (int64, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(raw, "k"):
		mult = 1 << 10
		raw = strings.TrimSuffix(raw, "k")
	case strings.HasSuffix(raw, "m"):
		mult = 1 << 20
		raw = strings.TrimSuffix(raw, "m")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive size, got %q", raw)
	}
	return n * mult, nil
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on":
		return true, true
	case "0", "false", "off":
		return false, true
	default:
		return false, false
	}
}
