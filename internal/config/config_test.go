package config

import (
	"strings"
	"testing"
	"time"
)

const fullConfig = `
# pushgate example
listen :8082
status_listen 127.0.0.1:9090

endpoint {
    max_body 8k
    token_key env:PUSHGATE_CRYPTO_KEY
    token_key "raw:old-rotation-key"
    vapid {
        require_signature on
    }
}

store sqlite {
    path /var/lib/pushgate/subscribers.db
}

router webpush {
    timeout 5s
}

router fcm {
    server_key env:FCM_SERVER_KEY
    dry_run off
}

observability {
    tracing {
        enabled on
        collector collector:4318
        insecure on
    }
}
`

func TestParseAndCompileFullConfig(t *testing.T) {
	cfg, err := Parse(fullConfig)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Preamble) != 1 || !strings.Contains(cfg.Preamble[0], "pushgate example") {
		t.Fatalf("preamble = %v", cfg.Preamble)
	}

	out, res := Compile(cfg)
	if !res.OK() {
		t.Fatalf("Compile errors: %v", res.Errors)
	}
	if out.Listen != ":8082" || out.StatusListen != "127.0.0.1:9090" {
		t.Fatalf("listen = %q / %q", out.Listen, out.StatusListen)
	}
	if out.Endpoint.MaxBodyBytes != 8<<10 {
		t.Fatalf("max_body = %d", out.Endpoint.MaxBodyBytes)
	}
	if len(out.Endpoint.TokenKeyRefs) != 2 || out.Endpoint.TokenKeyRefs[1] != "raw:old-rotation-key" {
		t.Fatalf("token keys = %v", out.Endpoint.TokenKeyRefs)
	}
	if !out.Endpoint.RequireSignature {
		t.Fatal("require_signature not compiled")
	}
	if out.Store.Kind != "sqlite" || out.Store.Path != "/var/lib/pushgate/subscribers.db" {
		t.Fatalf("store = %+v", out.Store)
	}
	if len(out.Routers) != 2 {
		t.Fatalf("routers = %+v", out.Routers)
	}
	if out.Routers[0].Type != "webpush" || out.Routers[0].Timeout != 5*time.Second {
		t.Fatalf("webpush router = %+v", out.Routers[0])
	}
	if out.Routers[1].ServerKeyRef != "env:FCM_SERVER_KEY" || out.Routers[1].DryRun {
		t.Fatalf("fcm router = %+v", out.Routers[1])
	}
	if !out.Tracing.Enabled || out.Tracing.Collector != "collector:4318" || !out.Tracing.Insecure {
		t.Fatalf("tracing = %+v", out.Tracing)
	}
	if out.Tracing.URLPath != defaultTracingURLPath {
		t.Fatalf("tracing url_path = %q", out.Tracing.URLPath)
	}
}

func TestCompileDefaults(t *testing.T) {
	cfg, err := Parse(`
endpoint { token_key raw:k }
store memory { }
router webpush { }
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, res := Compile(cfg)
	if !res.OK() {
		t.Fatalf("Compile errors: %v", res.Errors)
	}
	if out.Listen != defaultListen || out.StatusListen != defaultStatusListen {
		t.Fatalf("defaults = %q / %q", out.Listen, out.StatusListen)
	}
	if out.Endpoint.MaxBodyBytes != defaultMaxBodyBytes {
		t.Fatalf("max_body default = %d", out.Endpoint.MaxBodyBytes)
	}
	if out.Tracing.Enabled {
		t.Fatal("tracing enabled without a block")
	}
}

func TestParsePlaceholders(t *testing.T) {
	t.Setenv("PUSHGATE_TEST_LISTEN", ":9000")

	cfg, err := Parse(`
listen {$PUSHGATE_TEST_LISTEN}
endpoint { token_key raw:k }
store memory { }
router webpush { }
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, res := Compile(cfg)
	if !res.OK() {
		t.Fatalf("Compile errors: %v", res.Errors)
	}
	if out.Listen != ":9000" {
		t.Fatalf("listen = %q", out.Listen)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate_listen":    "listen :1\nlisten :2\n",
		"duplicate_endpoint":  "endpoint { }\nendpoint { }\n",
		"unknown_top_level":   "frobnicate on\n",
		"unknown_store_dir":   "store sqlite { frob x }\n",
		"duplicate_router":    "router webpush { }\nrouter webpush { }\n",
		"unterminated_block":  "endpoint {\n",
		"unterminated_string": "listen \":80\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(src); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", src)
			}
		})
	}
}

func TestCompileRejects(t *testing.T) {
	cases := map[string]string{
		"missing_endpoint":  "store memory { }\nrouter webpush { }\n",
		"missing_token_key": "endpoint { }\nstore memory { }\nrouter webpush { }\n",
		"bad_token_key_ref": "endpoint { token_key flurb:x }\nstore memory { }\nrouter webpush { }\n",
		"unknown_store":     "endpoint { token_key raw:k }\nstore redis { }\nrouter webpush { }\n",
		"sqlite_no_path":    "endpoint { token_key raw:k }\nstore sqlite { }\nrouter webpush { }\n",
		"no_routers":        "endpoint { token_key raw:k }\nstore memory { }\n",
		"fcm_no_server_key": "endpoint { token_key raw:k }\nstore memory { }\nrouter fcm { }\n",
		"apns_missing":      "endpoint { token_key raw:k }\nstore memory { }\nrouter apns { key_id k }\n",
		"bad_timeout":       "endpoint { token_key raw:k }\nstore memory { }\nrouter webpush { timeout fast }\n",
		"tracing_shorthand": "endpoint { token_key raw:k }\nstore memory { }\nrouter webpush { }\nobservability { tracing on }\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse(src)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if _, res := Compile(cfg); res.OK() {
				t.Fatalf("Compile(%q) passed, want errors", src)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"4096", 4096, true},
		{"64k", 64 << 10, true},
		{"2m", 2 << 20, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"big", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := parseSize(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("parseSize(%q) = (%d, %v), want (%d, ok=%v)", tc.in, got, err, tc.want, tc.ok)
		}
	}
}
