package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crensch/pushgate/internal/config"
)

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Pushgatefile")
	if err := os.WriteFile(path, []byte(runTestConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if code := configValidate([]string{"--config", path}); code != 0 {
		t.Fatalf("valid config: exit code %d", code)
	}

	if code := configValidate([]string{"--config", filepath.Join(dir, "missing")}); code != 1 {
		t.Fatalf("missing config: exit code %d, want 1", code)
	}

	bad := filepath.Join(dir, "Badfile")
	if err := os.WriteFile(bad, []byte("listen :8082\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if code := configValidate([]string{"--config", bad, "--format", "text"}); code != 1 {
		t.Fatalf("invalid config: exit code %d, want 1", code)
	}
}

func TestFormatValidation(t *testing.T) {
	okJSON := formatValidation("json", config.ValidationResult{})
	if !strings.Contains(okJSON, `"ok":true`) {
		t.Fatalf("json ok output: %s", okJSON)
	}

	bad := config.ValidationResult{Errors: []string{"endpoint block is required"}}
	text := formatValidation("text", bad)
	if !strings.HasPrefix(text, "invalid") || !strings.Contains(text, "endpoint block is required") {
		t.Fatalf("text output: %s", text)
	}
}
