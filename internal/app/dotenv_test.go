package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv_SetsVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	data := []byte(`
# comment
PUSHGATE_TOKEN_KEY=devkey
export PUSHGATE_FCM_KEY="devsecret"
SINGLE='a b'
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("PUSHGATE_TOKEN_KEY", "")
	t.Setenv("PUSHGATE_FCM_KEY", "")
	t.Setenv("SINGLE", "")
	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}

	if got := os.Getenv("PUSHGATE_TOKEN_KEY"); got != "devkey" {
		t.Fatalf("PUSHGATE_TOKEN_KEY=%q, want devkey", got)
	}
	if got := os.Getenv("PUSHGATE_FCM_KEY"); got != "devsecret" {
		t.Fatalf("PUSHGATE_FCM_KEY=%q, want devsecret", got)
	}
	if got := os.Getenv("SINGLE"); got != "a b" {
		t.Fatalf("SINGLE=%q, want 'a b'", got)
	}
}

func TestLoadDotenv_DoesNotOverrideNonEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PUSHGATE_TOKEN_KEY=devkey\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("PUSHGATE_TOKEN_KEY", "prodkey")
	if err := loadDotenv(path); err != nil {
		t.Fatalf("loadDotenv: %v", err)
	}
	if got := os.Getenv("PUSHGATE_TOKEN_KEY"); got != "prodkey" {
		t.Fatalf("PUSHGATE_TOKEN_KEY=%q, want prodkey", got)
	}
}

func TestLoadDotenv_InvalidLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("NOEQUALS\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := loadDotenv(path); err == nil {
		t.Fatalf("expected error")
	}
}
