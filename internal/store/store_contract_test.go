package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) Store
}

func contractStoreFactories() []storeFactory {
	out := []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) Store {
				t.Helper()
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T) Store {
				t.Helper()
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pushgate.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "badger",
			new: func(t *testing.T) Store {
				t.Helper()
				s, err := NewBadgerStore(t.TempDir())
				if err != nil {
					t.Fatalf("new badger store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}

	if dsn := strings.TrimSpace(os.Getenv("PUSHGATE_TEST_POSTGRES_DSN")); dsn != "" {
		out = append(out, storeFactory{
			name: "postgres",
			new: func(t *testing.T) Store {
				t.Helper()
				s, err := NewPostgresStore(dsn)
				if err != nil {
					t.Fatalf("new postgres store: %v", err)
				}
				t.Cleanup(func() {
					_ = s.Drop("contract-uaid")
					_ = s.Close()
				})
				return s
			},
		})
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for _, f := range contractStoreFactories() {
		t.Run(f.name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				s := f.new(t)
				if _, err := s.Get("contract-uaid"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
				}
			})

			t.Run("register then get round-trips", func(t *testing.T) {
				s := f.new(t)
				rec := Record{
					UAID:       "contract-uaid",
					RouterType: "webpush",
					RouterData: map[string]any{
						"node_id": "https://node-1.example",
						"token":   "connect-token",
					},
					CurrentMonth: "message_2026_08",
				}
				if err := s.Register(rec); err != nil {
					t.Fatalf("Register: %v", err)
				}
				got, err := s.Get(rec.UAID)
				if err != nil {
					t.Fatalf("Get: %v", err)
				}
				if got.RouterType != "webpush" {
					t.Fatalf("router_type = %q, want webpush", got.RouterType)
				}
				if got.CurrentMonth != "message_2026_08" {
					t.Fatalf("current_month = %q", got.CurrentMonth)
				}
				if got.RouterData["node_id"] != "https://node-1.example" || got.RouterData["token"] != "connect-token" {
					t.Fatalf("router_data = %#v", got.RouterData)
				}
			})

			t.Run("register replaces router_data wholesale", func(t *testing.T) {
				s := f.new(t)
				first := Record{
					UAID:       "contract-uaid",
					RouterType: "fcm",
					RouterData: map[string]any{"token": "old", "extra": "stale"},
				}
				if err := s.Register(first); err != nil {
					t.Fatalf("Register: %v", err)
				}
				second := Record{
					UAID:       "contract-uaid",
					RouterType: "fcm",
					RouterData: map[string]any{"token": "new_connect"},
				}
				if err := s.Register(second); err != nil {
					t.Fatalf("Register: %v", err)
				}
				got, err := s.Get("contract-uaid")
				if err != nil {
					t.Fatalf("Get: %v", err)
				}
				if got.RouterData["token"] != "new_connect" {
					t.Fatalf("token = %v", got.RouterData["token"])
				}
				if _, ok := got.RouterData["extra"]; ok {
					t.Fatal("old router_data key survived a replacement register")
				}
			})

			t.Run("register requires router_type", func(t *testing.T) {
				s := f.new(t)
				err := s.Register(Record{UAID: "contract-uaid"})
				if !errors.Is(err, ErrInvalidRecord) {
					t.Fatalf("Register without router_type = %v, want ErrInvalidRecord", err)
				}
			})

			t.Run("drop is idempotent", func(t *testing.T) {
				s := f.new(t)
				if err := s.Register(Record{UAID: "contract-uaid", RouterType: "webpush"}); err != nil {
					t.Fatalf("Register: %v", err)
				}
				if err := s.Drop("contract-uaid"); err != nil {
					t.Fatalf("first Drop: %v", err)
				}
				if err := s.Drop("contract-uaid"); err != nil {
					t.Fatalf("second Drop: %v", err)
				}
				if _, err := s.Get("contract-uaid"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("Get after Drop = %v, want ErrNotFound", err)
				}
			})
		})
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	rec := Record{
		UAID:       "iso-uaid",
		RouterType: "webpush",
		RouterData: map[string]any{"node_id": "a"},
	}
	if err := s.Register(rec); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's map after Register must not affect the store.
	rec.RouterData["node_id"] = "b"
	got, err := s.Get("iso-uaid")
	if err != nil {
		t.Fatal(err)
	}
	if got.RouterData["node_id"] != "a" {
		t.Fatal("Register did not copy router_data")
	}

	// Mutating a Get result must not affect the store either.
	got.RouterData["node_id"] = "c"
	again, err := s.Get("iso-uaid")
	if err != nil {
		t.Fatal(err)
	}
	if again.RouterData["node_id"] != "a" {
		t.Fatal("Get returned a shared router_data map")
	}
}
