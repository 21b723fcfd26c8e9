package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

// backendFactories builds every backend against a fresh location.
func backendFactories(t *testing.T) map[string]func(t *testing.T) Backend {
	t.Helper()
	keyring.MockInit()

	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryStore(nil)
		},
		"file": func(t *testing.T) Backend {
			store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			return store
		},
		"keyring": func(t *testing.T) Backend {
			store, err := NewKeyringStore("sessionkeeper-test", t.Name())
			if err != nil {
				t.Fatalf("NewKeyringStore() error = %v", err)
			}
			return store
		},
		"bolt": func(t *testing.T) Backend {
			store, err := NewBoltStoreFromFile(filepath.Join(t.TempDir(), "session.db"))
			if err != nil {
				t.Fatalf("NewBoltStoreFromFile() error = %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestBackendRoundTrip(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := factory(t)

			record, err := backend.Read(ctx)
			if err != nil {
				t.Fatalf("Read() on empty backend error = %v", err)
			}
			if len(record) != 0 {
				t.Fatalf("Read() on empty backend = %v", record)
			}

			full := Record{
				KeyAccessToken:  "A1",
				KeyRefreshToken: "R1",
				KeyUserID:       "u1",
				KeyName:         "Ada",
				KeyEmail:        "ada@example.com",
				KeyRole:         "ADMIN",
			}
			if err := backend.Write(ctx, full); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			assertRecord(t, backend, full)

			// Fields written empty are removed, others replaced.
			partial := Record{KeyAccessToken: "A2", KeyRefreshToken: ""}
			if err := backend.Write(ctx, partial); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			assertRecord(t, backend, Record{KeyAccessToken: "A2"})

			if err := backend.Write(ctx, Record{}); err != nil {
				t.Fatalf("Write(empty) error = %v", err)
			}
			assertRecord(t, backend, Record{})

			// Removing twice is not an error.
			if err := backend.Write(ctx, Record{}); err != nil {
				t.Fatalf("second Write(empty) error = %v", err)
			}
		})
	}
}

func TestBackendsRespectCancelledContext(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			backend := factory(t)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := backend.Read(ctx); err == nil {
				t.Error("Read() with cancelled context should fail")
			}
			if err := backend.Write(ctx, Record{KeyAccessToken: "A1"}); err == nil {
				t.Error("Write() with cancelled context should fail")
			}
		})
	}
}

func TestStoreSurvivesRestart(t *testing.T) {
	for name, factory := range backendFactories(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := factory(t)

			first, err := New(ctx, backend)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := first.Establish(ctx, Credentials{AccessToken: "A1", RefreshToken: "R1"}, testIdentity); err != nil {
				t.Fatalf("Establish() error = %v", err)
			}

			second, err := New(ctx, backend)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := second.Snapshot(); got.Credentials.AccessToken != "A1" || got.Identity != testIdentity {
				t.Errorf("hydrated snapshot = %+v", got)
			}
			if !second.Session().Authenticated() {
				t.Error("hydrated session should be authenticated")
			}
		})
	}
}

func TestFileStoreRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"accessToken":"A1"}`), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected insecure permission error")
	}
}

func TestFileStoreWritesOwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := store.Write(context.Background(), Record{KeyAccessToken: "A1"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %04o, want 0600", info.Mode().Perm())
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") should fail")
	}
	if _, err := NewKeyringStore("", "user"); err == nil {
		t.Error("NewKeyringStore with empty service should fail")
	}
	if _, err := NewKeyringStore("service", ""); err == nil {
		t.Error("NewKeyringStore with empty user should fail")
	}
	if _, err := NewBoltStoreFromFile(""); err == nil {
		t.Error("NewBoltStoreFromFile(\"\") should fail")
	}
}

func assertRecord(t *testing.T, backend Backend, want Record) {
	t.Helper()
	got, err := backend.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Read() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Read()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestEnvStoreSeedsRefreshToken(t *testing.T) {
	t.Setenv("SESSIONKEEPER_TEST_REFRESH", "R-env")
	ctx := context.Background()

	backend, err := NewEnvStore("SESSIONKEEPER_TEST_REFRESH")
	if err != nil {
		t.Fatalf("NewEnvStore() error = %v", err)
	}
	store, err := New(ctx, backend)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := store.Get(); got.AccessToken != "" || got.RefreshToken != "R-env" {
		t.Errorf("hydrated credentials = %+v", got)
	}
	if store.Session().Authenticated() {
		t.Error("refresh token alone must not authenticate")
	}

	// Rotation is kept in memory, the variable stays untouched
	if err := store.SetCredentials(ctx, "A1", "R2"); err != nil {
		t.Fatalf("SetCredentials() error = %v", err)
	}
	record, err := backend.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if record[KeyRefreshToken] != "R2" {
		t.Errorf("backend refresh token = %q, want R2", record[KeyRefreshToken])
	}
	if got := os.Getenv("SESSIONKEEPER_TEST_REFRESH"); got != "R-env" {
		t.Errorf("environment changed to %q", got)
	}
}

func TestNewEnvStoreValidation(t *testing.T) {
	t.Setenv("SESSIONKEEPER_TEST_EMPTY", "")

	for _, key := range []string{"", "SESSIONKEEPER_TEST_UNSET_VARIABLE", "SESSIONKEEPER_TEST_EMPTY"} {
		if _, err := NewEnvStore(key); err == nil {
			t.Errorf("NewEnvStore(%q) succeeded", key)
		}
	}
}
