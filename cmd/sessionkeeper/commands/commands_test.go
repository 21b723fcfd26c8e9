package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/florianilch/sessionkeeper/internal/api"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"user":{"_id":"u1","name":"Ada","email":"ada@example.com","role":"ADMIN"},"accessToken":"A1","refreshToken":"R1"}}`)
	})
	mux.HandleFunc("GET /api/users/{$}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[{"_id":"u1","name":"Ada","email":"ada@example.com","role":"ADMIN"},{"_id":"u3","name":"Linus","email":"linus@example.com","role":"MANAGER"}]}`)
	})
	mux.HandleFunc("DELETE /api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// cliHarness runs one invocation per call against the fake backend.
type cliHarness struct {
	t       *testing.T
	baseURL string
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out
	root.Reader = strings.NewReader("")
	full := append([]string{"sessionkeeper", "--upstream--base-url", h.baseURL, "--log-level", "error"}, args...)
	err := root.Run(context.Background(), full)
	return out.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SESSIONKEEPER_STORAGE__FILE", filepath.Join(t.TempDir(), "session.json"))
	h := &cliHarness{t: t, baseURL: newBackend(t).URL + "/api/"}

	out, err := h.run("status")
	if err != nil || !strings.Contains(out, "not logged in") {
		t.Fatalf("status before login: %q, %v", out, err)
	}

	out, err = h.run("login", "--email", "ada@example.com", "--password", "secret")
	if err != nil || !strings.Contains(out, "logged in as Ada") {
		t.Fatalf("login: %q, %v", out, err)
	}

	// Each invocation is a new process as far as the session is concerned
	out, err = h.run("status")
	if err != nil || !strings.Contains(out, "ada@example.com") {
		t.Fatalf("status after login: %q, %v", out, err)
	}

	out, err = h.run("token")
	if err != nil || strings.TrimSpace(out) != "A1" {
		t.Fatalf("token: %q, %v", out, err)
	}

	out, err = h.run("users", "list")
	if err != nil || !strings.Contains(out, "Linus") || !strings.Contains(out, "MANAGER") {
		t.Fatalf("users list: %q, %v", out, err)
	}

	out, err = h.run("users", "delete", "u3")
	if err != nil || !strings.Contains(out, "deleted u3") {
		t.Fatalf("users delete: %q, %v", out, err)
	}

	if _, err := h.run("logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	_, err = h.run("users", "list")
	if !errors.Is(err, api.ErrNotAuthenticated) {
		t.Fatalf("users list after logout error = %v, want ErrNotAuthenticated", err)
	}
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	baseURL := newBackend(t).URL + "/api/"

	var out bytes.Buffer
	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out
	root.Reader = strings.NewReader("secret\n")

	err := root.Run(context.Background(), []string{
		"sessionkeeper", "--upstream--base-url", baseURL, "--storage--type", "memory",
		"login", "--email", "ada@example.com",
	})
	if err != nil || !strings.Contains(out.String(), "logged in as Ada") {
		t.Fatalf("login: %q, %v", out.String(), err)
	}
}

func TestUsersGetRequiresID(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	h := &cliHarness{t: t, baseURL: newBackend(t).URL + "/api/"}

	if _, err := h.run("--storage--type", "memory", "users", "get"); err == nil {
		t.Error("users get without id succeeded")
	}
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	h := &cliHarness{t: t, baseURL: "http://backend.example/api/"}

	out, err := h.run("--storage--type", "memory", "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, `"base_url": "http://backend.example/api/"`) || !strings.Contains(out, `"type": "memory"`) {
		t.Errorf("config output = %s", out)
	}
}
