package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/observability"
	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

func testConfig(baseURL string, storage StorageConfig) *Config {
	return &Config{
		LogFormat: LogFormatText,
		Telemetry: TelemetryConfig{Exporter: observability.ExporterNone},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 4000},
		Shutdown:  ShutdownConfig{Timeout: time.Second},
		Upstream: UpstreamConfig{
			BaseURL:        baseURL,
			RequestTimeout: 5 * time.Second,
			RefreshTimeout: 5 * time.Second,
		},
		Storage: storage,
	}
}

func newLoginBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"user":{"_id":"u1","name":"Ada","email":"ada@example.com","role":"ADMIN"},"accessToken":"A1","refreshToken":"R1"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("not a url", StorageConfig{Type: StorageTypeMemory})
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() accepted invalid config")
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	srv := newLoginBackend(t)
	storage := StorageConfig{Type: StorageTypeBolt, BoltPath: filepath.Join(t.TempDir(), "session.db")}
	ctx := context.Background()

	first, err := New(ctx, testConfig(srv.URL+"/api/", storage))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := first.Client().Login(ctx, api.LoginInput{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := New(ctx, testConfig(srv.URL+"/api/", storage))
	if err != nil {
		t.Fatalf("New() after restart error = %v", err)
	}
	defer second.Close()

	if got := second.Store().Session().Status(); got != session.StatusAuthenticated {
		t.Errorf("status after restart = %s, want authenticated", got)
	}
	if got := second.Store().Identity().Email; got != "ada@example.com" {
		t.Errorf("identity email after restart = %q", got)
	}
}

func TestHandlerServesSession(t *testing.T) {
	srv := newLoginBackend(t)
	application, err := New(context.Background(), testConfig(srv.URL+"/api/", StorageConfig{Type: StorageTypeMemory}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer application.Close()

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"unauthenticated"`) {
		t.Errorf("GET /session = %d %s", rec.Code, rec.Body)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	srv := newLoginBackend(t)
	ctx := context.Background()
	application, err := New(ctx, testConfig(srv.URL+"/api/", StorageConfig{Type: StorageTypeMemory}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer application.Close()

	if _, err := application.Client().Login(ctx, api.LoginInput{Email: "ada@example.com", Password: "secret"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	for _, want := range []string{
		`sessionkeeper_requests_total{method="POST",outcome="success"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	srv := newLoginBackend(t)
	cfg := testConfig(srv.URL+"/api/", StorageConfig{Type: StorageTypeMemory})
	// Port 0 means "default" in config, so reserve a free port up front
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	cfg.Server.Port = uint16(l.Addr().(*net.TCPAddr).Port)
	_ = l.Close()

	application, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestSessionWatcherFollowsOtherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "session.json")
	backend, err := tokenstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	store, err := tokenstore.New(ctx, backend)
	if err != nil {
		t.Fatalf("tokenstore.New() error = %v", err)
	}

	w, err := newSessionWatcher(path, store)
	if err != nil {
		t.Fatalf("newSessionWatcher() error = %v", err)
	}
	w.debounce = 10 * time.Millisecond
	defer func() { _ = w.Close(ctx) }()
	go func() { _ = w.Run(ctx) }()

	// A second process writes its own login to the same file
	other, err := tokenstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := other.Write(ctx, tokenstore.Record{
		tokenstore.KeyAccessToken:  "A7",
		tokenstore.KeyRefreshToken: "R7",
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !store.Session().Authenticated() {
		if time.Now().After(deadline) {
			t.Fatal("store never picked up the external login")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.Get().AccessToken; got != "A7" {
		t.Errorf("access token = %q, want A7", got)
	}
}
