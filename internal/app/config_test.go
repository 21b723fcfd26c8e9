package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/florianilch/sessionkeeper/internal/observability"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

func TestApplyDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.Telemetry.Exporter != observability.ExporterNone {
		t.Errorf("Telemetry.Exporter = %q", cfg.Telemetry.Exporter)
	}
	if cfg.Server.Host != DefaultConfigServerHost || cfg.Server.Port != DefaultConfigServerPort {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Upstream.BaseURL != DefaultConfigUpstreamBaseURL {
		t.Errorf("Upstream.BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.RefreshTimeout != DefaultConfigRefreshTimeout || cfg.Upstream.RequestTimeout != DefaultConfigRequestTimeout {
		t.Errorf("Upstream timeouts = %+v", cfg.Upstream)
	}
	if cfg.Storage.Type != StorageTypeFile {
		t.Errorf("Storage.Type = %q", cfg.Storage.Type)
	}
	if filepath.Base(cfg.Storage.File) != "session.json" || !strings.Contains(cfg.Storage.File, "sessionkeeper") {
		t.Errorf("Storage.File = %q", cfg.Storage.File)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestApplyDefaultsPerStorageType(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		storage StorageType
		check   func(t *testing.T, s StorageConfig)
	}{
		{StorageTypeBolt, func(t *testing.T, s StorageConfig) {
			if filepath.Base(s.BoltPath) != "session.db" {
				t.Errorf("BoltPath = %q", s.BoltPath)
			}
		}},
		{StorageTypeKeyring, func(t *testing.T, s StorageConfig) {
			if s.KeyringService != DefaultConfigKeyringService || s.KeyringUser == "" {
				t.Errorf("keyring settings = %+v", s)
			}
		}},
		{StorageTypeEnv, func(t *testing.T, s StorageConfig) {
			if s.EnvKey != DefaultConfigEnvKey {
				t.Errorf("EnvKey = %q", s.EnvKey)
			}
		}},
		{StorageTypeMemory, func(t *testing.T, s StorageConfig) {
			if s.File != "" || s.BoltPath != "" {
				t.Errorf("memory storage got paths: %+v", s)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.storage), func(t *testing.T) {
			cfg := &Config{Storage: StorageConfig{Type: tt.storage}}
			if err := cfg.ApplyDefaults(); err != nil {
				t.Fatalf("ApplyDefaults() error = %v", err)
			}
			tt.check(t, cfg.Storage)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogFormat: LogFormatText,
			Telemetry: TelemetryConfig{Exporter: observability.ExporterNone},
			Server:    ServerConfig{Host: "127.0.0.1", Port: 4000},
			Shutdown:  ShutdownConfig{Timeout: time.Second},
			Upstream: UpstreamConfig{
				BaseURL:        "http://localhost:8000/api/",
				RequestTimeout: time.Second,
				RefreshTimeout: time.Second,
			},
			Storage: StorageConfig{Type: StorageTypeMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "kafka" }, true},
		{"otlp endpoint", func(c *Config) {
			c.Telemetry.Exporter = observability.ExporterOTLPGRPC
			c.Telemetry.Endpoint = "collector:4317"
		}, false},
		{"otlp endpoint without port", func(c *Config) { c.Telemetry.Endpoint = "collector" }, true},
		{"invalid host", func(c *Config) { c.Server.Host = "not a host" }, true},
		{"missing base url", func(c *Config) { c.Upstream.BaseURL = "" }, true},
		{"malformed base url", func(c *Config) { c.Upstream.BaseURL = "localhost" }, true},
		{"zero refresh timeout", func(c *Config) { c.Upstream.RefreshTimeout = 0 }, true},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, true},
		{"env without key", func(c *Config) { c.Storage.Type = StorageTypeEnv }, true},
		{"file without path", func(c *Config) { c.Storage.Type = StorageTypeFile }, true},
		{"bolt without path", func(c *Config) { c.Storage.Type = StorageTypeBolt }, true},
		{"keyring without user", func(c *Config) {
			c.Storage.Type = StorageTypeKeyring
			c.Storage.KeyringService = "sessionkeeper"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SESSIONKEEPER_TEST_SEED", "R-seed")

	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{"file", StorageConfig{Type: StorageTypeFile, File: filepath.Join(dir, "s.json")}, false},
		{"bolt", StorageConfig{Type: StorageTypeBolt, BoltPath: filepath.Join(dir, "nested", "s.db")}, false},
		{"memory", StorageConfig{Type: StorageTypeMemory}, false},
		{"env", StorageConfig{Type: StorageTypeEnv, EnvKey: "SESSIONKEEPER_TEST_SEED"}, false},
		{"env unset", StorageConfig{Type: StorageTypeEnv, EnvKey: "SESSIONKEEPER_TEST_UNSET_VARIABLE"}, true},
		{"unknown", StorageConfig{Type: "sqlite"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := tt.storage.NewBackend()
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBackend() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bolt, ok := backend.(*tokenstore.BoltStore); ok {
				_ = bolt.Close()
			}
		})
	}
}
