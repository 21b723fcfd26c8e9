package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/sessionkeeper/internal/observability"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the different durable backends supported for the session.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeBolt    StorageType = "bolt"
	StorageTypeMemory  StorageType = "memory"
	StorageTypeEnv     StorageType = "env"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigTelemetry       = observability.ExporterNone
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4000
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigUpstreamBaseURL = "http://localhost:8000/api/"
	DefaultConfigRequestTimeout  = 30 * time.Second
	DefaultConfigRefreshTimeout  = 15 * time.Second
	DefaultConfigStorage         = StorageTypeFile
	DefaultConfigKeyringService  = "sessionkeeper"
	DefaultConfigEnvKey          = "SESSIONKEEPER_REFRESH_TOKEN"
	defaultConfigDirName         = "sessionkeeper"
	defaultConfigSessionFileName = "session.json"
	defaultConfigSessionBoltName = "session.db"
)

// TelemetryConfig selects the log export pipeline.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
	Endpoint string                 `json:"endpoint,omitempty" validate:"omitempty,hostname_port"`
	Insecure bool                   `json:"insecure,omitempty"`
}

// ServerConfig holds gateway listener configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds backend API configuration.
type UpstreamConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// RequestTimeout bounds each individual HTTP round trip.
	RequestTimeout time.Duration `json:"request_timeout" validate:"gt=0"`
	// RefreshTimeout bounds the shared token refresh.
	RefreshTimeout time.Duration `json:"refresh_timeout" validate:"gt=0"`
}

// StorageConfig describes where the session is persisted.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file keyring bolt memory env"`

	// Storage-specific settings (mutually exclusive based on Type)
	File           string `json:"file,omitempty"`            // For file storage: path to session file
	KeyringService string `json:"keyring_service,omitempty"` // For keyring storage: service name
	KeyringUser    string `json:"keyring_user,omitempty"`    // For keyring storage: user identifier
	BoltPath       string `json:"bolt_path,omitempty"`       // For bolt storage: database file
	EnvKey         string `json:"env_key,omitempty"`         // For env storage: variable holding a refresh token
}

// NewBackend creates the durable backend described by the configuration.
// Backends holding resources implement io.Closer.
func (s *StorageConfig) NewBackend() (tokenstore.Backend, error) {
	switch s.Type {
	case StorageTypeFile:
		return tokenstore.NewFileStore(s.File)
	case StorageTypeKeyring:
		return tokenstore.NewKeyringStore(s.KeyringService, s.KeyringUser)
	case StorageTypeBolt:
		return tokenstore.NewBoltStoreFromFile(s.BoltPath)
	case StorageTypeMemory:
		return tokenstore.NewMemoryStore(nil), nil
	case StorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvKey)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Storage   StorageConfig   `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetry
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultConfigUpstreamBaseURL
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = DefaultConfigRequestTimeout
	}
	if c.Upstream.RefreshTimeout == 0 {
		c.Upstream.RefreshTimeout = DefaultConfigRefreshTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorage
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			dir, err := configDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(dir, defaultConfigSessionFileName)
		}
	case StorageTypeBolt:
		if c.Storage.BoltPath == "" {
			dir, err := configDir()
			if err != nil {
				return fmt.Errorf("storage.bolt_path required (auto-detect failed: %w)", err)
			}
			c.Storage.BoltPath = filepath.Join(dir, defaultConfigSessionBoltName)
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case StorageTypeEnv:
		if c.Storage.EnvKey == "" {
			c.Storage.EnvKey = DefaultConfigEnvKey
		}
	case StorageTypeMemory:
		// nothing persisted, nothing to locate
	}

	return nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, defaultConfigDirName), nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case StorageTypeBolt:
		if c.Storage.BoltPath == "" {
			return errors.New("bolt_path required for bolt storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" || c.Storage.KeyringUser == "" {
			return errors.New("keyring_service and keyring_user required for keyring storage")
		}
	case StorageTypeEnv:
		if c.Storage.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	}

	return nil
}

// ObservabilitySettings translates the logging sections for observability.Instrument.
func (c *Config) ObservabilitySettings() observability.Settings {
	return observability.Settings{
		Level:    c.LogLevel,
		Format:   string(c.LogFormat),
		Exporter: c.Telemetry.Exporter,
		Endpoint: c.Telemetry.Endpoint,
		Insecure: c.Telemetry.Insecure,
	}
}
