// Package config loads server configuration from an optional YAML file and
// environment variables. Environment variables win over the file; the file
// wins over the defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by storage.backend / NEARBY_BACKEND.
const (
	BackendAuto     = ""
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendRemote   = "remote"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
	Docstore DocstoreConfig `yaml:"docstore"`
}

// ServerConfig holds the JSON API listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the repository backend.
//
// With Backend left empty the choice is made from what is configured:
// a DatabaseURL selects postgres, a Remote.URL selects remote, otherwise sqlite.
type StorageConfig struct {
	Backend     string       `yaml:"backend"`
	SQLitePath  string       `yaml:"sqlite_path"`
	DatabaseURL string       `yaml:"database_url"`
	Remote      RemoteConfig `yaml:"remote"`
}

// RemoteConfig describes the document store used by the remote backend.
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// SessionConfig holds session token settings.
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`

	// SecureCookie marks the session cookie Secure. Enable it behind TLS.
	SecureCookie bool `yaml:"secure_cookie"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DocstoreConfig configures the standalone document store command.
type DocstoreConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Storage: StorageConfig{
			SQLitePath: "data/nearby.db",
			Remote: RemoteConfig{
				Timeout:      5 * time.Second,
				ProbeTimeout: 2 * time.Second,
			},
		},
		Session: SessionConfig{TTL: 24 * time.Hour},
		Log:     LogConfig{Level: "info", Format: "text"},
		Docstore: DocstoreConfig{
			Port:       8090,
			Backend:    BackendMemory,
			SQLitePath: "data/docstore.db",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. An empty path skips the file. A missing file is
// only an error when the path was given explicitly.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Storage.Backend = cfg.Storage.ResolvedBackend()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the environment variables the server has always honoured.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT value %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		c.Storage.SQLitePath = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Storage.DatabaseURL = v
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.Session.Secret = v
	}
	if v, ok := lookup("NEARBY_BACKEND"); ok && v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("NEARBY_REMOTE_URL"); ok && v != "" {
		c.Storage.Remote.URL = v
	}
	if v, ok := lookup("NEARBY_REMOTE_API_KEY"); ok && v != "" {
		c.Storage.Remote.APIKey = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// ResolvedBackend returns the configured backend, inferring it when empty.
func (s StorageConfig) ResolvedBackend() string {
	if s.Backend != BackendAuto {
		return s.Backend
	}
	switch {
	case s.DatabaseURL != "":
		return BackendPostgres
	case s.Remote.URL != "":
		return BackendRemote
	default:
		return BackendSQLite
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.ResolvedBackend() {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url is required for the postgres backend")
		}
	case BackendRemote:
		if c.Storage.Remote.URL == "" {
			return errors.New("storage.remote.url is required for the remote backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	switch c.Docstore.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("docstore.backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Docstore.Backend)
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Addr returns the listen address of the JSON API.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addr returns the listen address of the document store.
func (d DocstoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}
