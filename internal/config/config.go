package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseURLEnv overrides database.url when set.
const DatabaseURLEnv = "DATABASE_URL"

// Config represents the application configuration loaded from YAML.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Ops       OpsConfig       `yaml:"ops"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig locates the PostgreSQL server.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ServerConfig identifies the MCP server to clients.
type ServerConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Manifest string `yaml:"manifest"`
	// MaxMessageSize bounds one inbound JSON-RPC line in bytes.
	MaxMessageSize int `yaml:"max_message_size"`
}

// OpsConfig controls the health and metrics listener. An empty Listen
// disables it.
type OpsConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig controls OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// FetchConfig configures the flow instance fetch tool.
type FetchConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Endpoint          string        `yaml:"endpoint"`
	InstanceBaseURL   string        `yaml:"instance_base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// AuditConfig records every statement run by the query tool. An empty
// path writes to stderr.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from the supplied path or returns defaults.
// ${VAR} references in the file are expanded before parsing, and the
// DATABASE_URL environment variable always wins over the file.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv(DatabaseURLEnv)); v != "" {
		cfg.Database.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database url required: set %s or database.url", DatabaseURLEnv)
	}
	if c.Database.ConnectTimeout < 0 {
		return errors.New("database.connect_timeout must not be negative")
	}
	if c.Server.MaxMessageSize < 0 {
		return errors.New("server.max_message_size must not be negative")
	}
	if c.Fetch.Timeout < 0 {
		return errors.New("fetch.timeout must not be negative")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return errors.New("fetch.requests_per_second must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			ConnectTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Name:           "pgmcp",
			MaxMessageSize: 1 << 20,
		},
		Fetch: FetchConfig{
			Enabled:           true,
			Endpoint:          "http://host.docker.local:5000/api/v1/flow_instances/recent",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
