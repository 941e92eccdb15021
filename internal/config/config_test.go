package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgmcp.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://alice@localhost/app")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://alice@localhost/app" {
		t.Fatalf("unexpected url %q", cfg.Database.URL)
	}
	if cfg.Database.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected connect timeout %v", cfg.Database.ConnectTimeout)
	}
	if cfg.Server.MaxMessageSize != 1<<20 {
		t.Fatalf("unexpected max message size %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Ops.Listen != "" || cfg.Telemetry.OTLPEndpoint != "" {
		t.Fatalf("ops and telemetry should be disabled by default: %+v", cfg)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://localhost/app")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadFileWithExpansion(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")
	t.Setenv("PGMCP_TEST_PASSWORD", "s3cret")
	path := writeConfig(t, `
database:
  url: postgres://alice:${PGMCP_TEST_PASSWORD}@db:5432/app
  connect_timeout: 3s
ops:
  listen: 127.0.0.1:9090
fetch:
  endpoint: http://flows.internal/api/v1/flow_instances/recent
  timeout: 2s
  requests_per_second: 5
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://alice:s3cret@db:5432/app" {
		t.Fatalf("unexpected url %q", cfg.Database.URL)
	}
	if cfg.Database.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected connect timeout %v", cfg.Database.ConnectTimeout)
	}
	if cfg.Ops.Listen != "127.0.0.1:9090" {
		t.Fatalf("unexpected ops listen %q", cfg.Ops.Listen)
	}
	if cfg.Fetch.Timeout != 2*time.Second || cfg.Fetch.RequestsPerSecond != 5 || cfg.Fetch.Burst != 4 {
		t.Fatalf("unexpected fetch config %+v", cfg.Fetch)
	}
	if !cfg.Fetch.Enabled {
		t.Fatal("fetch should stay enabled")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://env@db/app")
	path := writeConfig(t, "database:\n  url: postgres://file@db/app\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://env@db/app" {
		t.Fatalf("env should win, got %q", cfg.Database.URL)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error without a database url")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Setenv(DatabaseURLEnv, "postgres://localhost/app")
	path := writeConfig(t, "database: [\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsNegative(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.URL = "postgres://localhost/app"
	cfg.Fetch.RequestsPerSecond = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
