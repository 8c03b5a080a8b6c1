package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hallamshaw/lumen-core/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("LUMEN_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StartupAndShutdown exercises a full boot and clean shutdown
// with the optional integrations disabled. Port 0 lets the kernel pick
// a free API port.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lumen.db")

	configPath := writeConfig(t, `
site:
  id: test-site

database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
  autosave_interval: 1

modules:
  - id: pulse
    kind: timer
    enabled: true
    settings:
      interval_ms: 50

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

api:
  host: "127.0.0.1"
  port: 0
`)
	t.Setenv("LUMEN_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_BadModuleKind verifies a config declaring an unknown module
// kind fails startup.
func TestRun_BadModuleKind(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lumen.db")

	configPath := writeConfig(t, `
site:
  id: test-site

database:
  path: "`+dbPath+`"

modules:
  - id: mystery
    kind: does-not-exist
    enabled: true

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

api:
  host: "127.0.0.1"
  port: 0
`)
	t.Setenv("LUMEN_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail for unknown module kind")
	}
}

// TestGetConfigPath_Default verifies the default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("LUMEN_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("LUMEN_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestModuleSpecs(t *testing.T) {
	cfg := &config.Config{
		Modules: []config.ModuleConfig{
			{ID: "pulse", Kind: "timer", Enabled: true, Settings: map[string]any{"interval_ms": 100}},
			{ID: "echo", Kind: "loopback", Settings: map[string]any{"event": "echo.out"}},
		},
	}
	specs := moduleSpecs(cfg)

	if len(specs) != 2 {
		t.Fatalf("moduleSpecs() returned %d specs, want 2", len(specs))
	}
	if specs[0].ID != "pulse" || specs[0].Kind != "timer" || !specs[0].Enabled {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Settings["event"] != "echo.out" {
		t.Errorf("specs[1].Settings = %+v", specs[1].Settings)
	}
}
