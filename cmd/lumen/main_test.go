package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
	"github.com/nerrad567/lumen-core/internal/infrastructure/logging"
)

// writeConfig writes a config file with the given persistence section and
// points LUMEN_CONFIG at it. Discovery, MQTT, InfluxDB and the API are off
// so run needs nothing from the network.
func writeConfig(t *testing.T, dir, persistence string) {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  id: test-site

discovery:
  enabled: false

connection:
  prober: tcp
  operation_timeout: 500ms
  probe_interval: 1h
  probe_timeout: 1s
  reconnect_initial: 10ms
  reconnect_max: 50ms

` + persistence + `

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("LUMEN_CONFIG", path)
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("LUMEN_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing LUMEN_CONFIG file")
	}
}

func TestRun_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("site: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LUMEN_CONFIG", path)

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should fail with malformed YAML")
	}
}

func TestRun_InvalidPersistenceBackend(t *testing.T) {
	writeConfig(t, t.TempDir(), `
persistence:
  backend: postgres
`)

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail with an unknown backend")
	}
	if !strings.Contains(err.Error(), "persistence.backend") {
		t.Errorf("error = %v, want mention of persistence.backend", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("LUMEN_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("LUMEN_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv("LUMEN_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if path != "(defaults)" {
		t.Errorf("path = %q, want (defaults)", path)
	}
	if !cfg.Discovery.Enabled {
		t.Error("default config should enable discovery")
	}
}

func TestRun_JSONBackendPersistsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	devices := filepath.Join(dir, "devices.json")
	writeConfig(t, dir, `
persistence:
  backend: json
  file: "`+devices+`"
  merge_policy: prefer_persisted
`)

	// A persisted light whose address refuses connections: run must keep
	// retrying in the background and still shut down cleanly.
	seed := `[{"id": "0x0000000000000015", "ip": "127.0.0.1", "port": ` +
		strconv.Itoa(closedPort(t)) + `, "name": "desk"}]`
	if err := os.WriteFile(devices, []byte(seed), 0o600); err != nil {
		t.Fatalf("write devices: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}

	saved, err := os.ReadFile(devices)
	if err != nil {
		t.Fatalf("read devices: %v", err)
	}
	if !strings.Contains(string(saved), `"desk"`) {
		t.Errorf("saved list = %s, want the seeded light", saved)
	}
}

func TestRun_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "lumen.db")
	writeConfig(t, dir, `
persistence:
  backend: sqlite
  merge_policy: prefer_discovered

database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenStore_History(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	tests := []struct {
		name        string
		backend     string
		retention   time.Duration
		wantHistory bool
	}{
		{"sqlite with retention", "sqlite", time.Hour, true},
		{"sqlite without retention", "sqlite", 0, false},
		{"json", "json", time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := config.Default()
			cfg.Persistence.Backend = tt.backend
			cfg.Persistence.File = filepath.Join(dir, "devices.json")
			cfg.Persistence.HistoryRetention = tt.retention
			cfg.Database.Path = filepath.Join(dir, "lumen.db")

			st, err := openStore(context.Background(), cfg, log)
			if err != nil {
				t.Fatalf("openStore() error: %v", err)
			}
			defer st.close()

			if got := st.history != nil; got != tt.wantHistory {
				t.Errorf("history enabled = %v, want %v", got, tt.wantHistory)
			}
			if st.history == nil {
				return
			}

			// The loop prunes once, then returns on cancellation.
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				pruneHistory(ctx, st.history, tt.retention, log)
			}()
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("pruneHistory did not return after cancel")
			}
		})
	}
}
