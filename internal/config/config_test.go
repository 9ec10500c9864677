package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFeaturesYAML(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "features.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write features.yaml: %v", err)
	}
	return path
}

func TestLoadParsesObservabilitySection(t *testing.T) {
	dir := t.TempDir()
	path := writeFeaturesYAML(t, dir, `
observability:
  metrics:
    enabled: true
    provider: prometheus
    port: 9191
  logging:
    level: debug
    format: json
`)
	t.Setenv("CONFIG_PATH", path)

	f, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !f.Observability.Metrics.Enabled {
		t.Error("expected metrics.enabled to be true")
	}
	if f.Observability.Metrics.Port != 9191 {
		t.Errorf("expected metrics.port 9191, got %d", f.Observability.Metrics.Port)
	}
	if f.Observability.Logging.Level != "debug" {
		t.Errorf("expected logging.level debug, got %s", f.Observability.Logging.Level)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestMetricsPortEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	t.Setenv("METRICS_PORT", "9999")

	if got := MetricsPort(9090); got != 9999 {
		t.Errorf("expected env override 9999, got %d", got)
	}
}

func TestMetricsPortFallsBackToDefault(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	if got := MetricsPort(9090); got != 9090 {
		t.Errorf("expected default 9090, got %d", got)
	}
}

func TestMetricsPortFromFeaturesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFeaturesYAML(t, dir, `
observability:
  metrics:
    port: 7070
`)
	t.Setenv("CONFIG_PATH", path)

	if got := MetricsPort(9090); got != 7070 {
		t.Errorf("expected port from file 7070, got %d", got)
	}
}
