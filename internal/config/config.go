package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ObservabilityConfig is the one features.yaml section this engine reads:
// where the Prometheus endpoint (cmd/orchestratord) listens, plus a
// logging level/format. Only Metrics.Port is used by the process (via
// MetricsPort); the zap logger takes its level from the log_level setting
// instead of from this section.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled  bool   `mapstructure:"enabled"`
		Provider string `mapstructure:"provider"`
		Port     int    `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Features is the top-level features.yaml schema. A single-process local
// engine has no per-tenant budget, tool-workflow, or gateway surface, so
// unlike the multi-tenant platform this schema was distilled from, it
// carries only the observability knobs an operator actually tunes.
type Features struct {
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Load reads features.yaml from CONFIG_PATH, or /app/config/features.yaml
// if present, or config/features.yaml otherwise.
func Load() (*Features, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("/app/config/features.yaml"); err == nil {
			cfgPath = "/app/config/features.yaml"
		} else {
			cfgPath = "config/features.yaml"
		}
	}

	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "features.yaml")
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
	}
	var f Features
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &f, nil
}

// MetricsPort returns the configured Prometheus port, preferring the
// METRICS_PORT env override, then features.yaml, then defaultPort.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	if f, err := Load(); err == nil && f.Observability.Metrics.Port > 0 {
		return f.Observability.Metrics.Port
	}
	return defaultPort
}
