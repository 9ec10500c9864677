package personas

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// StoreConfig configures where the persona store's append-structured file
// lives and how long match results may be cached. Loaded through viper so
// flags, environment variables, and a config file layer the usual way
// (flags > env > file > defaults).
type StoreConfig struct {
	Path     string        `mapstructure:"path"`
	SeedDir  string        `mapstructure:"seed_dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LoadStoreConfig reads persona store settings from v, applying defaults
// for anything unset.
func LoadStoreConfig(v *viper.Viper) (*StoreConfig, error) {
	v.SetDefault("personas.path", "data/personas.store")
	v.SetDefault("personas.seed_dir", "")
	v.SetDefault("personas.cache_ttl", time.Hour)

	cfg := &StoreConfig{
		Path:     v.GetString("personas.path"),
		SeedDir:  v.GetString("personas.seed_dir"),
		CacheTTL: v.GetDuration("personas.cache_ttl"),
	}
	if cfg.Path == "" {
		return nil, NewConfigError("", "personas", "path", fmt.Errorf("persona store path is required"))
	}
	return cfg, nil
}

// LoadSeedPersonas reads a directory of "one YAML document per file" seed
// personas, the format an operator hand-writes a starter catalog in. Each
// file's base name (without extension) becomes the seed's suggested id if
// the document doesn't set one explicitly.
func LoadSeedPersonas(dir string) ([]Persona, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read seed directory %s: %w", dir, err)
	}

	var seeds []Persona
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewConfigError(path, "", "", fmt.Errorf("read seed file: %w", err))
		}
		var p Persona
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, NewConfigError(path, "", "", fmt.Errorf("parse seed file: %w", err))
		}
		if err := validateSeed(&p); err != nil {
			return nil, NewConfigError(path, "", "", err)
		}
		if p.ID == "" {
			p.ID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		seeds = append(seeds, p)
	}
	return seeds, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func validateSeed(p *Persona) error {
	if p.Role == "" {
		return fmt.Errorf("role is required")
	}
	if p.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	return nil
}

// SeedStore inserts every persona in dir into store, collapsing into
// existing records where DNA already matches. Intended to be called once
// at startup against an otherwise-empty store.
func SeedStore(store *Store, dir string) (int, error) {
	seeds, err := LoadSeedPersonas(dir)
	if err != nil {
		return 0, err
	}
	for _, seed := range seeds {
		if _, err := store.Insert(seed); err != nil {
			return 0, fmt.Errorf("seed persona (role=%s domain=%s): %w", seed.Role, seed.Domain, err)
		}
	}
	return len(seeds), nil
}
