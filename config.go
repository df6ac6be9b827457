package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/classic"
	"github.com/gregLibert/farecard/pkg/keys"
)

// Config is the YAML configuration of the reader tool. Command-line flags override it.
type Config struct {
	// Reader selects the first PC/SC reader whose name contains it. Empty means the
	// first reader.
	Reader string `yaml:"reader"`

	// Database is the SQLite file cards and keys are stored in.
	Database string `yaml:"database"`

	// Technology forces a driver ("desfire", "cepas", "classic", "felica") instead
	// of probing the card.
	Technology string `yaml:"technology"`

	// ClassicSize applies when the card is forced to "classic" ("classic-1k", ...).
	ClassicSize string `yaml:"classic_size"`

	// Family labels key bundles remembered for sector-memory cards.
	Family string `yaml:"family"`

	Wait     time.Duration `yaml:"wait"`
	LogLevel string        `yaml:"log_level"`

	KeyCache KeyCacheConfig `yaml:"key_cache"`

	// Dumps are key dumps imported before reading.
	Dumps []DumpConfig `yaml:"dumps"`
}

type KeyCacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// DumpConfig names a raw key dump (6 bytes per sector) for one tag.
type DumpConfig struct {
	Tag  string `yaml:"tag"`
	File string `yaml:"file"`
	Kind string `yaml:"kind"`
}

func defaultConfig() Config {
	return Config{
		Database: "farecard.db",
		Wait:     30 * time.Second,
		LogLevel: "info",
		KeyCache: KeyCacheConfig{Size: 64, TTL: 10 * time.Minute},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error unless
// required is set.
func loadConfig(path string, required bool) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Technology != "" {
		if _, err := card.ParseTechnology(c.Technology); err != nil {
			return fmt.Errorf("technology: %w", err)
		}
	}
	if c.ClassicSize != "" {
		if _, err := parseClassicSize(c.ClassicSize); err != nil {
			return err
		}
	}
	if c.KeyCache.Size <= 0 {
		return fmt.Errorf("key_cache.size must be positive, got %d", c.KeyCache.Size)
	}
	for i, d := range c.Dumps {
		if _, err := card.ParseTagID(d.Tag); err != nil || d.Tag == "" {
			return fmt.Errorf("dumps[%d].tag %q is not a hex tag id", i, d.Tag)
		}
		if d.File == "" {
			return fmt.Errorf("dumps[%d].file is required", i)
		}
		if d.Kind != "" {
			if _, err := keys.ParseKeyKind(d.Kind); err != nil {
				return fmt.Errorf("dumps[%d].kind: %w", i, err)
			}
		}
	}
	return nil
}

func parseClassicSize(s string) (classic.Size, error) {
	for _, size := range []classic.Size{classic.Mini, classic.K1, classic.K2, classic.K4} {
		if size.String() == s {
			return size, nil
		}
	}
	return 0, fmt.Errorf("unknown classic size %q", s)
}
