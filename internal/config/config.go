// internal/config/config.go
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vv/internal/fsutil"
)

// FileName is the repository configuration file inside the .vv directory.
const FileName = "config.toml"

type Config struct {
	User struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"user"`

	Log struct {
		Level string `toml:"level"` // debug, info, warn, error
	} `toml:"log"`

	Storage struct {
		CacheSize int `toml:"cache_size"`
	} `toml:"storage"`

	Lock struct {
		Timeout Duration `toml:"timeout"`
	} `toml:"lock"`

	Diff struct {
		Algorithm    string `toml:"algorithm"` // myers, lcs, simple
		ContextLines int    `toml:"context_lines"`
	} `toml:"diff"`

	Merge struct {
		BasePolicy  string `toml:"base_policy"` // full, first-parent
		FastForward bool   `toml:"fast_forward"`
		Strategy    string `toml:"strategy"` // three-way, ours, theirs
	} `toml:"merge"`
}

// Duration is a time.Duration that round-trips through TOML as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func Default() *Config {
	var c Config
	c.Log.Level = "info"
	c.Storage.CacheSize = 256
	c.Lock.Timeout = Duration{3 * time.Second}
	c.Diff.Algorithm = "myers"
	c.Diff.ContextLines = 3
	c.Merge.BasePolicy = "full"
	c.Merge.Strategy = "three-way"
	return &c
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VV_AUTHOR_NAME"); v != "" {
		c.User.Name = v
	}
	if v := os.Getenv("VV_AUTHOR_EMAIL"); v != "" {
		c.User.Email = v
	}
	if v := os.Getenv("VV_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Save writes c to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("storage.cache_size must be positive, got %d", c.Storage.CacheSize)
	}
	if c.Lock.Timeout.Duration < 0 {
		return fmt.Errorf("lock.timeout must not be negative")
	}
	switch c.Diff.Algorithm {
	case "myers", "lcs", "simple":
	default:
		return fmt.Errorf("invalid diff.algorithm %q", c.Diff.Algorithm)
	}
	if c.Diff.ContextLines < 0 {
		return fmt.Errorf("diff.context_lines must not be negative")
	}
	switch c.Merge.BasePolicy {
	case "full", "first-parent":
	default:
		return fmt.Errorf("invalid merge.base_policy %q", c.Merge.BasePolicy)
	}
	switch c.Merge.Strategy {
	case "three-way", "ours", "theirs":
	default:
		return fmt.Errorf("invalid merge.strategy %q", c.Merge.Strategy)
	}
	return nil
}
