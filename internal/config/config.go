package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Fingerprint modes for change detection.
const (
	FingerprintStat    = "stat"
	FingerprintContent = "content"
)

type Config struct {
	Store StoreConfig `toml:"store"`
	Audit AuditConfig `toml:"audit"`
	Log   LogConfig   `toml:"log"`
}

type StoreConfig struct {
	Path          string   `toml:"path"`
	FlushInterval Duration `toml:"flush_interval"`
	Debounce      Duration `toml:"debounce"`
	Fingerprint   string   `toml:"fingerprint"`
	Serialize     bool     `toml:"serialize"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string in TOML ("250ms", "1s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path:          "~/.jsonkv/data.json",
			FlushInterval: Duration{time.Second},
			Debounce:      Duration{100 * time.Millisecond},
			Fingerprint:   FingerprintStat,
		},
		Audit: AuditConfig{
			Path: "~/.jsonkv/audit.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, the default location is tried and defaults are returned
// when it does not exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.jsonkv/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values that TOML decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path must not be empty"))
	}
	if c.Store.FlushInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("store.flush_interval must be positive, got %s", c.Store.FlushInterval))
	}
	if c.Store.Debounce.Duration <= 0 {
		errs = append(errs, fmt.Errorf("store.debounce must be positive, got %s", c.Store.Debounce))
	}
	switch c.Store.Fingerprint {
	case FingerprintStat, FingerprintContent:
	default:
		errs = append(errs, fmt.Errorf("store.fingerprint must be %q or %q, got %q",
			FingerprintStat, FingerprintContent, c.Store.Fingerprint))
	}
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		errs = append(errs, errors.New("audit.path is required when audit is enabled"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
