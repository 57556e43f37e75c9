// Package config loads service configuration from YAML, the environment and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncConfig controls feed fetching and sweeps.
type SyncConfig struct {
	// Interval between scheduled sweeps.
	Interval time.Duration `yaml:"interval"`
	// FetchTimeout bounds a single feed download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	UserAgent    string        `yaml:"user_agent"`
	// Concurrency is the number of feeds synced in parallel within one sweep.
	Concurrency      int   `yaml:"concurrency"`
	ConditionalFetch *bool `yaml:"conditional_fetch"`
	MaxBodyBytes     int64 `yaml:"max_body_bytes"`
	// BreakerFailures consecutive host failures open the fetch circuit breaker.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ReservationConfig controls how booking events map onto reservations.
type ReservationConfig struct {
	// DefaultGuestCount is stored on new reservations; feeds carry no party size.
	DefaultGuestCount int `yaml:"default_guest_count"`
	// AllowUncancel lets a feed move a CANCELLED reservation back to CONFIRMED.
	AllowUncancel *bool `yaml:"allow_uncancel"`
}

// Config is the top-level service configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	// Timezone is used for date-only and floating feed values.
	Timezone     string            `yaml:"timezone"`
	Sync         SyncConfig        `yaml:"sync"`
	Reservations ReservationConfig `yaml:"reservations"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = ":8099"
	}
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = 30 * time.Second
	}
	if c.Sync.UserAgent == "" {
		c.Sync.UserAgent = "RentalFeedSync/1.0"
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.ConditionalFetch == nil {
		c.Sync.ConditionalFetch = boolPtr(true)
	}
	if c.Sync.MaxBodyBytes == 0 {
		c.Sync.MaxBodyBytes = 10 << 20
	}
	if c.Sync.BreakerFailures == 0 {
		c.Sync.BreakerFailures = 5
	}
	if c.Sync.BreakerCooldown == 0 {
		c.Sync.BreakerCooldown = time.Minute
	}
	if c.Reservations.DefaultGuestCount == 0 {
		c.Reservations.DefaultGuestCount = 2
	}
	if c.Reservations.AllowUncancel == nil {
		c.Reservations.AllowUncancel = boolPtr(true)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive, got %s", c.Sync.FetchTimeout)
	}
	if c.Sync.FetchTimeout >= c.Sync.Interval {
		return fmt.Errorf("sync.fetch_timeout (%s) must be shorter than sync.interval (%s)", c.Sync.FetchTimeout, c.Sync.Interval)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.MaxBodyBytes < 1 {
		return fmt.Errorf("sync.max_body_bytes must be positive, got %d", c.Sync.MaxBodyBytes)
	}
	if c.Sync.BreakerCooldown <= 0 {
		return fmt.Errorf("sync.breaker_cooldown must be positive, got %s", c.Sync.BreakerCooldown)
	}
	if c.Reservations.DefaultGuestCount < 1 {
		return fmt.Errorf("reservations.default_guest_count must be at least 1, got %d", c.Reservations.DefaultGuestCount)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConditionalFetchEnabled reports whether entity tags are sent upstream.
func (c *Config) ConditionalFetchEnabled() bool {
	return c.Sync.ConditionalFetch == nil || *c.Sync.ConditionalFetch
}

// UncancelAllowed reports whether feeds may revive cancelled reservations.
func (c *Config) UncancelAllowed() bool {
	return c.Reservations.AllowUncancel == nil || *c.Reservations.AllowUncancel
}

// Load reads the YAML file at path (a missing file is not an error), applies
// FEEDSYNC_* environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}
	integer := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(key string, dst **bool) error {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = &b
		}
		return nil
	}

	str("FEEDSYNC_LISTEN", &c.Listen)
	str("FEEDSYNC_DATA_DIR", &c.DataDir)
	str("FEEDSYNC_LOG_LEVEL", &c.LogLevel)
	str("FEEDSYNC_TIMEZONE", &c.Timezone)
	str("FEEDSYNC_USER_AGENT", &c.Sync.UserAgent)

	for _, err := range []error{
		dur("FEEDSYNC_SYNC_INTERVAL", &c.Sync.Interval),
		dur("FEEDSYNC_FETCH_TIMEOUT", &c.Sync.FetchTimeout),
		integer("FEEDSYNC_SYNC_CONCURRENCY", &c.Sync.Concurrency),
		boolean("FEEDSYNC_CONDITIONAL_FETCH", &c.Sync.ConditionalFetch),
		integer("FEEDSYNC_DEFAULT_GUEST_COUNT", &c.Reservations.DefaultGuestCount),
		boolean("FEEDSYNC_ALLOW_UNCANCEL", &c.Reservations.AllowUncancel),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
