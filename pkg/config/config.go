// Package config loads and validates focuskit configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full kit configuration. Zero values fall back to the
// defaults applied by Default and the per-package defaults downstream.
type Config struct {
	// OAuth2 client registration.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`

	// Endpoint overrides, normally left empty.
	APIBaseURL   string `yaml:"api_base_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`
	AuthorizeURL string `yaml:"authorize_url,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
}

// RateLimitConfig tunes the sliding-window limiter.
type RateLimitConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the configured window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RefreshConfig tunes the token refresh flow.
type RefreshConfig struct {
	ThresholdMinutes int `yaml:"threshold_minutes"`
	LockTTLSeconds   int `yaml:"lock_ttl_seconds"`
	LockPollMillis   int `yaml:"lock_poll_millis"`
	LockWaitSeconds  int `yaml:"lock_wait_seconds"`
}

// Threshold returns the refresh threshold as a duration.
func (c RefreshConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdMinutes) * time.Minute
}

// RedisConfig locates the cache/lock backend. An empty Addr disables redis;
// the kit then runs with the in-memory cache and the in-process lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DatabaseConfig locates the durable token store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table,omitempty"`
}

// Default returns a configuration with the Teamleader Focus defaults filled
// in. Credentials are intentionally left empty.
func Default() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Limit:         200,
			WindowSeconds: 60,
		},
		Refresh: RefreshConfig{
			ThresholdMinutes: 15,
			LockTTLSeconds:   60,
			LockPollMillis:   500,
			LockWaitSeconds:  30,
		},
	}
}

// Load reads a YAML file, layering it over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ValidationError aggregates every field problem found, so a misconfigured
// deployment reports all of them at once instead of one per restart.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration for a production deployment.
func (c Config) Validate() error {
	var problems []string

	if c.ClientID == "" {
		problems = append(problems, "client_id is required")
	}
	if c.ClientSecret == "" {
		problems = append(problems, "client_secret is required")
	}
	if c.RateLimit.Limit <= 0 {
		problems = append(problems, "rate_limit.limit must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		problems = append(problems, "rate_limit.window_seconds must be positive")
	}
	if c.Refresh.ThresholdMinutes <= 0 {
		problems = append(problems, "refresh.threshold_minutes must be positive")
	}
	if c.Refresh.LockTTLSeconds <= 0 {
		problems = append(problems, "refresh.lock_ttl_seconds must be positive")
	}
	if c.Refresh.LockPollMillis <= 0 {
		problems = append(problems, "refresh.lock_poll_millis must be positive")
	}
	if c.Refresh.LockWaitSeconds <= 0 {
		problems = append(problems, "refresh.lock_wait_seconds must be positive")
	}
	if wait := c.Refresh.LockWaitSeconds; wait > 0 && c.Refresh.LockTTLSeconds < wait {
		problems = append(problems, "refresh.lock_ttl_seconds must not be shorter than refresh.lock_wait_seconds")
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		problems = append(problems, "database.driver is required when database.dsn is set")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
