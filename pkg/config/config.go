// Package config holds the YAML-backed settings for the autokeys runner:
// worker counts, browser placement, and the timeout budget table that the
// login flow enforces.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "20s", "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Timeouts is the budget table for one account's automation run. Total is
// the absolute ceiling; every other wait is clamped to what remains of it.
type Timeouts struct {
	// Total is the end-to-end deadline for a single login attempt.
	Total Duration `yaml:"total"`
	// AuthURL bounds the wait for the subprocess to emit the authorization URL.
	AuthURL Duration `yaml:"auth_url"`
	// SessionJoin bounds the wait for the parallel browser construction to
	// finish after the URL has been captured.
	SessionJoin Duration `yaml:"session_join"`
	// Visibility is the default budget for an element to appear.
	Visibility Duration `yaml:"visibility"`
	// Clickable is the budget for a button to appear before a click step.
	Clickable Duration `yaml:"clickable"`
	// Staleness is the budget for a clicked element to leave the DOM.
	Staleness Duration `yaml:"staleness"`
	// PasswordPage is the budget for the post-identifier composite probe.
	PasswordPage Duration `yaml:"password_page"`
	// Command clamps every single driver command. Must be strictly below
	// Total so one stuck command cannot silently eat the whole budget.
	Command Duration `yaml:"command"`
	// ProcessJoin bounds the wait for the subprocess to exit after the
	// verification code has been submitted.
	ProcessJoin Duration `yaml:"process_join"`
	// PollYield is the pause between full passes of the window poll loop.
	PollYield Duration `yaml:"poll_yield"`
}

// Config is the full runner configuration.
type Config struct {
	// Workers is the size of the account worker pool.
	Workers int `yaml:"workers"`
	// DesiredKeys is the per-account key target; 0 means unlimited.
	DesiredKeys int `yaml:"desired_keys"`
	// LoginAttempts bounds the whole-login retry wrapper. Non-retryable
	// conditions (verification required, interruption) ignore it.
	LoginAttempts int `yaml:"login_attempts"`
	// GcloudPath overrides PATH lookup of the gcloud binary.
	GcloudPath string `yaml:"gcloud_path"`
	// BrowserPath overrides the bundled browser discovery.
	BrowserPath string `yaml:"browser_path"`
	// Headless runs the browser without a visible window.
	Headless bool `yaml:"headless"`
	// WindowSize is "WIDTHxHEIGHT", e.g. "500x700".
	WindowSize string `yaml:"window_size"`
	// WindowPosition is "X,Y". Empty means workers tile the screen
	// automatically from their worker index.
	WindowPosition string `yaml:"window_position"`
	Timeouts       Timeouts `yaml:"timeouts"`
}

// Default returns the configuration used when no file is present. The
// timeout values mirror the budgets the flow was tuned with.
func Default() Config {
	return Config{
		Workers:       4,
		DesiredKeys:   0,
		LoginAttempts: 3,
		WindowSize:    "500x700",
		Timeouts: Timeouts{
			Total:        Duration(60 * time.Second),
			AuthURL:      Duration(20 * time.Second),
			SessionJoin:  Duration(20 * time.Second),
			Visibility:   Duration(20 * time.Second),
			Clickable:    Duration(10 * time.Second),
			Staleness:    Duration(15 * time.Second),
			PasswordPage: Duration(15 * time.Second),
			Command:      Duration(30 * time.Second),
			ProcessJoin:  Duration(10 * time.Second),
			PollYield:    Duration(200 * time.Millisecond),
		},
	}
}

// Load reads the configuration at path, layering it over Default. A missing
// file is not an error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// validateWindowSize rejects anything but WIDTHxHEIGHT with positive
// dimensions. The browser grid placement divides by the window width, so a
// zero dimension must never reach it.
func validateWindowSize(s string) error {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) == 2 {
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW == nil && errH == nil && w > 0 && h > 0 {
			return nil
		}
	}
	return fmt.Errorf("window_size must be WIDTHxHEIGHT with positive dimensions, got %q", s)
}

// Save writes the configuration to path.
func (c Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the flow cannot honor.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.LoginAttempts < 1 {
		return fmt.Errorf("login_attempts must be at least 1, got %d", c.LoginAttempts)
	}
	if c.DesiredKeys < 0 {
		return fmt.Errorf("desired_keys must not be negative, got %d", c.DesiredKeys)
	}
	if c.WindowSize != "" {
		if err := validateWindowSize(c.WindowSize); err != nil {
			return err
		}
	}
	t := c.Timeouts
	if t.Total.Std() <= 0 {
		return fmt.Errorf("timeouts.total must be positive")
	}
	if t.Command.Std() >= t.Total.Std() {
		return fmt.Errorf("timeouts.command (%s) must be strictly below timeouts.total (%s)",
			t.Command.Std(), t.Total.Std())
	}
	if t.PollYield.Std() <= 0 || t.PollYield.Std() > time.Second {
		return fmt.Errorf("timeouts.poll_yield must be within (0s, 1s], got %s", t.PollYield.Std())
	}
	return nil
}
