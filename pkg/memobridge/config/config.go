// Package config holds the bridge configuration: YAML file with defaults
// overlay, .env loading, and the OS-keyring secret chain.
package config

import "path/filepath"

// Config is the full bridge configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Logging  LoggingConfig  `yaml:"logging"`
	Recap    RecapConfig    `yaml:"recap"`
	Contacts ContactsConfig `yaml:"contacts"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APISecretHash is the bcrypt hash of the bearer token required on
	// webhook and tool-call requests. The raw secret never lives in config;
	// it is resolved through the keyring chain.
	APISecretHash string `yaml:"api_secret_hash"`

	// RateLimitPerMinute caps requests per client IP. Zero disables.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// DataConfig locates the on-disk state.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// RecapConfig tunes the per-uid recap debounce.
type RecapConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
	MaxPending int `yaml:"max_pending"`
}

// ContactsConfig tunes the bounded wait for directory sync.
type ContactsConfig struct {
	WaitRetries int `yaml:"wait_retries"`
	WaitDelayMs int `yaml:"wait_delay_ms"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8090,
			RateLimitPerMinute: 60,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Recap: RecapConfig{
			DebounceMs: 3000,
			MaxPending: 10,
		},
		Contacts: ContactsConfig{
			WaitRetries: 10,
			WaitDelayMs: 2000,
		},
	}
}

// SessionsDir is where per-uid auth material and directories live.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Data.Dir, "sessions")
}

// ArchiveDir receives pre-teardown snapshots of user data.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Data.Dir, "sessions-archive")
}

// RemindersPath is the reminder scheduler's storage file.
func (c *Config) RemindersPath() string {
	return filepath.Join(c.Data.Dir, "reminders.json")
}
