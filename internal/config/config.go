package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// Config represents the complete configuration for a pipeguard endpoint
type Config struct {
	Pipe     PipeConfig     `json:"pipe" yaml:"pipe"`
	Crypto   CryptoConfig   `json:"crypto" yaml:"crypto"`
	Identity IdentityConfig `json:"identity" yaml:"identity"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// PipeConfig contains transport configuration
type PipeConfig struct {
	Name         string        `json:"name" yaml:"name"`                     // logical name or full pipe path
	MaxFrameSize int           `json:"max_frame_size" yaml:"max_frame_size"` // bytes; 0 selects the default, negative disables the bound
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// CryptoConfig selects how channel payloads are protected.
// Key takes precedence over Passphrase; with neither set an encrypted
// channel falls back to the compiled-in default key.
type CryptoConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"` // 64 hex characters
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	Salt       string `json:"salt,omitempty" yaml:"salt,omitempty"`
}

// IdentityConfig controls same-executable peer verification
type IdentityConfig struct {
	EnforceSamePath bool `json:"enforce_same_path" yaml:"enforce_same_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// MetricsConfig contains Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// FrameLimit returns the frame size bound in the form the channel expects,
// where 0 means unbounded. An unset size yields DefaultMaxFrameSize.
func (c PipeConfig) FrameLimit() int {
	switch {
	case c.MaxFrameSize < 0:
		return 0
	case c.MaxFrameSize == 0:
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// KeyBytes decodes the configured hex key. It returns nil when no key is set.
func (c CryptoConfig) KeyBytes() ([]byte, error) {
	if c.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(c.Key))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "crypto key is not valid hex", err)
	}
	if len(key) != KeySize {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("crypto key must be %d bytes, got %d", KeySize, len(key)))
	}
	return key, nil
}

// applyDefaults fills zero-valued fields with defaults
func applyDefaults(cfg *Config) {
	defaultPipe := DefaultPipeConfig()
	if cfg.Pipe.Name == "" {
		cfg.Pipe.Name = defaultPipe.Name
	}
	if cfg.Pipe.DialTimeout == 0 {
		cfg.Pipe.DialTimeout = defaultPipe.DialTimeout
	}
	if cfg.Pipe.MaxFrameSize == 0 {
		cfg.Pipe.MaxFrameSize = defaultPipe.MaxFrameSize
	}

	defaultLogging := DefaultLoggingConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogging.Output
	}

	defaultMetrics := DefaultMetricsConfig()
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = defaultMetrics.Address
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetrics.Path
	}
}

// parseBool accepts the same truthy spellings for every boolean variable
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPipeName); v != "" {
		cfg.Pipe.Name = v
	}
	if v := os.Getenv(EnvMaxFrameSize); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvMaxFrameSize, err)
		}
		if size == 0 {
			size = DefaultMaxFrameSize
		}
		cfg.Pipe.MaxFrameSize = size
	}
	if v := os.Getenv(EnvDialTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return types.WrapError(types.ErrCodeInvalidArgument, "invalid "+EnvDialTimeout, err)
		}
		cfg.Pipe.DialTimeout = d
	}

	if v := os.Getenv(EnvEncrypt); v != "" {
		cfg.Crypto.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvKey); v != "" {
		cfg.Crypto.Key = v
		cfg.Crypto.Enabled = true
	}
	if v := os.Getenv(EnvPassphrase); v != "" {
		cfg.Crypto.Passphrase = v
		cfg.Crypto.Enabled = true
	}

	if v := os.Getenv(EnvEnforceSamePath); v != "" {
		cfg.Identity.EnforceSamePath = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvLogOutput); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvMetricsAddress); v != "" {
		cfg.Metrics.Address = v
	}

	return nil
}

// Default returns a configuration populated entirely with defaults
func Default() *Config {
	return &Config{
		Pipe:     DefaultPipeConfig(),
		Crypto:   DefaultCryptoConfig(),
		Identity: DefaultIdentityConfig(),
		Logging:  DefaultLoggingConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// Load creates a new Config by loading defaults, the default config file if
// present, and finally environment variable overrides
func Load() (*Config, error) {
	return LoadPath("")
}

// LoadPath is Load with an explicit config file. An empty path falls back to
// the default location, where a missing file is not an error.
func LoadPath(path string) (*Config, error) {
	var cfg *Config

	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if configPath, err := GetDefaultConfigPath(); err == nil {
		if _, err := os.Stat(configPath); err == nil {
			cfg, err = LoadFromFile(configPath)
			if err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if cfg == nil {
		cfg = Default()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pipe.Name) == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "pipe name cannot be empty")
	}
	if c.Pipe.DialTimeout < 0 {
		return types.NewError(types.ErrCodeInvalidArgument, "dial timeout cannot be negative")
	}

	if _, err := c.Crypto.KeyBytes(); err != nil {
		return err
	}
	if c.Crypto.Salt != "" && c.Crypto.Passphrase == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "crypto salt requires a passphrase")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return types.NewError(types.ErrCodeInvalidArgument, "metrics address cannot be empty when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return types.NewError(types.ErrCodeInvalidArgument, "metrics path must start with /")
		}
	}

	return nil
}

// String returns a string representation of the configuration with secrets redacted
func (c *Config) String() string {
	return fmt.Sprintf("Config{Pipe: %s, Crypto: %s, Identity: %s, Logging: %s, Metrics: %s}",
		c.Pipe, c.Crypto, c.Identity, c.Logging, c.Metrics)
}

func (c PipeConfig) String() string {
	return fmt.Sprintf("PipeConfig{Name: %s, MaxFrameSize: %d, DialTimeout: %s}", c.Name, c.MaxFrameSize, c.DialTimeout)
}

func (c CryptoConfig) String() string {
	source := "default-key"
	switch {
	case c.Key != "":
		source = "explicit-key"
	case c.Passphrase != "":
		source = "passphrase"
	}
	return fmt.Sprintf("CryptoConfig{Enabled: %t, Source: %s}", c.Enabled, source)
}

func (c IdentityConfig) String() string {
	return fmt.Sprintf("IdentityConfig{EnforceSamePath: %t}", c.EnforceSamePath)
}

func (c LoggingConfig) String() string {
	return fmt.Sprintf("LoggingConfig{Level: %s, Format: %s, Output: %s}", c.Level, c.Format, c.Output)
}

func (c MetricsConfig) String() string {
	return fmt.Sprintf("MetricsConfig{Enabled: %t, Address: %s, Path: %s}", c.Enabled, c.Address, c.Path)
}

// OverrideOptions holds command line overrides. Zero values leave the
// loaded configuration untouched.
type OverrideOptions struct {
	PipeName        string
	Encrypt         bool
	Key             string
	Passphrase      string
	EnforceSamePath bool
	LogLevel        string
	LogFormat       string
	LogOutput       string
	MetricsAddress  string
}

// ApplyOverrides applies command line overrides, which take precedence over
// both the config file and the environment
func (c *Config) ApplyOverrides(opts OverrideOptions) {
	if opts.PipeName != "" {
		c.Pipe.Name = opts.PipeName
	}

	if opts.Encrypt {
		c.Crypto.Enabled = true
	}
	if opts.Key != "" {
		c.Crypto.Key = opts.Key
		c.Crypto.Enabled = true
	}
	if opts.Passphrase != "" {
		c.Crypto.Passphrase = opts.Passphrase
		c.Crypto.Enabled = true
	}

	if opts.EnforceSamePath {
		c.Identity.EnforceSamePath = true
	}

	if opts.LogLevel != "" {
		c.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		c.Logging.Format = opts.LogFormat
	}
	if opts.LogOutput != "" {
		c.Logging.Output = opts.LogOutput
	}

	if opts.MetricsAddress != "" {
		c.Metrics.Address = opts.MetricsAddress
		c.Metrics.Enabled = true
	}
}
