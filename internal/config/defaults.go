package config

import (
	"os"
	"path/filepath"
	"time"
)

// testConfigPath is an override for the default config path used in testing
// If set, GetDefaultConfigPath will return this value instead of the standard path
var testConfigPath string

// SetTestConfigPath sets a custom config path for testing purposes
// This should only be called from tests
func SetTestConfigPath(path string) {
	testConfigPath = path
}

// GetConfigDir returns the pipeguard configuration directory
// Uses ~/.config/pipeguard/ on Unix systems
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "pipeguard"), nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() (string, error) {
	if testConfigPath != "" {
		return testConfigPath, nil
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

const (
	// Environment variable names
	EnvPipeName        = "PIPEGUARD_PIPE_NAME"
	EnvMaxFrameSize    = "PIPEGUARD_MAX_FRAME_SIZE"
	EnvDialTimeout     = "PIPEGUARD_DIAL_TIMEOUT"
	EnvEncrypt         = "PIPEGUARD_ENCRYPT"
	EnvKey             = "PIPEGUARD_KEY"
	EnvPassphrase      = "PIPEGUARD_PASSPHRASE"
	EnvEnforceSamePath = "PIPEGUARD_ENFORCE_SAME_PATH"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvLogOutput       = "LOG_OUTPUT"
	EnvMetricsEnabled  = "PIPEGUARD_METRICS_ENABLED"
	EnvMetricsAddress  = "PIPEGUARD_METRICS_ADDR"
)

const (
	// KeySize is the length of a channel key in bytes
	KeySize = 32

	DefaultPipeName     = "pipeguard"
	DefaultMaxFrameSize = 16 << 20
	DefaultDialTimeout  = 5 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultMetricsAddr  = "127.0.0.1:9464"
)

// DefaultPipeConfig returns the default transport configuration
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		Name:         DefaultPipeName,
		MaxFrameSize: DefaultMaxFrameSize,
		DialTimeout:  DefaultDialTimeout,
	}
}

// DefaultCryptoConfig returns the default crypto configuration (plaintext)
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{}
}

// DefaultIdentityConfig returns the default identity configuration
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// DefaultLoggingConfig returns the default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  DefaultLogLevel,
		Format: DefaultLogFormat,
		Output: "stderr",
	}
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Address: DefaultMetricsAddr,
		Path:    "/metrics",
	}
}
