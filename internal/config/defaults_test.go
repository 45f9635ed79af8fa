package config

import (
	"path/filepath"
	"testing"
)

// TestDefaultMetricsConfig verifies metrics are opt-in and bound to loopback
func TestDefaultMetricsConfig(t *testing.T) {
	config := DefaultMetricsConfig()

	if config.Enabled {
		t.Errorf("Expected metrics to be disabled by default")
	}
	if config.Address != DefaultMetricsAddr {
		t.Errorf("Expected Address to be %s, got %s", DefaultMetricsAddr, config.Address)
	}
	if config.Path != "/metrics" {
		t.Errorf("Expected Path to be /metrics, got %s", config.Path)
	}
}

func TestDefaultLoggingConfig(t *testing.T) {
	config := DefaultLoggingConfig()

	if config.Level != DefaultLogLevel || config.Format != DefaultLogFormat {
		t.Errorf("Unexpected logging defaults: %+v", config)
	}
	if config.Output != "stderr" {
		t.Errorf("Expected Output to be stderr, got %s", config.Output)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	override := filepath.Join(t.TempDir(), "override.yaml")
	SetTestConfigPath(override)
	defer SetTestConfigPath("")

	path, err := GetDefaultConfigPath()
	if err != nil {
		t.Fatalf("GetDefaultConfigPath failed: %v", err)
	}
	if path != override {
		t.Errorf("Expected test override %s, got %s", override, path)
	}
}
