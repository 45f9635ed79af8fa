package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pipeguard/pipeguard/pkg/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
	}{
		{
			name: "valid full config",
			file: "config.yaml",
			content: `
pipe:
  name: from-file
  max_frame_size: 1048576
  dial_timeout: 2s
crypto:
  enabled: true
  passphrase: correct horse
  salt: battery
identity:
  enforce_same_path: true
logging:
  level: warn
  format: json
  output: stdout
metrics:
  enabled: true
  address: 127.0.0.1:9100
  path: /prom
`,
		},
		{
			name:    "minimal config gets defaults",
			file:    "config.yml",
			content: "pipe:\n  name: minimal\n",
		},
		{
			name:     "wrong extension",
			file:     "config.json",
			content:  "{}",
			wantCode: types.ErrCodeInvalidArgument,
		},
		{
			name:     "empty file",
			file:     "config.yaml",
			content:  "",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "whitespace only",
			file:     "config.yaml",
			content:  "  \n\t\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "invalid syntax",
			file:     "config.yaml",
			content:  "pipe: [unterminated",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "type mismatch",
			file:     "config.yaml",
			content:  "pipe:\n  max_frame_size: lots\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "misspelled identity key",
			file:     "config.yaml",
			content:  "identity:\n  enforce_samepath: true\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "misspelled crypto key",
			file:     "config.yaml",
			content:  "crypto:\n  enable: true\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "unknown section",
			file:     "config.yaml",
			content:  "pipe:\n  name: x\nsecurity:\n  strict: true\n",
			wantCode: types.ErrCodeInvalid,
		},
		{
			name:     "fails validation",
			file:     "config.yaml",
			content:  "logging:\n  level: loud\n",
			wantCode: types.ErrCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			cfg, err := LoadFromFile(path)
			if tt.wantCode != "" {
				if !types.IsErrCode(err, tt.wantCode) {
					t.Fatalf("expected %s error, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromFile failed: %v", err)
			}
			if cfg.Logging.Level == "" || cfg.Pipe.DialTimeout == 0 {
				t.Errorf("defaults were not applied: %s", cfg)
			}
		})
	}
}

func TestLoadFromFileValues(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
pipe:
  name: from-file
  dial_timeout: 2s
crypto:
  passphrase: correct horse
identity:
  enforce_same_path: true
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Pipe.Name != "from-file" {
		t.Errorf("expected pipe name from-file, got %s", cfg.Pipe.Name)
	}
	if cfg.Pipe.DialTimeout != 2*time.Second {
		t.Errorf("expected dial timeout 2s, got %s", cfg.Pipe.DialTimeout)
	}
	if cfg.Pipe.MaxFrameSize != DefaultMaxFrameSize {
		t.Errorf("expected default max frame size, got %d", cfg.Pipe.MaxFrameSize)
	}
	if cfg.Crypto.Passphrase != "correct horse" {
		t.Errorf("unexpected passphrase %q", cfg.Crypto.Passphrase)
	}
	if !cfg.Identity.EnforceSamePath {
		t.Error("expected identity enforcement")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path, got %s", cfg.Metrics.Path)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !types.IsErrCode(err, types.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestLoadFromFileInterpolation(t *testing.T) {
	t.Setenv("PG_TEST_PIPE", "interpolated")
	t.Setenv("PG_TEST_KEY", strings.Repeat("42", KeySize))

	path := writeConfig(t, "config.yaml", `
pipe:
  name: ${PG_TEST_PIPE}
crypto:
  enabled: true
  key: ${PG_TEST_KEY}
logging:
  level: ${PG_TEST_UNSET_LEVEL:-error}
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Pipe.Name != "interpolated" {
		t.Errorf("expected interpolated pipe name, got %s", cfg.Pipe.Name)
	}
	if cfg.Crypto.Key != strings.Repeat("42", KeySize) {
		t.Errorf("key was not interpolated: %s", cfg.Crypto.Key)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected default from placeholder, got %s", cfg.Logging.Level)
	}
}

func TestExpandPlaceholders(t *testing.T) {
	t.Setenv("PG_SET", "value")

	tests := map[string]string{
		"plain":                 "plain",
		"${PG_SET}":             "value",
		"pre-${PG_SET}-post":    "pre-value-post",
		"${PG_UNSET}":           "",
		"${PG_UNSET:-fallback}": "fallback",
		"${PG_SET:-fallback}":   "value",
		"$PG_SET":               "$PG_SET",
		"${PG_SET}${PG_SET}":    "valuevalue",
	}
	for in, want := range tests {
		if got := expandPlaceholders(in); got != want {
			t.Errorf("expandPlaceholders(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFromFileUnknownKeyNamesField(t *testing.T) {
	path := writeConfig(t, "config.yaml", "identity:\n  enforce_samepath: true\ncrypto:\n  enable: true\n")

	_, err := LoadFromFile(path)
	if !types.IsErrCode(err, types.ErrCodeInvalid) {
		t.Fatalf("expected INVALID, got %v", err)
	}
	if !strings.Contains(err.Error(), "enforce_samepath") {
		t.Errorf("error should name the unknown key: %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestLoadFromFileTypedPlaceholders(t *testing.T) {
	t.Setenv("PG_TEST_ENFORCE", "true")
	t.Setenv("PG_TEST_QUOTED", "yes")

	path := writeConfig(t, "config.yaml", `
pipe:
  name: "${PG_TEST_QUOTED}"
  max_frame_size: ${PG_TEST_UNSET_FRAME:-65536}
  dial_timeout: ${PG_TEST_UNSET_DIAL:-750ms}
identity:
  enforce_same_path: ${PG_TEST_ENFORCE}
crypto:
  enabled: ${PG_TEST_UNSET_ENCRYPT:-true}
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Pipe.Name != "yes" {
		t.Errorf("quoted placeholder should stay a string, got %q", cfg.Pipe.Name)
	}
	if cfg.Pipe.MaxFrameSize != 65536 {
		t.Errorf("expected max frame size 65536, got %d", cfg.Pipe.MaxFrameSize)
	}
	if cfg.Pipe.DialTimeout != 750*time.Millisecond {
		t.Errorf("expected dial timeout 750ms, got %s", cfg.Pipe.DialTimeout)
	}
	if !cfg.Identity.EnforceSamePath {
		t.Error("expected identity enforcement from placeholder")
	}
	if !cfg.Crypto.Enabled {
		t.Error("expected encryption from placeholder fallback")
	}
}

func TestLoadFromFileZeroFrameSizeSelectsDefault(t *testing.T) {
	path := writeConfig(t, "config.yaml", "pipe:\n  max_frame_size: 0\n")
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Pipe.FrameLimit() != DefaultMaxFrameSize {
		t.Errorf("expected default bound, got %d", cfg.Pipe.FrameLimit())
	}
}

func TestLoadPathPrecedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "config.yaml", "pipe:\n  name: from-file\nlogging:\n  level: warn\n")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath failed: %v", err)
	}
	if cfg.Pipe.Name != "from-file" {
		t.Errorf("expected file value, got %s", cfg.Pipe.Name)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("environment should override the file, got %s", cfg.Logging.Level)
	}

	if _, err := LoadPath(filepath.Join(t.TempDir(), "missing.yaml")); !types.IsErrCode(err, types.ErrCodeNotFound) {
		t.Errorf("an explicit missing file must fail, got %v", err)
	}
}

func TestLoadUsesDefaultPath(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "config.yaml", "pipe:\n  name: default-location\n")
	SetTestConfigPath(path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipe.Name != "default-location" {
		t.Errorf("expected pipe name from default path, got %s", cfg.Pipe.Name)
	}
}
