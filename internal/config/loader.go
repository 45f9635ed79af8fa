package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pipeguard/pipeguard/pkg/types"
)

// placeholderPattern matches ${NAME} and ${NAME:-fallback}
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandPlaceholders substitutes environment values into s. An unset or
// empty variable yields its fallback, or nothing when there is none.
func expandPlaceholders(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		if v := os.Getenv(sub[1]); v != "" {
			return v
		}
		return sub[2]
	})
}

// LoadFromFile reads a YAML config file. Placeholders are expanded in every
// scalar value, so "${PIPEGUARD_KEY}" and "${MAX_FRAME:-65536}" both work.
// A key that names no config field is an error.
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("config file %q must end in .yaml or .yml", path))
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, types.WrapError(types.ErrCodeNotFound, "config file not found: "+path, err)
	case err != nil:
		return nil, types.WrapError(types.ErrCodeIO, "failed to read config file "+path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "invalid YAML in "+path, err)
	}
	if len(doc.Content) == 0 {
		return nil, types.NewError(types.ErrCodeInvalid, "config file has no content: "+path)
	}
	expandNode(&doc)

	cfg, err := decodeStrict(&doc)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "failed to decode "+path, err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "invalid configuration in "+path, err)
	}
	return cfg, nil
}

// expandNode rewrites placeholder values in place; mapping keys are left
// alone. An expanded plain scalar drops its resolved tag so the new text is
// typed again on decode and "${ENCRYPT:-true}" can fill a bool.
func expandNode(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		v := expandPlaceholders(n.Value)
		if v == n.Value {
			return
		}
		n.Value = v
		if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
			n.Tag = ""
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			expandNode(n.Content[i])
		}
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			expandNode(c)
		}
	}
}

// decodeStrict decodes the expanded document into a Config, failing on
// unknown keys. Node.Decode has no strict mode, hence the round trip
// through the encoder.
func decodeStrict(doc *yaml.Node) (*Config, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
