package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

type unmarshalFunc func(data []byte, v any) error

// Non-JSON inputs are re-encoded as JSON so one strict decoder handles
// every format.
var unmarshalers = map[string]unmarshalFunc{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".toml": toml.Unmarshal,
}

// Decode parses data, picking the format from the extension of path.
// Unknown fields and trailing documents are errors.
func Decode(path string, data []byte) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if fn, ok := unmarshalers[ext]; ok {
		var tree any
		if err := fn(data, &tree); err != nil {
			return nil, fmt.Errorf("%s: %w", strings.TrimPrefix(ext, "."), err)
		}
		j, err := json.Marshal(stringKeys(tree))
		if err != nil {
			return nil, fmt.Errorf("%s: re-encode: %w", strings.TrimPrefix(ext, "."), err)
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == nil:
		return nil, errors.New("decode config: trailing data")
	case err != io.EOF:
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// stringKeys rewrites map[any]any nodes so the tree is JSON-encodable.
func stringKeys(node any) any {
	switch x := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i, v := range x {
			x[i] = stringKeys(v)
		}
		return x
	}
	return node
}

// ParseDurationField parses an optional non-negative duration. Empty is zero.
// Errors carry the field path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for
// empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
