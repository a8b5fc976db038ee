package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk encoding of a vigil config file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the decoder from the file extension. Anything that is not
// .yaml/.yml is read as JSON.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a vigil config and validates it. YAML is converted to JSON
// first so both formats go through the same strict decoder: unknown keys
// and trailing documents are errors.
func Decode(name string, b []byte) (*Config, error) {
	format := FormatOf(name)
	if format == FormatYAML {
		jb, err := yamlToJSON(b)
		if err != nil {
			return nil, fmt.Errorf("vigil config %s: %w", name, err)
		}
		b = jb
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("vigil config %s (%s): %w", name, format, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("vigil config %s: trailing data", name)
		}
		return nil, fmt.Errorf("vigil config %s: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func yamlToJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		// An empty file is an empty config.
		return []byte("{}"), nil
	}
	v, err := jsonValue(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// jsonValue rewrites YAML mappings into map[string]any. Config keys are
// always strings; a non-scalar key is reported with its path.
func jsonValue(in any, path string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := jsonValue(v, joinKey(path, k))
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			switch k.(type) {
			case map[string]any, map[any]any, []any:
				return nil, fmt.Errorf("yaml: %s: mapping key must be a scalar", displayPath(path))
			}
			key := fmt.Sprint(k)
			nv, err := jsonValue(v, joinKey(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = nv
		}
		return out, nil
	case []any:
		for i := range x {
			nv, err := jsonValue(x[i], fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}

func joinKey(path, k string) string {
	if path == "" {
		return k
	}
	return path + "." + k
}

func displayPath(path string) string {
	if path == "" {
		return "top level"
	}
	return path
}
