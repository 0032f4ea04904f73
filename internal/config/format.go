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

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// detectFormat uses the file extension, falling back to the first
// non-blank byte for files without one.
func detectFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && (t[0] == '{' || t[0] == '[') {
		return formatJSON
	}
	return formatYAML
}

// toJSON returns data as JSON so one strict decoder serves both formats.
// A YAML file must hold exactly one document.
func toJSON(path string, data []byte) ([]byte, string, error) {
	format := detectFormat(path, data)
	if format == formatJSON {
		return data, format, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), format, nil
		}
		return nil, format, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, format, fmt.Errorf("yaml: config must be a single document")
	}

	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, format, fmt.Errorf("yaml: %w", err)
	}
	return j, format, nil
}

// stringKeys rewrites non-string map keys (e.g. `1: x` in a payload).
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
