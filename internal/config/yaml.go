package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// jsonBody returns the file content as JSON. A .json file passes
// through untouched; everything else is read as YAML and re-encoded,
// so both formats end up in front of the same strict decoder.
func jsonBody(path string, raw []byte) ([]byte, error) {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return raw, nil
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	body, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return body, nil
}

// stringifyKeys rewrites YAML's any-typed map keys to strings so the
// tree survives encoding/json.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = stringifyKeys(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return v
	}
}
