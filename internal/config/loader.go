package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Load reads path (a JSON or JSON5 file; missing file is not an error),
// merges it over the built-in defaults, applies the alias and
// AGENT_DIVA__ path environment overlays, and validates the result.
func Load(path string) (*Config, error) {
	merged, err := defaultsAsMap()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fileValue map[string]any
			if err := json5.Unmarshal(data, &fileValue); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			mergeMaps(merged, fileValue)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnvOverrides(merged)

	cfg, err := decodeRaw(merged)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON to path, creating parent directories
// as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultsAsMap() (map[string]any, error) {
	data, err := json.Marshal(Default())
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeRaw round-trips a merged raw map through JSON into a Config,
// the same "marshal the map, decode it" trick the teacher's YAML loader
// uses to go from map[string]any to a typed struct. Keys with no
// matching Config field are ignored, not rejected.
func decodeRaw(raw map[string]any) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
