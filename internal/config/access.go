package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation
// path such as "loader.max_requests_per_host". Secrets under api.auth are
// redacted.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	redact(m)

	return getValue(m, path)
}

func redact(m map[string]any) {
	api, _ := m["api"].(map[string]any)
	auth, _ := api["auth"].(map[string]any)
	if auth == nil {
		return
	}
	if key, _ := auth["api_key"].(string); key != "" {
		auth["api_key"] = "<redacted>"
	}
	tokens, _ := auth["tokens"].([]any)
	for _, t := range tokens {
		if tm, ok := t.(map[string]any); ok {
			tm["token"] = "<redacted>"
		}
	}
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}
