package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/loadsched/internal/auth"
	"github.com/mattjoyce/loadsched/internal/loader"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "LOADSCHED_CONFIG"

// Load reads, verifies and validates the configuration at configPath. A
// directory is taken to contain config.yaml. When a .checksums manifest sits
// next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	return cfg, nil
}

// Parse decodes YAML over Defaults, expanding ${VAR} references, and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file: $LOADSCHED_CONFIG, then
// ~/.config/loadsched/config.yaml, then ./config.yaml.
func Discover() (string, error) {
	candidates := []string{}
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "loadsched", "config.yaml"))
	}
	candidates = append(candidates, "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/loadsched/config.yaml, ./config.yaml)", EnvConfigPath)
}

func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation where it
// matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// PriorityTable converts the loader.priorities overrides.
func (c LoaderConfig) PriorityTable() (loader.PriorityTable, error) {
	if len(c.Priorities) == 0 {
		return nil, nil
	}
	out := make(loader.PriorityTable, len(c.Priorities))
	for kindName, prioName := range c.Priorities {
		kind, err := loader.ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("loader.priorities: %w", err)
		}
		p, err := loader.ParsePriority(prioName)
		if err != nil {
			return nil, fmt.Errorf("loader.priorities.%s: %w", kindName, err)
		}
		if !p.Valid() {
			return nil, fmt.Errorf("loader.priorities.%s: must be low, medium or high", kindName)
		}
		out[kind] = p
	}
	return out, nil
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}

	if cfg.Loader.MaxRequestsPerHost <= 0 {
		return fmt.Errorf("loader.max_requests_per_host must be positive")
	}
	if cfg.Loader.MaxRequestsFallback <= 0 {
		return fmt.Errorf("loader.max_requests_fallback must be positive")
	}
	if cfg.Loader.DispatchDelay < 0 {
		return fmt.Errorf("loader.dispatch_delay must not be negative")
	}
	if cfg.Loader.DrainTimeout < 0 {
		return fmt.Errorf("loader.drain_timeout must not be negative")
	}
	if _, err := cfg.Loader.PriorityTable(); err != nil {
		return err
	}

	if cfg.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout must not be negative")
	}
	if cfg.Transport.MaxBodyBytes < 0 {
		return fmt.Errorf("transport.max_body_bytes must not be negative")
	}
	r := cfg.Transport.Retry
	if r.Attempts < 1 {
		return fmt.Errorf("transport.retry.attempts must be at least 1")
	}
	if r.Initial <= 0 || r.Max < r.Initial {
		return fmt.Errorf("transport.retry: need 0 < initial <= max (got %s, %s)", r.Initial, r.Max)
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when the journal is enabled")
		}
		if cfg.Journal.Retention < 0 || cfg.Journal.PruneInterval < 0 {
			return fmt.Errorf("journal.retention and journal.prune_interval must not be negative")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkResolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := checkResolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
			for _, scope := range tok.Scopes {
				if !auth.ValidScope(scope) {
					return fmt.Errorf("%s: unknown scope %q", field, scope)
				}
			}
		}
	}
	return nil
}

func checkResolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
