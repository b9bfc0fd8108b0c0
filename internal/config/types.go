package config

import "time"

// Config represents the complete loadsched configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Loader    LoaderConfig    `yaml:"loader"`
	Transport TransportConfig `yaml:"transport"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`

	// Path is the absolute path the config was loaded from.
	Path string `yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoaderConfig defines admission settings.
type LoaderConfig struct {
	MaxRequestsPerHost  int           `yaml:"max_requests_per_host"`
	MaxRequestsFallback int           `yaml:"max_requests_fallback"`
	DispatchDelay       time.Duration `yaml:"dispatch_delay"`
	EagerDispatch       bool          `yaml:"eager_dispatch"`

	// DrainTimeout bounds how long shutdown waits for cancelled loads.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Priorities overrides the priority of resource kinds, e.g. font: high.
	Priorities map[string]string `yaml:"priorities,omitempty"`
}

// TransportConfig defines how admitted requests are fetched.
type TransportConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Retry        RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds reconnect attempts made before a response arrives.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// JournalConfig defines the SQLite load journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	WriterBuffer  int           `yaml:"writer_buffer"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Listen      string        `yaml:"listen"`
	Auth        APIAuthConfig `yaml:"auth"`
	EventBuffer int           `yaml:"event_buffer"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with every default filled in.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "loadsched",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Loader: LoaderConfig{
			MaxRequestsPerHost:  6,
			MaxRequestsFallback: 20,
			DrainTimeout:        5 * time.Second,
		},
		Transport: TransportConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "loadsched/1",
			MaxBodyBytes: 32 << 20,
			Retry: RetryConfig{
				Attempts: 3,
				Initial:  200 * time.Millisecond,
				Max:      5 * time.Second,
			},
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          "./data/loads.db",
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
			WriterBuffer:  1024,
		},
		API: APIConfig{
			Enabled:     false,
			Listen:      "127.0.0.1:8080",
			EventBuffer: 256,
		},
	}
}
