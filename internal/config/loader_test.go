package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/loadsched/internal/loader"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file yields defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Loader.MaxRequestsPerHost != 6 || cfg.Loader.MaxRequestsFallback != 20 {
					t.Errorf("budgets = %d/%d, want 6/20", cfg.Loader.MaxRequestsPerHost, cfg.Loader.MaxRequestsFallback)
				}
				if cfg.Transport.Retry.Attempts != 3 {
					t.Error("default retry attempts not applied")
				}
				if cfg.Journal.Enabled || cfg.API.Enabled {
					t.Error("journal and api should default to disabled")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  log_level: debug
  log_format: text
loader:
  max_requests_per_host: 4
  max_requests_fallback: 8
  dispatch_delay: 50ms
  drain_timeout: 2s
  eager_dispatch: true
  priorities:
    font: high
    image: medium
transport:
  timeout: 10s
  retry:
    attempts: 5
    initial: 100ms
    max: 1s
journal:
  enabled: true
  path: ./loads.db
  retention: 24h
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" || cfg.Service.LogFormat != "text" {
					t.Error("service section not parsed")
				}
				if cfg.Loader.DispatchDelay != 50*time.Millisecond {
					t.Errorf("dispatch_delay = %s", cfg.Loader.DispatchDelay)
				}
				if cfg.Loader.DrainTimeout != 2*time.Second {
					t.Errorf("drain_timeout = %s", cfg.Loader.DrainTimeout)
				}
				if !cfg.Loader.EagerDispatch {
					t.Error("eager_dispatch not parsed")
				}
				if cfg.Transport.Timeout != 10*time.Second || cfg.Transport.Retry.Attempts != 5 {
					t.Error("transport section not parsed")
				}
				if cfg.Transport.UserAgent != "loadsched/1" {
					t.Error("unset user_agent should keep its default")
				}
				table, err := cfg.Loader.PriorityTable()
				if err != nil {
					t.Fatal(err)
				}
				if table[loader.KindFont] != loader.High || table[loader.KindImage] != loader.Medium {
					t.Errorf("priority table = %v", table)
				}
				if cfg.Journal.Retention != 24*time.Hour {
					t.Error("journal.retention not parsed")
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${LOADSCHED_TEST_KEY}
`,
			env: map[string]string{"LOADSCHED_TEST_KEY": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "s3cret" {
					t.Errorf("api_key = %q, want interpolated value", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name:    "unset env var in api key",
			yaml:    "api:\n  enabled: true\n  auth:\n    api_key: ${LOADSCHED_TEST_UNSET}\n",
			wantErr: "LOADSCHED_TEST_UNSET",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api_key or tokens",
		},
		{
			name:    "token without scopes",
			yaml:    "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n",
			wantErr: "scopes must be non-empty",
		},
		{
			name:    "unknown scope",
			yaml:    "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n        scopes: [plugin:rw]\n",
			wantErr: "unknown scope",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "zero budget",
			yaml:    "loader:\n  max_requests_per_host: 0\n",
			wantErr: "max_requests_per_host",
		},
		{
			name:    "unknown kind",
			yaml:    "loader:\n  priorities:\n    video: high\n",
			wantErr: "unknown resource kind",
		},
		{
			name:    "auto is not a table priority",
			yaml:    "loader:\n  priorities:\n    font: auto\n",
			wantErr: "low, medium or high",
		},
		{
			name:    "retry max below initial",
			yaml:    "transport:\n  retry:\n    initial: 2s\n    max: 1s\n",
			wantErr: "initial <= max",
		},
		{
			name:    "journal without path",
			yaml:    "journal:\n  enabled: true\n  path: \"\"\n",
			wantErr: "journal.path",
		},
		{
			name:    "unknown key",
			yaml:    "loader:\n  max_request_per_host: 3\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Path != path {
				t.Errorf("cfg.Path = %q, want %q", cfg.Path, path)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "loader:\n  max_requests_per_host: 2\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Loader.MaxRequestsPerHost != 2 {
		t.Errorf("max_requests_per_host = %d, want 2", cfg.Loader.MaxRequestsPerHost)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() of a directory without config.yaml should fail")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestDiscover(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	t.Setenv(EnvConfigPath, path)

	got, err := Discover()
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if got != path {
		t.Errorf("Discover() = %q, want %q", got, path)
	}
}

func TestOptions(t *testing.T) {
	cfg, err := Parse([]byte("loader:\n  max_requests_per_host: 3\n  priorities:\n    image: high\ntransport:\n  user_agent: probe\n"))
	if err != nil {
		t.Fatal(err)
	}

	lo, err := cfg.LoaderOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if lo.MaxRequestsPerHost != 3 || lo.MaxRequestsFallback != 20 {
		t.Errorf("loader options budgets = %d/%d", lo.MaxRequestsPerHost, lo.MaxRequestsFallback)
	}
	if lo.Priorities[loader.KindImage] != loader.High {
		t.Error("priority override not carried into loader options")
	}

	to := cfg.TransportOptions(nil)
	if to.UserAgent != "probe" || to.Retry.Attempts != 3 || to.MaxBodyBytes != 32<<20 {
		t.Errorf("transport options = %+v", to)
	}
}
