package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/loadsched/internal/config"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
	"github.com/mattjoyce/loadsched/internal/log"
	"github.com/mattjoyce/loadsched/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("error", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

const testConfig = `service:
  log_level: warn
loader:
  max_requests_per_host: 4
  max_requests_fallback: 8
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    api_key: super-secret
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func TestRunConfigNoun_Dispatch(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runConfigNoun(nil) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: loadsched config")

	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runConfigNoun([]string{"help"}) })
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "lock [--dry-run]")

	code, _, stderr = captureOutputWithExitCode(t, func() int { return runConfigNoun([]string{"explode"}) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action: explode")
}

func TestRunConfigCheck(t *testing.T) {
	path := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Configuration valid (")
	assert.Contains(t, stdout, "api.auth.api_key")
	assert.Contains(t, stdout, "(unlocked)")

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path, "--strict"})
	})
	assert.Equal(t, 2, code, "strict mode fails on warnings")

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path, "--json"})
	})
	require.Equal(t, 0, code)
	var result struct {
		Valid    bool `json:"valid"`
		Warnings []struct {
			Field string `json:"field"`
		} `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestRunConfigCheck_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loader:\n  max_requests_per_host: 0\n"), 0o600))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Config load error")
}

func TestRunConfigLock(t *testing.T) {
	path := writeTestConfig(t)
	checksums := filepath.Join(filepath.Dir(path), config.ChecksumFile)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"lock", "--config", path, "--dry-run", "-v"})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HASH config.yaml:")
	assert.Contains(t, stdout, "DRY-RUN")
	assert.NoFileExists(t, checksums)

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"lock", "--config", path})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "WROTE "+checksums)
	assert.FileExists(t, checksums)

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "(locked)")

	// Tampering after lock must fail integrity.
	require.NoError(t, os.WriteFile(path, []byte(testConfig+"\n# edited\n"), 0o600))
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"check", "--config", path})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "config verification failed")
}

func TestRunConfigGet(t *testing.T) {
	path := writeTestConfig(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"scalar", []string{"get", "--config", path, "loader.max_requests_per_host"}, 0, "4\n"},
		{"redacted", []string{"get", "--config", path, "api.auth.api_key"}, 0, "<redacted>\n"},
		{"json", []string{"get", "--config", path, "--json", "api.listen"}, 0, "\"127.0.0.1:9090\"\n"},
		{"missing", []string{"get", "--config", path, "loader.nope"}, 1, ""},
		{"no path", []string{"get", "--config", path}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, _ := captureOutputWithExitCode(t, func() int { return runConfigNoun(tt.args) })
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.want, stdout)
		})
	}
}

func TestRunFetch_DataURLs(t *testing.T) {
	path := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runFetch([]string{
			"--config", path, "--json", "--owner", "test",
			"data:text/css,body%7B%7D",
			"data:;base64,aGVsbG8=",
		})
	})
	require.Equal(t, 0, code, stderr)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "completed", r["state"])
		assert.Equal(t, "test", r["owner"])
	}
}

func TestRunFetch_TableAndFailure(t *testing.T) {
	path := writeTestConfig(t)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runFetch([]string{"--config", path, "data:text/plain,ok", "data:no-comma"})
	})
	assert.Equal(t, 1, code, "any failed load fails the command")
	assert.True(t, strings.HasPrefix(stdout, "STATE"))
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stdout, "error:")
}

func TestRunFetch_Usage(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runFetch(nil) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: loadsched fetch")

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runFetch([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "data:,x"})
	})
	assert.Equal(t, 1, code)
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080":    "http://127.0.0.1:8080",
		":8080":             "http://127.0.0.1:8080",
		"https://sched.lan": "https://sched.lan",
		"http://x:1":        "http://x:1",
	}
	for in, want := range tests {
		assert.Equal(t, want, baseURL(in), in)
	}
}

func TestHelpTokens(t *testing.T) {
	assert.True(t, hasHelpFlag([]string{"--config", "x", "-h"}))
	assert.False(t, hasHelpFlag([]string{"--config", "x"}))
	assert.True(t, isHelpToken("help"))
}

func TestRunInspect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "loads.db")
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	j := journal.New(db, nil, 0)
	j.RequestChanged(loader.RequestInfo{
		ID:         "r1",
		URL:        "https://a.test/site.css",
		Endpoint:   "https://a.test:443",
		Owner:      "doc",
		Kind:       loader.KindStyleSheet,
		Priority:   loader.High,
		State:      loader.StateQueued,
		EnqueuedAt: time.Now(),
	})
	require.NoError(t, j.Flush(ctx))
	j.Close()
	require.NoError(t, db.Close())

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runInspect([]string{"--db", dbPath, "doc"})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Owner       : doc")
	assert.Contains(t, stdout, "[1] queued https://a.test/site.css")

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runInspect([]string{"--db", dbPath, "nobody"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no loads journaled")

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runInspect([]string{"--db", filepath.Join(t.TempDir(), "none.db"), "doc"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Journal not found")
}
