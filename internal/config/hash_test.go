package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "loader:\n  max_requests_per_host: 4\n")

	report, err := Lock(path, true)
	require.NoError(t, err)
	assert.False(t, report.Written)
	assert.Len(t, report.Hash, 64)

	_, err = os.Stat(filepath.Join(dir, ChecksumFile))
	assert.True(t, os.IsNotExist(err), ".checksums should not be written in dry-run mode")
}

func TestLockThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "loader:\n  max_requests_per_host: 4\n")

	report, err := Lock(path, false)
	require.NoError(t, err)
	assert.True(t, report.Written)

	manifest, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Equal(t, report.Hash, manifest.Hashes["config.yaml"])

	_, err = Load(path)
	require.NoError(t, err, "locked config should load")

	require.NoError(t, os.WriteFile(path, []byte("loader:\n  max_requests_per_host: 9\n"), 0600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")

	_, err = Lock(path, false)
	require.NoError(t, err)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Loader.MaxRequestsPerHost)
}

func TestLockKeepsOtherEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	other := filepath.Join(dir, "staging.yaml")
	require.NoError(t, os.WriteFile(other, []byte(""), 0600))

	_, err := Lock(other, false)
	require.NoError(t, err)
	_, err = Lock(path, false)
	require.NoError(t, err)

	manifest, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Len(t, manifest.Hashes, 2)
}

func TestLoadRejectsUnlistedFile(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "staging.yaml")
	require.NoError(t, os.WriteFile(other, []byte(""), 0600))
	_, err := Lock(other, false)
	require.NoError(t, err)

	path := writeConfig(t, dir, "")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hash")
}

func TestLoadChecksumsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadChecksums(dir)
	assert.ErrorIs(t, err, ErrNoChecksums)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ChecksumFile), []byte("version: 2\n"), 0600))
	_, err = LoadChecksums(dir)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported checksums version"))
}
