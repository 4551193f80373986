package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	out, err := run(t, "--config", path, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "imebridge dev\n"), out)
	assert.Contains(t, out, "display protocol: v1")
}

func TestConfigInitAndCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	out, err := run(t, "--config", path, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = run(t, "--config", path, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "--config", path, "config", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[theme]\nname = \"\"\n"), 0o600))
	_, err = run(t, "--config", path, "config", "check", bad)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theme:\n  name: dark\n"), 0o600))

	out, err := run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `name = "dark"`)
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	t.Setenv("IMEBRIDGE_STORE_PATH", filepath.Join(dir, "packages.db"))

	out, err := run(t, "--config", path, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "0 entries")

	_, err = run(t, "--config", path, "cache", "forget", "abc")
	assert.Error(t, err)

	out, err = run(t, "--config", path, "cache", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 entries")
}
