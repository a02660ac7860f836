package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFromMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

func TestLoadFromParsesServers(t *testing.T) {
	path := writeConfig(t, `
[daemon]
pool_size = 3
log_level = "debug"

[servers.fs]
command = "mcp-fs"
args = ["--root", "/tmp"]
auto_approve = ["read-file"]

[servers.web]
url = "https://example.com/mcp"
token = "abc123"
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 2)
	fs := cfg.Servers["fs"]
	assert.True(t, fs.IsStdio())
	assert.Equal(t, []string{"--root", "/tmp"}, fs.Args)
	assert.True(t, fs.AutoApproved("read-file"))
	assert.False(t, fs.AutoApproved("write-file"))

	web := cfg.Servers["web"]
	assert.True(t, web.IsHTTP())
	assert.Equal(t, "abc123", web.Token)

	assert.Equal(t, 3, cfg.PoolSize())
	assert.Equal(t, "debug", cfg.Daemon.LogLevel)
}

func TestLoadFromExpandsEnvVars(t *testing.T) {
	t.Setenv("YMUX_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `
[servers.web]
url = "https://example.com/mcp"
token = "${YMUX_TEST_TOKEN}"
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Servers["web"].Token)
}

func TestLoadFromKeepsUnsetPlaceholders(t *testing.T) {
	path := writeConfig(t, `
[servers.web]
url = "https://example.com/mcp"
token = "${YMUX_UNSET_VAR}"
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "${YMUX_UNSET_VAR}", cfg.Servers["web"].Token)
}

func TestAutoApprovedWildcard(t *testing.T) {
	srv := ServerConfig{AutoApprove: []string{"*"}}
	assert.True(t, srv.AutoApproved("anything"))
}

func TestPoolSizeEnvOverride(t *testing.T) {
	cfg := &Config{Daemon: DaemonConfig{PoolSize: 3}}

	t.Setenv(PoolSizeEnv, "7")
	assert.Equal(t, 7, cfg.PoolSize())

	t.Setenv(PoolSizeEnv, "not-a-number")
	assert.Equal(t, 3, cfg.PoolSize())
}

func TestPoolSizeDefault(t *testing.T) {
	t.Setenv(PoolSizeEnv, "")
	var cfg Config
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize())
}
