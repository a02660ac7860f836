package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := &Config{
		Servers: map[string]ServerConfig{
			"fs":  {Command: "mcp-fs"},
			"web": {URL: "https://example.com/mcp", Token: "t"},
		},
	}
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsMissingTransport(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{"bad": {}}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers.bad: missing transport")
}

func TestValidateRejectsBothTransports(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"bad": {Command: "x", URL: "https://example.com"},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestValidateReportsEachBrokenServer(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"a":  {},
		"b":  {URL: ":not-a-url"},
		"ok": {Command: "mcp-fs"},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers.a")
	assert.Contains(t, err.Error(), "servers.b.url")
	assert.NotContains(t, err.Error(), "servers.ok")
}

func TestValidateRejectsTokenOnStdio(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"fs": {Command: "mcp-fs", Token: "t"},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only valid with url")
}

func TestValidateRejectsEmptyAutoApproveEntry(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"fs": {Command: "mcp-fs", AutoApprove: []string{" "}},
	}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_approve")
}
