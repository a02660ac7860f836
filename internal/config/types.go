package config

import (
	"os"
	"strconv"
)

// DefaultPoolSize is the client connection pool capacity when neither the
// config file nor YMUX_POOL_SIZE overrides it.
const DefaultPoolSize = 5

// PoolSizeEnv overrides the configured pool size.
const PoolSizeEnv = "YMUX_POOL_SIZE"

// Config is the top-level ymux configuration.
type Config struct {
	Daemon  DaemonConfig            `toml:"daemon"`
	Servers map[string]ServerConfig `toml:"servers"`
}

// DaemonConfig holds daemon and client tunables.
type DaemonConfig struct {
	// PoolSize caps the client-side IPC connection pool.
	PoolSize int `toml:"pool_size"`
	// Socket overrides the default daemon socket path.
	Socket string `toml:"socket"`
	// Log overrides the default daemon log file path.
	Log string `toml:"log"`
	// LogLevel sets the daemon log level (debug, info, warn, error).
	LogLevel string `toml:"log_level"`
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Stdio transport
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`

	// Streaming HTTP transport
	URL     string            `toml:"url"`
	Token   string            `toml:"token"`
	Headers map[string]string `toml:"headers"`

	// AutoApprove lists tools that may run without interactive
	// confirmation. "*" approves every tool on the server.
	AutoApprove []string `toml:"auto_approve"`
}

// IsStdio returns true if the server uses stdio transport.
func (s ServerConfig) IsStdio() bool {
	return s.Command != ""
}

// IsHTTP returns true if the server uses streaming HTTP transport.
func (s ServerConfig) IsHTTP() bool {
	return s.URL != ""
}

// AutoApproved reports whether tool may run without confirmation.
func (s ServerConfig) AutoApproved(tool string) bool {
	for _, name := range s.AutoApprove {
		if name == "*" || name == tool {
			return true
		}
	}
	return false
}

// PoolSize returns the effective client pool capacity: YMUX_POOL_SIZE if
// set and valid, then the config value, then DefaultPoolSize.
func (c *Config) PoolSize() int {
	if v := os.Getenv(PoolSizeEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if c != nil && c.Daemon.PoolSize > 0 {
		return c.Daemon.PoolSize
	}
	return DefaultPoolSize
}
