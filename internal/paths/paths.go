package paths

import (
	"os"
	"path/filepath"
)

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "ymux")
	}
	return filepath.Join(homeDir(), fallbackSuffix, "ymux")
}

// ConfigDir returns the ymux config directory ($XDG_CONFIG_HOME/ymux).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the ymux state directory ($XDG_STATE_HOME/ymux).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// RuntimeDir returns the ymux runtime directory for the socket and PID file.
// Falls back to $XDG_STATE_HOME/ymux if XDG_RUNTIME_DIR is unset.
func RuntimeDir() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "ymux")
	}
	return StateDir()
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SocketPath returns the path to the daemon Unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "daemon.sock")
}

// PIDPath returns the path to the daemon PID file.
func PIDPath() string {
	return filepath.Join(RuntimeDir(), "daemon.pid")
}

// LockPath returns the path to the daemon start lock.
func LockPath() string {
	return filepath.Join(RuntimeDir(), "daemon.lock")
}

// LogPath returns the path to the daemon log file.
func LogPath() string {
	return filepath.Join(StateDir(), "daemon.log")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
