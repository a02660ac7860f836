// Package daemonctl starts, stops, and inspects the daemon process from
// short-lived CLI invocations.
package daemonctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/daemon"
	"github.com/yaogent/ymux/internal/ipc"
	"github.com/yaogent/ymux/internal/mcperr"
	"github.com/yaogent/ymux/internal/paths"
	"github.com/yaogent/ymux/internal/registry"
)

// DefaultStartTimeout bounds the wait for a spawned daemon's socket. The
// daemon binds its socket only after establishing every configured server,
// so the wait must outlast the per-server handshake timeout.
const DefaultStartTimeout = registry.DefaultHandshakeTimeout + 5*time.Second

const (
	shutdownTimeout = 5 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// Controller manages the daemon process lifecycle. All paths are explicit
// so tests can point it at throwaway state.
type Controller struct {
	ConfigPath string
	SocketPath string
	PIDPath    string
	LockPath   string
	LogPath    string
	Logger     *slog.Logger

	// StartTimeout bounds the wait for a spawned daemon to bind its
	// socket. Zero means DefaultStartTimeout.
	StartTimeout time.Duration

	// spawnFn is the background spawn step, replaceable in tests.
	spawnFn func() error
	// runFn is the foreground daemon loop, replaceable in tests.
	runFn func(daemon.Options) error
}

// New builds a controller over the default XDG paths, honoring the
// [daemon] socket and log overrides from the config file.
func New(logger *slog.Logger) *Controller {
	c := &Controller{
		ConfigPath: paths.ConfigFile(),
		SocketPath: paths.SocketPath(),
		PIDPath:    paths.PIDPath(),
		LockPath:   paths.LockPath(),
		LogPath:    paths.LogPath(),
		Logger:     logger,
	}
	if cfg, err := config.Load(); err == nil {
		if cfg.Daemon.Socket != "" {
			c.SocketPath = cfg.Daemon.Socket
		}
		if cfg.Daemon.Log != "" {
			c.LogPath = cfg.Daemon.Log
		}
	}
	return c
}

// Start brings a daemon up. If one is already live this is an
// AlreadyRunning error, which callers treat as success. Foreground mode
// runs the daemon loop in this process; otherwise the current executable
// is re-exec'd detached with its output going to the log file.
func (c *Controller) Start(foreground bool) error {
	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}

	release, err := acquireSpawnLock(c.LockPath)
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	defer release() //nolint:errcheck

	if daemon.Live(c.PIDPath, c.SocketPath) {
		return mcperr.New(mcperr.CodeAlreadyRunning, "daemon already running on %s", c.SocketPath)
	}
	c.clearStaleState()

	if foreground {
		run := c.runFn
		if run == nil {
			run = daemon.Run
		}
		return run(daemon.Options{
			ConfigPath:  c.ConfigPath,
			SocketPath:  c.SocketPath,
			PIDPath:     c.PIDPath,
			LogPath:     c.LogPath,
			Logger:      c.Logger,
			WatchConfig: true,
		})
	}

	spawn := c.spawnFn
	if spawn == nil {
		spawn = c.spawnDaemon
	}
	if err := spawn(); err != nil {
		return err
	}
	return c.waitForDaemon()
}

// Stop terminates a running daemon with SIGTERM and waits for it to exit.
// A daemon that is not running is a NotRunning error, which callers treat
// as success; stale pid and socket files are cleaned up either way.
func (c *Controller) Stop() error {
	pid, err := daemon.ReadPIDFile(c.PIDPath)
	if err != nil || !daemon.ProcessAlive(pid) {
		c.clearStaleState()
		return mcperr.New(mcperr.CodeNotRunning, "daemon is not running")
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !daemon.ProcessAlive(pid) {
			c.clearStaleState()
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon pid %d did not exit within %s", pid, shutdownTimeout)
}

// Restart is a stop (ignoring not-running) followed by a start.
func (c *Controller) Restart(foreground bool) error {
	if err := c.Stop(); err != nil && !mcperr.HasCode(err, mcperr.CodeNotRunning) {
		return err
	}
	return c.Start(foreground)
}

// Status asks a running daemon for its per-server connection states.
func (c *Controller) Status(ctx context.Context) (*daemon.StatusInfo, error) {
	conn, err := ipc.Dial(c.SocketPath, time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.Do(ctx, &ipc.Request{ID: "status", Op: ipc.OpStatus})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, resp.Err()
	}
	var info daemon.StatusInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// spawnDaemon re-execs the current binary as a detached daemon process.
func (c *Controller) spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	cmd := exec.Command(exe, "__daemon",
		"--config", c.ConfigPath,
		"--socket", c.SocketPath,
		"--pid", c.PIDPath,
		"--log", c.LogPath,
	)
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning daemon: %w", err)
	}

	// Detach: reap the child when it eventually exits, don't wait for it.
	go cmd.Wait() //nolint:errcheck
	return nil
}

func (c *Controller) waitForDaemon() error {
	timeout := c.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if daemon.SocketConnectable(c.SocketPath) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon did not start within %s; check %s", timeout, c.LogPath)
}

// clearStaleState removes leftover pid and socket files from a daemon that
// died without cleaning up.
func (c *Controller) clearStaleState() {
	_ = os.Remove(c.PIDPath)
	_ = os.Remove(c.SocketPath)
}

func acquireSpawnLock(path string) (func() error, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return func() error {
		unlockErr := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		closeErr := lockFile.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}, nil
}
