// Package daemon implements the long-lived process that holds persistent
// MCP server connections and serves them to client invocations over the
// IPC socket.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/ipc"
	"github.com/yaogent/ymux/internal/mcperr"
	"github.com/yaogent/ymux/internal/registry"
)

// Options configures one daemon runtime. All paths are explicit so tests
// can run independent runtimes side by side.
type Options struct {
	ConfigPath string
	SocketPath string
	PIDPath    string
	LogPath    string
	Logger     *slog.Logger

	// WatchConfig reloads and reconciles the server set when the config
	// file changes.
	WatchConfig bool

	// RegistryOptions tune or stub the connection registry.
	RegistryOptions []registry.Option
}

// Daemon is one daemon runtime: the socket, the connection registry, and
// the optional config watcher. Created by New, torn down by Stop.
type Daemon struct {
	opts    Options
	logger  *slog.Logger
	cfg     *config.Config
	reg     *registry.Registry
	srv     *ipc.Server
	watcher *configWatcher

	shutdownCh chan struct{}
}

// New loads and validates configuration and assembles a daemon runtime.
// Nothing is bound or connected until Start.
func New(opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeConfig, err, "loading config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeConfig, err, "invalid config")
	}

	d := &Daemon{
		opts:       opts,
		logger:     logger,
		cfg:        cfg,
		reg:        registry.New(cfg.Servers, logger, opts.RegistryOptions...),
		shutdownCh: make(chan struct{}),
	}
	d.srv = ipc.NewServer(opts.SocketPath, d.dispatch, logger)
	return d, nil
}

// Start writes the PID file, establishes all configured server connections,
// and begins accepting IPC sessions. A live daemon already owning the
// socket is a fatal AlreadyRunning error; per-server connect failures are
// not.
func (d *Daemon) Start(ctx context.Context) error {
	if SocketConnectable(d.opts.SocketPath) {
		return mcperr.New(mcperr.CodeAlreadyRunning, "daemon already listening on %s", d.opts.SocketPath)
	}

	if err := os.MkdirAll(filepath.Dir(d.opts.SocketPath), 0700); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}
	if err := WritePIDFile(d.opts.PIDPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	outcomes := d.reg.EstablishAll(ctx)
	for _, o := range outcomes {
		if o.Err != nil {
			d.logger.Warn("server failed to start", "server", o.Server, "error", o.Err)
		}
	}

	if err := d.srv.Start(); err != nil {
		RemovePIDFile(d.opts.PIDPath)
		d.reg.ShutdownAll()
		return err
	}

	if d.opts.WatchConfig {
		w, err := newConfigWatcher(d.opts.ConfigPath, d.logger, d.reconfigure)
		if err != nil {
			d.logger.Warn("config watcher disabled", "error", err)
		} else {
			d.watcher = w
		}
	}

	d.logger.Info("daemon listening", "socket", d.opts.SocketPath, "servers", len(d.cfg.Servers))
	return nil
}

// Wait blocks until a termination signal arrives, a shutdown request comes
// in over IPC, or ctx is done.
func (d *Daemon) Wait(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal", "signal", sig.String())
	case <-d.shutdownCh:
		d.logger.Info("shutdown requested over ipc")
	case <-ctx.Done():
	}
}

// Stop tears the runtime down: listener first so no new work arrives, then
// every server connection, then the PID file.
func (d *Daemon) Stop() {
	if d.watcher != nil {
		d.watcher.stop()
	}
	d.srv.Stop()
	d.reg.ShutdownAll()
	RemovePIDFile(d.opts.PIDPath)
	d.logger.Info("daemon stopped")
}

func (d *Daemon) requestShutdown() {
	select {
	case <-d.shutdownCh:
	default:
		close(d.shutdownCh)
	}
}

func (d *Daemon) reconfigure(cfg *config.Config) {
	d.cfg = cfg
	outcomes := d.reg.Reconcile(context.Background(), cfg.Servers)
	for _, o := range outcomes {
		if o.Err != nil {
			d.logger.Warn("server failed after config reload", "server", o.Server, "error", o.Err)
		} else {
			d.logger.Info("server ready after config reload", "server", o.Server)
		}
	}
}

// Run is the production entry point for the re-exec'd daemon process: build
// the runtime, serve until told to stop, then clean up.
func Run(opts Options) error {
	d, err := New(opts)
	if err != nil {
		return err
	}
	if err := d.Start(context.Background()); err != nil {
		return err
	}
	d.Wait(context.Background())
	d.Stop()
	return nil
}
