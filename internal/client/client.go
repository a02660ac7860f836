// Package client is the chat-process side of the daemon: an Executor that
// runs tool operations over pooled IPC connections when a daemon is
// listening, or over direct server connections when it is not. The
// daemon-or-direct decision is made once when the client is built so a
// session never flaps between the two.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/ipc"
	"github.com/yaogent/ymux/internal/mcperr"
	"github.com/yaogent/ymux/internal/registry"
)

// DialTimeout bounds the initial probe of the daemon socket.
const DialTimeout = time.Second

// Executor runs tool operations against the configured servers, whichever
// backing strategy serves them.
type Executor interface {
	Execute(ctx context.Context, server, tool string, args map[string]any) (*registry.ToolResult, error)
	ListServers(ctx context.Context) ([]string, error)
	ListTools(ctx context.Context, server string) ([]registry.ToolInfo, error)
	ListResources(ctx context.Context, server string) ([]registry.ResourceInfo, error)
	ListResourceTemplates(ctx context.Context, server string) ([]registry.TemplateInfo, error)
	Close() error
}

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	SocketPath     string
	AcquireTimeout time.Duration
	Logger         *slog.Logger

	// DialConn replaces IPC dialing (used by tests).
	DialConn func() (*ipc.Conn, error)
	// RegistryOptions apply to the direct-mode registry.
	RegistryOptions []registry.Option
}

// New probes the daemon socket once and returns a daemon-backed executor
// if it answers, or a direct-mode executor over private server connections
// if it does not.
func New(cfg *config.Config, opts Options) Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	acquireTimeout := opts.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	dialConn := opts.DialConn
	if dialConn == nil {
		socketPath := opts.SocketPath
		dialConn = func() (*ipc.Conn, error) {
			return ipc.Dial(socketPath, DialTimeout)
		}
	}

	probe, err := dialConn()
	if err == nil {
		pool := newConnPool(cfg.PoolSize(), acquireTimeout, dialConn)
		pool.mu.Lock()
		pool.idle = append(pool.idle, probe)
		pool.mu.Unlock()
		return &daemonExecutor{pool: pool, logger: logger}
	}

	if mcperr.HasCode(err, mcperr.CodeNotRunning) {
		logger.Debug("daemon unreachable, using direct server connections")
	} else {
		// The socket is there but unusable, likely a permission problem.
		// Direct mode still serves the session, but this is worth seeing.
		logger.Warn("daemon socket unusable, using direct server connections", "error", err)
	}
	return &directExecutor{
		reg: registry.New(cfg.Servers, logger, opts.RegistryOptions...),
	}
}

// daemonExecutor speaks to a running daemon over pooled IPC connections.
type daemonExecutor struct {
	pool   *connPool
	logger *slog.Logger
}

// do runs one request/response exchange on a pooled connection. Transport
// failures discard the connection; daemon-side errors do not.
func (e *daemonExecutor) do(ctx context.Context, req *ipc.Request, result any) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	req.ID = uuid.NewString()
	resp, err := conn.Do(ctx, req)
	e.pool.Release(conn, err != nil)
	if err != nil {
		return err
	}
	if !resp.OK {
		return resp.Err()
	}
	if result == nil {
		return nil
	}
	return resp.Decode(result)
}

func (e *daemonExecutor) Execute(ctx context.Context, server, tool string, args map[string]any) (*registry.ToolResult, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var result registry.ToolResult
	if err := e.do(ctx, &ipc.Request{Op: ipc.OpExecuteTool, Server: server, Tool: tool, Args: payload}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *daemonExecutor) ListServers(ctx context.Context) ([]string, error) {
	var servers []string
	if err := e.do(ctx, &ipc.Request{Op: ipc.OpListServers}, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func (e *daemonExecutor) ListTools(ctx context.Context, server string) ([]registry.ToolInfo, error) {
	var tools []registry.ToolInfo
	if err := e.do(ctx, &ipc.Request{Op: ipc.OpListTools, Server: server}, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func (e *daemonExecutor) ListResources(ctx context.Context, server string) ([]registry.ResourceInfo, error) {
	var resources []registry.ResourceInfo
	if err := e.do(ctx, &ipc.Request{Op: ipc.OpListResources, Server: server}, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

func (e *daemonExecutor) ListResourceTemplates(ctx context.Context, server string) ([]registry.TemplateInfo, error) {
	var templates []registry.TemplateInfo
	if err := e.do(ctx, &ipc.Request{Op: ipc.OpListResourceTemplates, Server: server}, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (e *daemonExecutor) Close() error {
	e.pool.Close()
	return nil
}

// directExecutor serves operations from a private registry owned by this
// process. Connections are established lazily, only for the servers a
// session actually touches.
type directExecutor struct {
	reg *registry.Registry
}

func (e *directExecutor) Execute(ctx context.Context, server, tool string, args map[string]any) (*registry.ToolResult, error) {
	return e.reg.CallTool(ctx, server, tool, args)
}

func (e *directExecutor) ListServers(ctx context.Context) ([]string, error) {
	return e.reg.Servers(), nil
}

func (e *directExecutor) ListTools(ctx context.Context, server string) ([]registry.ToolInfo, error) {
	return e.reg.ListTools(ctx, server)
}

func (e *directExecutor) ListResources(ctx context.Context, server string) ([]registry.ResourceInfo, error) {
	return e.reg.ListResources(ctx, server)
}

func (e *directExecutor) ListResourceTemplates(ctx context.Context, server string) ([]registry.TemplateInfo, error) {
	return e.reg.ListResourceTemplates(ctx, server)
}

func (e *directExecutor) Close() error {
	e.reg.ShutdownAll()
	return nil
}
