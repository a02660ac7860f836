// Package registry owns the set of connections to configured MCP servers:
// establishing them, serializing per-server operations, reconnecting after
// transport failures, and tearing everything down at shutdown.
package registry

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/mcperr"
)

// DefaultHandshakeTimeout bounds connect plus capability negotiation for one
// server.
const DefaultHandshakeTimeout = 15 * time.Second

const (
	defaultCloseTimeout      = 5 * time.Second
	defaultReconnectAttempts = 3
	defaultReconnectBackoff  = 500 * time.Millisecond
)

// Outcome is the per-server result of an establish pass.
type Outcome struct {
	Server string
	Err    error
}

// Registry maps server names to connections. Every configured server has at
// most one live connection at a time.
type Registry struct {
	logger *slog.Logger

	dial              Dialer
	handshakeTimeout  time.Duration
	closeTimeout      time.Duration
	reconnectAttempts int
	reconnectBackoff  time.Duration

	mu      sync.Mutex
	configs map[string]config.ServerConfig
	conns   map[string]*serverConn
}

// Option adjusts registry tunables.
type Option func(*Registry)

// WithDialer replaces the transport dialer (used by tests).
func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dial = d }
}

// WithHandshakeTimeout bounds connect plus capability negotiation.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(r *Registry) { r.handshakeTimeout = d }
}

// WithCloseTimeout bounds the per-connection wait during ShutdownAll.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Registry) { r.closeTimeout = d }
}

// WithReconnectPolicy sets the bounded reconnect budget for degraded
// connections. Backoff doubles per attempt.
func WithReconnectPolicy(attempts int, backoff time.Duration) Option {
	return func(r *Registry) {
		r.reconnectAttempts = attempts
		r.reconnectBackoff = backoff
	}
}

// New creates a registry over the configured server set. No connections are
// opened; call EstablishAll or let operations connect on demand.
func New(configs map[string]config.ServerConfig, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:            logger,
		dial:              dial,
		handshakeTimeout:  DefaultHandshakeTimeout,
		closeTimeout:      defaultCloseTimeout,
		reconnectAttempts: defaultReconnectAttempts,
		reconnectBackoff:  defaultReconnectBackoff,
		configs:           make(map[string]config.ServerConfig, len(configs)),
		conns:             make(map[string]*serverConn),
	}
	for name, cfg := range configs {
		r.configs[name] = cfg
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Servers returns the configured server names, sorted.
func (r *Registry) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) conn(name string) (*serverConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[name]; ok {
		return c, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, mcperr.New(mcperr.CodeNotFound, "unknown server: %s", name)
	}
	c := newServerConn(name, cfg)
	r.conns[name] = c
	return c, nil
}

// EstablishAll attempts every configured server independently and returns a
// per-server outcome. A handshake failure is recorded, never raised: partial
// availability is the normal operating mode.
func (r *Registry) EstablishAll(ctx context.Context) []Outcome {
	names := r.Servers()

	outcomes := make([]Outcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = Outcome{Server: name, Err: r.establish(ctx, name)}
		}(i, name)
	}
	wg.Wait()
	return outcomes
}

func (r *Registry) establish(ctx context.Context, name string) error {
	c, err := r.conn(name)
	if err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if st, _ := c.current(); st.Ready() {
		return nil
	}
	return r.establishLocked(ctx, c)
}

// establishLocked runs the connect plus handshake sequence. Caller holds the
// gate.
func (r *Registry) establishLocked(ctx context.Context, c *serverConn) error {
	c.beginConnect()

	hctx, cancel := context.WithTimeout(ctx, r.handshakeTimeout)
	defer cancel()

	sess, err := r.dial(hctx, c.cfg)
	if err != nil {
		r.logger.Warn("server connect failed", "server", c.name, "error", err)
		return c.fail(StateDisconnected, mcperr.Wrap(mcperr.CodeHandshake, err, "connecting to %s", c.name))
	}

	c.setState(StateHandshaking)
	tools, err := sess.ListTools(hctx)
	if err != nil {
		if sess.Close != nil {
			_ = sess.Close()
		}
		r.logger.Warn("server handshake failed", "server", c.name, "error", err)
		return c.fail(StateDisconnected, mcperr.Wrap(mcperr.CodeHandshake, err, "fetching tool catalog from %s", c.name))
	}

	c.setSession(sess)
	c.ready(tools)
	r.logger.Info("server ready", "server", c.name, "tools", len(tools))
	return nil
}

// reconnectLocked runs the bounded reconnect sequence for a degraded
// connection. Caller holds the gate. On exhaustion the connection falls to
// disconnected.
func (r *Registry) reconnectLocked(ctx context.Context, c *serverConn) error {
	backoff := r.reconnectBackoff
	for attempt := 1; attempt <= r.reconnectAttempts; attempt++ {
		r.logger.Info("reconnecting", "server", c.name, "attempt", attempt)
		if err := r.establishLocked(ctx, c); err == nil {
			return nil
		}
		if attempt == r.reconnectAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return mcperr.Wrap(mcperr.CodeUnavailable, ctx.Err(), "reconnecting to %s", c.name)
		}
		backoff *= 2
	}
	c.setState(StateDisconnected)
	return mcperr.Wrap(mcperr.CodeUnavailable, c.lastError(), "server %s did not recover", c.name)
}

// withReady acquires the server gate, makes sure the connection is usable,
// and runs fn against the live session. A failure inside fn marks the
// connection degraded; the bounded reconnect runs on the next request.
func (r *Registry) withReady(ctx context.Context, server string, fn func(ctx context.Context, s *Session) error) error {
	c, err := r.conn(server)
	if err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	state, attempted := c.current()
	switch state {
	case StateReady:
	case StateDegraded:
		if err := r.reconnectLocked(ctx, c); err != nil {
			return err
		}
	case StateDisconnected:
		if attempted {
			return mcperr.Wrap(mcperr.CodeUnavailable, c.lastError(), "server %s is not available", server)
		}
		// Never attempted: direct mode connects on first use.
		if err := r.establishLocked(ctx, c); err != nil {
			return mcperr.Wrap(mcperr.CodeUnavailable, err, "server %s is not available", server)
		}
	default:
		return mcperr.New(mcperr.CodeUnavailable, "server %s is %s", server, state)
	}

	if err := fn(ctx, c.session()); err != nil {
		c.fail(StateDegraded, mcperr.Wrap(mcperr.CodeTransport, err, "server %s request failed", server))
		c.closeSession()
		r.logger.Warn("server degraded", "server", server, "error", err)
		return mcperr.Wrap(mcperr.CodeUnavailable, err, "server %s request failed", server)
	}
	return nil
}

// CallTool invokes a tool on a server.
func (r *Registry) CallTool(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
	var result *ToolResult
	err := r.withReady(ctx, server, func(ctx context.Context, s *Session) error {
		res, err := s.CallTool(ctx, tool, args)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools returns the tools available on a server and refreshes its
// catalog.
func (r *Registry) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	var tools []ToolInfo
	err := r.withReady(ctx, server, func(ctx context.Context, s *Session) error {
		fresh, err := s.ListTools(ctx)
		if err != nil {
			return err
		}
		tools = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// ListResources returns the resources available on a server.
func (r *Registry) ListResources(ctx context.Context, server string) ([]ResourceInfo, error) {
	var resources []ResourceInfo
	err := r.withReady(ctx, server, func(ctx context.Context, s *Session) error {
		res, err := s.ListResources(ctx)
		if err != nil {
			return err
		}
		resources = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// ListResourceTemplates returns the resource templates available on a server.
func (r *Registry) ListResourceTemplates(ctx context.Context, server string) ([]TemplateInfo, error) {
	var templates []TemplateInfo
	err := r.withReady(ctx, server, func(ctx context.Context, s *Session) error {
		res, err := s.ListResourceTemplates(ctx)
		if err != nil {
			return err
		}
		templates = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// States reports the current state of every configured server. It never
// waits on in-flight operations, so status stays responsive while a slow
// tool call is running.
func (r *Registry) States() map[string]Status {
	r.mu.Lock()
	configs := make([]string, 0, len(r.configs))
	for name := range r.configs {
		configs = append(configs, name)
	}
	conns := make(map[string]*serverConn, len(r.conns))
	for name, c := range r.conns {
		conns[name] = c
	}
	r.mu.Unlock()

	states := make(map[string]Status, len(configs))
	for _, name := range configs {
		c, ok := conns[name]
		if !ok {
			states[name] = Status{State: StateDisconnected}
			continue
		}
		states[name] = c.status()
	}
	return states
}

// Reconcile applies a new configuration: servers that disappeared are closed
// and removed, new or changed servers are (re)established. Returns outcomes
// for the servers it attempted.
func (r *Registry) Reconcile(ctx context.Context, configs map[string]config.ServerConfig) []Outcome {
	r.mu.Lock()
	var stale []*serverConn
	var establish []string

	for name, c := range r.conns {
		next, ok := configs[name]
		if ok && reflect.DeepEqual(c.cfg, next) {
			continue
		}
		stale = append(stale, c)
		delete(r.conns, name)
	}
	for name, cfg := range configs {
		prev, existed := r.configs[name]
		if !existed || !reflect.DeepEqual(prev, cfg) {
			establish = append(establish, name)
		}
	}
	r.configs = make(map[string]config.ServerConfig, len(configs))
	for name, cfg := range configs {
		r.configs[name] = cfg
	}
	r.mu.Unlock()

	for _, c := range stale {
		r.closeConn(c)
		r.logger.Info("server removed from registry", "server", c.name)
	}

	sort.Strings(establish)
	outcomes := make([]Outcome, len(establish))
	var wg sync.WaitGroup
	for i, name := range establish {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = Outcome{Server: name, Err: r.establish(ctx, name)}
		}(i, name)
	}
	wg.Wait()
	return outcomes
}

// ShutdownAll closes every live connection, best effort. A connection stuck
// in an operation is force-closed after the close timeout; ShutdownAll
// always returns.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*serverConn)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *serverConn) {
			defer wg.Done()
			r.closeConn(c)
		}(c)
	}
	wg.Wait()
}

func (r *Registry) closeConn(c *serverConn) {
	ctx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
	defer cancel()

	if err := c.acquire(ctx); err == nil {
		c.closeSession()
		c.setState(StateDisconnected)
		c.release()
		return
	}
	// Stuck peer: close the transport out from under the operation.
	r.logger.Warn("forcing connection closed", "server", c.name)
	c.closeSession()
}
