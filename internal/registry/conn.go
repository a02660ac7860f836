package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/mcperr"
)

// ToolInfo is a simplified tool descriptor.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ResourceInfo describes a resource exposed by a server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// TemplateInfo describes a resource template exposed by a server.
type TemplateInfo struct {
	URITemplate string `json:"uri_template"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// Session is the live protocol surface of one established connection.
// Fields are closures over the underlying MCP client so tests can fake it.
type Session struct {
	ListTools             func(ctx context.Context) ([]ToolInfo, error)
	ListResources         func(ctx context.Context) ([]ResourceInfo, error)
	ListResourceTemplates func(ctx context.Context) ([]TemplateInfo, error)
	CallTool              func(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	Close                 func() error
}

// serverConn is the runtime entity bound 1:1 to a configured server. All
// request/response cycles on it are serialized through gate: a connection
// carries one in-flight operation at a time, and waiters queue first come
// first served.
type serverConn struct {
	name string
	cfg  config.ServerConfig

	gate chan struct{} // capacity 1

	// mu guards the observable fields so status reads never queue on the
	// gate behind an in-flight operation. Writes happen only while the
	// gate is held.
	mu         sync.Mutex
	state      State
	attempted  bool
	tools      []ToolInfo
	lastErr    error
	lastActive time.Time

	// sessMu guards the session pointer so a forced shutdown can tear the
	// transport down while an operation is stuck on it.
	sessMu sync.Mutex
	sess   *Session
}

func newServerConn(name string, cfg config.ServerConfig) *serverConn {
	return &serverConn{
		name:  name,
		cfg:   cfg,
		gate:  make(chan struct{}, 1),
		state: StateDisconnected,
	}
}

// acquire takes the per-server gate, blocking until the connection is free
// or ctx is done.
func (c *serverConn) acquire(ctx context.Context) error {
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return mcperr.Wrap(mcperr.CodeUnavailable, ctx.Err(), "waiting for server %s", c.name)
	}
}

func (c *serverConn) release() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
	<-c.gate
}

// current returns the state and whether a connect was ever attempted.
func (c *serverConn) current() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempted
}

func (c *serverConn) lastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *serverConn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// beginConnect marks the start of a connect attempt.
func (c *serverConn) beginConnect() {
	c.mu.Lock()
	c.attempted = true
	c.state = StateConnecting
	c.mu.Unlock()
}

// fail records a failed transition and returns the recorded error.
func (c *serverConn) fail(s State, err error) error {
	c.mu.Lock()
	c.state = s
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// ready records a successful handshake outcome.
func (c *serverConn) ready(tools []ToolInfo) {
	c.mu.Lock()
	c.state = StateReady
	c.tools = tools
	c.lastErr = nil
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *serverConn) session() *Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sess
}

func (c *serverConn) setSession(s *Session) {
	c.sessMu.Lock()
	c.sess = s
	c.sessMu.Unlock()
}

// closeSession tears down the transport. Safe without the gate: used both
// on the normal close path and to force closure past a stuck operation.
func (c *serverConn) closeSession() {
	c.sessMu.Lock()
	s := c.sess
	c.sess = nil
	c.sessMu.Unlock()

	if s != nil && s.Close != nil {
		_ = s.Close()
	}
}

// Status is a point-in-time view of one connection for status reporting.
type Status struct {
	State      State     `json:"state"`
	Tools      int       `json:"tools"`
	Error      string    `json:"error,omitempty"`
	LastActive time.Time `json:"last_active,omitzero"`
}

// status snapshots the connection without touching the gate, so a slow
// in-flight operation never stalls status reporting.
func (c *serverConn) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:      c.state,
		Tools:      len(c.tools),
		LastActive: c.lastActive,
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	return st
}
