package client

import (
	"context"
	"sync"
	"time"

	"github.com/yaogent/ymux/internal/ipc"
	"github.com/yaogent/ymux/internal/mcperr"
)

// DefaultAcquireTimeout bounds how long a caller waits in the pool queue.
const DefaultAcquireTimeout = 10 * time.Second

// connPool is a bounded pool of IPC connections to the daemon. Connections
// are dialed lazily up to capacity; callers beyond capacity queue on the
// token channel first come first served. A connection is held by exactly
// one caller between Acquire and Release.
type connPool struct {
	capacity       int
	acquireTimeout time.Duration
	dialFn         func() (*ipc.Conn, error)

	// tokens holds one entry per free capacity slot. Holding a token is
	// what entitles a caller to a connection, so a timed-out waiter never
	// owns a slot.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []*ipc.Conn
	closed bool
}

func newConnPool(capacity int, acquireTimeout time.Duration, dialFn func() (*ipc.Conn, error)) *connPool {
	p := &connPool{
		capacity:       capacity,
		acquireTimeout: acquireTimeout,
		dialFn:         dialFn,
		tokens:         make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Acquire returns a connection for exclusive use. It waits up to the
// acquire timeout for a capacity slot, then reuses an idle connection or
// dials a fresh one. On dial failure the slot is returned before the error
// surfaces.
func (p *connPool) Acquire(ctx context.Context) (*ipc.Conn, error) {
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case <-p.tokens:
	case <-timer.C:
		return nil, mcperr.New(mcperr.CodePoolTimeout, "timed out waiting for a daemon connection after %s", p.acquireTimeout)
	case <-ctx.Done():
		return nil, mcperr.Wrap(mcperr.CodeUnavailable, ctx.Err(), "waiting for a daemon connection")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, mcperr.New(mcperr.CodeUnavailable, "connection pool is closed")
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.dialFn()
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return conn, nil
}

// Release returns a connection after use. A broken connection is closed
// and its capacity freed for a fresh dial; a healthy one goes back on the
// idle stack.
func (p *connPool) Release(conn *ipc.Conn, broken bool) {
	if broken {
		_ = conn.Close()
	} else {
		p.mu.Lock()
		if p.closed {
			broken = true
			_ = conn.Close()
		} else {
			p.idle = append(p.idle, conn)
		}
		p.mu.Unlock()
	}
	p.tokens <- struct{}{}
}

// Close closes all idle connections. In-use connections are closed by
// their holders on Release.
func (p *connPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conn := range p.idle {
		_ = conn.Close()
	}
	p.idle = nil
}
