package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
)

// Handler processes one request and returns its response.
type Handler func(ctx context.Context, req *Request) *Response

var peerUIDMatchesCurrentUserFn = peerUIDMatchesCurrentUser

// Server accepts IPC connections on a Unix socket. Each accepted connection
// is a persistent session handled on its own goroutine; requests within a
// session are processed sequentially so their responses keep request order.
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates an IPC server.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening. It removes any stale socket file first; the caller
// is responsible for ensuring no live daemon owns the path.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener, cancels in-flight handlers, closes open client
// sessions so their read loops unblock, and waits for session goroutines to
// finish.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.connMu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			s.handleSession(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	// A conn accepted during shutdown missed Stop's close pass.
	if s.closed {
		conn.Close()
	}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	conn.Close()
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) handleSession(conn net.Conn) {
	ok, err := peerUIDMatchesCurrentUserFn(conn)
	if err != nil {
		s.logger.Warn("peer uid check failed", "error", err)
		writeResponse(conn, &Response{Error: "peer uid check failed", Code: "internal"})
		return
	}
	if !ok {
		s.logger.Warn("rejecting connection from another uid")
		writeResponse(conn, &Response{Error: "peer uid mismatch", Code: "internal"})
		return
	}

	dec := json.NewDecoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.logger.Debug("session read failed", "error", err)
			}
			return
		}

		s.logger.Debug("handling request", "request_id", req.ID, "op", req.Op, "server", req.Server)
		resp := s.handler(s.ctx, &req)
		if resp.ID == "" {
			resp.ID = req.ID
		}
		if err := writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func writeResponse(conn net.Conn, resp *Response) error {
	return json.NewEncoder(conn).Encode(resp)
}
