package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"time"

	"github.com/yaogent/ymux/internal/mcperr"
)

// Conn is one client connection to the daemon. A Conn carries sequential
// request/response exchanges and is not safe for concurrent use; the client
// pool hands each Conn to one caller at a time.
type Conn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// Dial connects to the daemon socket.
func Dial(socketPath string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, dialError(socketPath, err)
	}
	return &Conn{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// dialError classifies a dial failure. An absent or unbound socket means no
// daemon is running; a permission failure means the socket belongs to
// someone else and is reported as such rather than as a missing daemon.
func dialError(socketPath string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return mcperr.Wrap(mcperr.CodeConfig, err, "daemon socket %s is not accessible", socketPath)
	}
	return mcperr.Wrap(mcperr.CodeNotRunning, err, "connecting to daemon at %s", socketPath)
}

// Do sends one request and reads its response. A transport failure returns a
// CodeTransport error; the connection must then be discarded.
func (c *Conn) Do(ctx context.Context, req *Request) (*Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeTransport, err, "setting deadline")
	}

	if err := c.enc.Encode(req); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeTransport, err, "sending request")
	}

	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeTransport, err, "reading response")
	}
	if req.ID != "" && resp.ID != "" && resp.ID != req.ID {
		return nil, mcperr.New(mcperr.CodeTransport, "response id %s does not match request id %s", resp.ID, req.ID)
	}
	return &resp, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
