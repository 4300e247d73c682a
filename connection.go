package memdoc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/memdoc/binprot"
)

var ErrConnectionClosed = errors.New("memdoc: connection closed")

// aLongTimeAgo is a non-zero time in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// ConnectionConfig holds per-connection settings.
type ConnectionConfig struct {
	// Timeout bounds each request/response exchange when the context has no
	// deadline. Zero means no deadline.
	Timeout time.Duration
}

// Connection owns one stream to the server and exchanges exactly one
// request/response at a time. It is safe for concurrent use: callers are
// serialized by the connection mutex.
//
// A Connection that hits a transport or format error is closed and must be
// replaced.
type Connection struct {
	*Commands

	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration

	mu     sync.Mutex
	opaque uint32
	closed atomic.Bool
}

// NewConnection wraps an established net.Conn.
func NewConnection(conn net.Conn, config ConnectionConfig) *Connection {
	c := &Connection{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		timeout: config.Timeout,
	}
	c.Commands = NewCommands(c)
	return c
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the address of the server.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Execute sends req and reads its response.
//
// The request's opaque is overwritten with a connection-local counter and the
// response must echo it, along with the opcode. A successful store must carry
// a CAS. Any of these violations closes the connection. The response is returned
// together with the status error when the status is not StatusNoError.
func (c *Connection) Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &binprot.TransportError{Op: "execute", Err: err}
	}
	if err := req.Header.CheckLengths(req.Extra, req.Key, req.Value); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, &binprot.TransportError{Op: "execute", Err: ErrConnectionClosed}
	}

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &binprot.TransportError{Op: "execute", Err: ctxErr}
		}
		c.Close()
		return nil, err
	}

	return resp, binprot.StatusError(resp.Status(), req.Header.Opcode, string(req.Key))
}

// roundTrip must be called with c.mu held. Any error it returns leaves the
// stream out of sync.
func (c *Connection) roundTrip(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, &binprot.TransportError{Op: "deadline", Err: err}
	}

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(aLongTimeAgo)
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	c.opaque++
	req.Header.Opaque = binprot.NewOpaque(c.opaque)

	if err := binprot.WriteRequest(c.writer, req); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, &binprot.TransportError{Op: "write", Err: err}
	}

	resp, err := binprot.ReadResponse(c.reader)
	if err != nil {
		return nil, err
	}

	if resp.Header.Opcode != req.Header.Opcode {
		return nil, &binprot.FormatError{Message: fmt.Sprintf(
			"response opcode %s does not match request opcode %s", resp.Header.Opcode, req.Header.Opcode)}
	}
	if resp.Header.Opaque != req.Header.Opaque {
		return nil, &binprot.FormatError{Message: fmt.Sprintf(
			"response opaque %x does not match request opaque %x", resp.Header.Opaque, req.Header.Opaque)}
	}
	if req.Header.Opcode.IsStore() && resp.Status() == binprot.StatusNoError && resp.CAS().IsZero() {
		return nil, &binprot.FormatError{Message: "missing CAS in " + req.Header.Opcode.String() + " response"}
	}

	return resp, nil
}
