package memdtest

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/pior/memdoc/binprot"
)

// ConnMock is a net.Conn replaying prepared response bytes and recording
// what the client wrote.
type ConnMock struct {
	mu       sync.Mutex
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	deadline time.Time
	closed   bool
}

// NewConnMock returns a mock connection that will serve data on reads.
func NewConnMock(data ...[]byte) *ConnMock {
	return &ConnMock{
		readBuf:  bytes.NewBuffer(bytes.Join(data, nil)),
		writeBuf: &bytes.Buffer{},
	}
}

// Frame encodes resp as it would appear on the wire.
func Frame(resp *binprot.Response) []byte {
	var buf bytes.Buffer
	if err := binprot.WriteResponse(&buf, resp); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (m *ConnMock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.readBuf.Read(b)
}

func (m *ConnMock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *ConnMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *ConnMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *ConnMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnMock) SetDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *ConnMock) SetReadDeadline(t time.Time) error  { return m.SetDeadline(t) }
func (m *ConnMock) SetWriteDeadline(t time.Time) error { return m.SetDeadline(t) }

// Deadline returns the last deadline set on the connection.
func (m *ConnMock) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Written returns the raw bytes written by the client.
func (m *ConnMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}

// Requests decodes every request written by the client.
func (m *ConnMock) Requests() ([]*binprot.Request, error) {
	r := bytes.NewReader(m.Written())
	var reqs []*binprot.Request
	for r.Len() > 0 {
		req, err := binprot.ReadRequest(r)
		if err != nil {
			return reqs, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
