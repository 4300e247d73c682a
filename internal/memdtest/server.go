// Package memdtest provides an in-process memcached binary protocol server
// and a scripted net.Conn for tests.
package memdtest

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pior/memdoc/binprot"
)

// Version is returned by the version command.
const Version = "1.6.0-memdtest"

// Hangup makes the server close the connection instead of answering when
// returned by an Interceptor.
var Hangup = &binprot.Response{}

// Interceptor can answer a request in place of the server. Returning
// handled=false lets the server process the request normally.
type Interceptor func(req *binprot.Request) (resp *binprot.Response, handled bool)

type item struct {
	value      []byte
	flags      uint32
	expiration uint32
	cas        binprot.CAS
}

// Server is a single-node store speaking the binary protocol. It implements
// get, set, add, replace, delete, touch, noop, version and SASL PLAIN, with
// real CAS semantics.
type Server struct {
	listener net.Listener

	mu          sync.Mutex
	items       map[string]item
	casCounter  uint64
	credentials map[string]string
	interceptor Interceptor
	ops         map[binprot.Opcode]int
	conns       map[net.Conn]struct{}
	accepted    int
}

// NewServer starts a server on 127.0.0.1:0 and stops it on test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}

	s := &Server{
		listener: listener,
		items:    make(map[string]item),
		ops:      make(map[binprot.Opcode]int),
		conns:    make(map[net.Conn]struct{}),
	}

	t.Cleanup(s.Close)

	go s.acceptLoop()

	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the listener and drops all open connections.
func (s *Server) Close() {
	s.listener.Close()
	s.CloseConnections()
}

// CloseConnections drops every open connection, simulating a server restart.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// RequireAuth makes every command other than SASL fail with
// StatusAuthRequired until the connection authenticates as login.
func (s *Server) RequireAuth(login, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credentials == nil {
		s.credentials = make(map[string]string)
	}
	s.credentials[login] = password
}

// SetInterceptor installs fn in front of the request handler. Pass nil to
// remove it.
func (s *Server) SetInterceptor(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interceptor = fn
}

// Put stores a value as another client would, bypassing any connection.
// It returns the new CAS.
func (s *Server) Put(key string, value []byte) binprot.CAS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key, item{value: bytes.Clone(value)})
}

// Lookup returns the stored value and CAS of key.
func (s *Server) Lookup(key string) ([]byte, binprot.CAS, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return it.value, it.cas, ok
}

// Remove deletes key as another client would.
func (s *Server) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Len returns the number of stored items.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Count returns how many requests with opcode were received.
func (s *Server) Count(op binprot.Opcode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops[op]
}

// Accepted returns how many connections were accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := false

	for {
		req, err := binprot.ReadRequest(reader)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.ops[req.Header.Opcode]++
		interceptor := s.interceptor
		s.mu.Unlock()

		var resp *binprot.Response
		handled := false
		if interceptor != nil {
			resp, handled = interceptor(req)
		}
		if !handled {
			resp = s.handle(req, &authenticated)
		}
		if resp == Hangup {
			return
		}

		if err := binprot.WriteResponse(writer, resp); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handle(req *binprot.Request, authenticated *bool) *binprot.Response {
	op := req.Header.Opcode
	key := string(req.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case binprot.OpSASLListMechs:
		return binprot.NewResponse(req, binprot.StatusNoError, nil, nil, []byte("PLAIN"), binprot.CAS{})
	case binprot.OpSASLAuth:
		if s.authenticate(key, req.Value) {
			*authenticated = true
			return binprot.NewResponse(req, binprot.StatusNoError, nil, nil, []byte("Authenticated"), binprot.CAS{})
		}
		return status(req, binprot.StatusAuthRequired)
	}

	if len(s.credentials) > 0 && !*authenticated {
		return status(req, binprot.StatusAuthRequired)
	}

	switch op {
	case binprot.OpNoop:
		return status(req, binprot.StatusNoError)

	case binprot.OpVersion:
		return binprot.NewResponse(req, binprot.StatusNoError, nil, nil, []byte(Version), binprot.CAS{})

	case binprot.OpGet:
		it, ok := s.items[key]
		if !ok {
			return status(req, binprot.StatusKeyNotFound)
		}
		extra, _ := binprot.GetExtra{Flags: it.flags}.MarshalBinary()
		return binprot.NewResponse(req, binprot.StatusNoError, extra, nil, bytes.Clone(it.value), it.cas)

	case binprot.OpSet, binprot.OpAdd, binprot.OpReplace:
		extra, err := binprot.DecodeSetExtra(req.Extra)
		if err != nil {
			return status(req, binprot.StatusInvalidArguments)
		}
		current, exists := s.items[key]
		switch {
		case op == binprot.OpAdd && exists:
			return status(req, binprot.StatusKeyExists)
		case op == binprot.OpReplace && !exists:
			return status(req, binprot.StatusKeyNotFound)
		case !req.Header.CAS.IsZero() && !exists:
			return status(req, binprot.StatusKeyNotFound)
		case !req.Header.CAS.IsZero() && req.Header.CAS != current.cas:
			return status(req, binprot.StatusKeyExists)
		}
		cas := s.store(key, item{
			value:      bytes.Clone(req.Value),
			flags:      extra.Flags,
			expiration: extra.Expiration,
		})
		return binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, cas)

	case binprot.OpDelete:
		current, exists := s.items[key]
		switch {
		case !exists:
			return status(req, binprot.StatusKeyNotFound)
		case !req.Header.CAS.IsZero() && req.Header.CAS != current.cas:
			return status(req, binprot.StatusKeyExists)
		}
		delete(s.items, key)
		return status(req, binprot.StatusNoError)

	case binprot.OpTouch:
		extra, err := binprot.DecodeTouchExtra(req.Extra)
		if err != nil {
			return status(req, binprot.StatusInvalidArguments)
		}
		it, exists := s.items[key]
		if !exists {
			return status(req, binprot.StatusKeyNotFound)
		}
		it.expiration = extra.Expiration
		s.items[key] = it
		return binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, it.cas)
	}

	return status(req, binprot.StatusUnknownCommand)
}

// store must be called with s.mu held.
func (s *Server) store(key string, it item) binprot.CAS {
	s.casCounter++
	it.cas = binprot.NewCAS(uint64(time.Now().UnixNano())<<8 | s.casCounter&0xff)
	s.items[key] = it
	return it.cas
}

// authenticate must be called with s.mu held.
func (s *Server) authenticate(mechanism string, payload []byte) bool {
	if mechanism != "PLAIN" {
		return false
	}
	parts := bytes.Split(payload, []byte{0})
	if len(parts) != 3 {
		return false
	}
	password, ok := s.credentials[string(parts[1])]
	return ok && password == string(parts[2])
}

func status(req *binprot.Request, st binprot.Status) *binprot.Response {
	var value []byte
	if st != binprot.StatusNoError {
		value = []byte(st.String())
	}
	return binprot.NewResponse(req, st, nil, nil, value, binprot.CAS{})
}
