package memdoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pior/memdoc/binprot"
	"github.com/pior/memdoc/internal/memdtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStoreAndGet(t *testing.T) {
	conn := dialTestConnection(t, memdtest.NewServer(t), ConnectionConfig{})
	ctx := context.Background()

	cas, err := conn.Set(ctx, Item{Key: "user:1", Value: []byte(`{"name":"Thomas"}`), Flags: 42})
	require.NoError(t, err)
	require.False(t, cas.IsZero())

	item, err := conn.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, "user:1", item.Key)
	assert.Equal(t, `{"name":"Thomas"}`, string(item.Value))
	assert.Equal(t, uint32(42), item.Flags)
	assert.Equal(t, cas, item.CAS)
}

func TestConnectionCASSemantics(t *testing.T) {
	conn := dialTestConnection(t, memdtest.NewServer(t), ConnectionConfig{})
	ctx := context.Background()

	first, err := conn.Add(ctx, Item{Key: "doc", Value: []byte("v1")})
	require.NoError(t, err)

	_, err = conn.Add(ctx, Item{Key: "doc", Value: []byte("again")})
	var re *binprot.RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, binprot.StatusKeyExists, re.Status)
	assert.Equal(t, binprot.OpAdd, re.Opcode)
	assert.Equal(t, "doc", re.Key)

	second, err := conn.Replace(ctx, Item{Key: "doc", Value: []byte("v2"), CAS: first})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = conn.Replace(ctx, Item{Key: "doc", Value: []byte("stale"), CAS: first})
	require.ErrorIs(t, err, binprot.StatusKeyExists)

	_, err = conn.Replace(ctx, Item{Key: "missing", Value: []byte("x")})
	require.ErrorIs(t, err, binprot.StatusKeyNotFound)

	err = conn.Delete(ctx, "doc", first)
	require.ErrorIs(t, err, binprot.StatusKeyExists)

	require.NoError(t, conn.Delete(ctx, "doc", second))

	_, err = conn.Get(ctx, "doc")
	require.ErrorIs(t, err, binprot.StatusKeyNotFound)

	// Status errors leave the stream in sync.
	assert.False(t, conn.IsClosed())
	require.NoError(t, conn.Noop(ctx))
}

func TestConnectionTouch(t *testing.T) {
	server := memdtest.NewServer(t)
	conn := dialTestConnection(t, server, ConnectionConfig{})
	ctx := context.Background()

	cas, err := conn.Set(ctx, Item{Key: "k", Value: []byte("v")})
	require.NoError(t, err)

	touched, err := conn.Touch(ctx, "k", 60)
	require.NoError(t, err)
	assert.Equal(t, cas, touched)

	_, err = conn.Touch(ctx, "nope", 60)
	require.ErrorIs(t, err, binprot.StatusKeyNotFound)
}

func TestConnectionVersion(t *testing.T) {
	conn := dialTestConnection(t, memdtest.NewServer(t), ConnectionConfig{})

	version, err := conn.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memdtest.Version, version)
}

func TestConnectionEmptyKey(t *testing.T) {
	mock := memdtest.NewConnMock()
	conn := NewConnection(mock, ConnectionConfig{})
	ctx := context.Background()

	var ike *binprot.InvalidKeyError

	_, err := conn.Get(ctx, "")
	require.ErrorAs(t, err, &ike)

	_, err = conn.Set(ctx, Item{Value: []byte("v")})
	require.ErrorAs(t, err, &ike)

	_, err = conn.Add(ctx, Item{})
	require.ErrorAs(t, err, &ike)

	_, err = conn.Replace(ctx, Item{})
	require.ErrorAs(t, err, &ike)

	err = conn.Delete(ctx, "", binprot.CAS{})
	require.ErrorAs(t, err, &ike)

	assert.Empty(t, mock.Written(), "nothing must be sent")
	assert.False(t, conn.IsClosed())
}

func TestConnectionRejectsInconsistentRequest(t *testing.T) {
	mock := memdtest.NewConnMock()
	conn := NewConnection(mock, ConnectionConfig{})

	req, err := binprot.NewStoreRequest(binprot.OpSet, "k", []byte("v"), binprot.SetExtra{}, binprot.CAS{})
	require.NoError(t, err)
	req.Value = []byte("changed after the header was built")

	_, err = conn.Execute(context.Background(), req)

	var fe *binprot.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Empty(t, mock.Written(), "nothing must be sent")
	assert.False(t, conn.IsClosed())
}

func TestConnectionWritesRequest(t *testing.T) {
	setReq, err := binprot.NewStoreRequest(binprot.OpSet, "k", nil, binprot.SetExtra{}, binprot.CAS{})
	require.NoError(t, err)
	setReq.Header.Opaque = binprot.NewOpaque(1)

	mock := memdtest.NewConnMock(memdtest.Frame(
		binprot.NewResponse(setReq, binprot.StatusNoError, nil, nil, nil, binprot.NewCAS(5)),
	))
	conn := NewConnection(mock, ConnectionConfig{})

	cas, err := conn.Set(context.Background(), Item{
		Key:        "k",
		Value:      []byte("value"),
		Flags:      7,
		Expiration: 300,
		CAS:        binprot.NewCAS(3),
	})
	require.NoError(t, err)
	assert.Equal(t, binprot.NewCAS(5), cas)

	reqs, err := mock.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, binprot.OpSet, req.Header.Opcode)
	assert.Equal(t, binprot.NewOpaque(1), req.Header.Opaque)
	assert.Equal(t, binprot.NewCAS(3), req.Header.CAS)
	assert.Equal(t, "k", string(req.Key))
	assert.Equal(t, "value", string(req.Value))

	extra, err := binprot.DecodeSetExtra(req.Extra)
	require.NoError(t, err)
	assert.Equal(t, binprot.SetExtra{Flags: 7, Expiration: 300}, extra)
}

func TestConnectionOpaqueIncrements(t *testing.T) {
	var frames [][]byte
	for i := uint32(1); i <= 3; i++ {
		req := binprot.NewNoopRequest()
		req.Header.Opaque = binprot.NewOpaque(i)
		frames = append(frames, memdtest.Frame(binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{})))
	}

	mock := memdtest.NewConnMock(frames...)
	conn := NewConnection(mock, ConnectionConfig{})

	for range 3 {
		require.NoError(t, conn.Noop(context.Background()))
	}

	reqs, err := mock.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, binprot.NewOpaque(3), reqs[2].Header.Opaque)
}

func TestConnectionResponseMismatch(t *testing.T) {
	tests := []struct {
		name   string
		opcode binprot.Opcode
		opaque uint32
	}{
		{"opaque", binprot.OpNoop, 99},
		{"opcode", binprot.OpVersion, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := binprot.NewRequest(tt.opcode, nil, nil, nil, binprot.CAS{})
			require.NoError(t, err)
			req.Header.Opaque = binprot.NewOpaque(tt.opaque)

			mock := memdtest.NewConnMock(memdtest.Frame(
				binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{}),
			))
			conn := NewConnection(mock, ConnectionConfig{})

			err = conn.Noop(context.Background())

			var fe *binprot.FormatError
			require.ErrorAs(t, err, &fe)
			assert.True(t, conn.IsClosed())
			assert.True(t, mock.Closed())
		})
	}
}

func TestConnectionMissingCAS(t *testing.T) {
	req, err := binprot.NewStoreRequest(binprot.OpAdd, "k", nil, binprot.SetExtra{}, binprot.CAS{})
	require.NoError(t, err)
	req.Header.Opaque = binprot.NewOpaque(1)

	mock := memdtest.NewConnMock(memdtest.Frame(
		binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{}),
	))
	conn := NewConnection(mock, ConnectionConfig{})

	_, err = conn.Add(context.Background(), Item{Key: "k", Value: []byte("v")})

	var fe *binprot.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "missing CAS")
	assert.True(t, conn.IsClosed())
}

func TestConnectionMissingCASOnlyForStores(t *testing.T) {
	req := binprot.NewNoopRequest()
	req.Header.Opaque = binprot.NewOpaque(1)

	mock := memdtest.NewConnMock(memdtest.Frame(
		binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{}),
	))
	conn := NewConnection(mock, ConnectionConfig{})

	require.NoError(t, conn.Noop(context.Background()))
	assert.False(t, conn.IsClosed())
}

func TestConnectionTruncatedResponse(t *testing.T) {
	req := binprot.NewNoopRequest()
	req.Header.Opaque = binprot.NewOpaque(1)
	frame := memdtest.Frame(binprot.NewResponse(req, binprot.StatusNoError, nil, nil, []byte("body"), binprot.CAS{}))

	mock := memdtest.NewConnMock(frame[:len(frame)-2])
	conn := NewConnection(mock, ConnectionConfig{})

	err := conn.Noop(context.Background())

	var fe *binprot.FormatError
	require.ErrorAs(t, err, &fe)
	assert.True(t, conn.IsClosed())
}

func TestConnectionClosedByPeer(t *testing.T) {
	conn := NewConnection(memdtest.NewConnMock(), ConnectionConfig{})

	err := conn.Noop(context.Background())

	var te *binprot.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, conn.IsClosed())

	err = conn.Noop(context.Background())
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionServerError(t *testing.T) {
	server := memdtest.NewServer(t)
	server.SetInterceptor(func(req *binprot.Request) (*binprot.Response, bool) {
		if req.Header.Opcode != binprot.OpGet {
			return nil, false
		}
		return binprot.NewResponse(req, binprot.StatusBusy, nil, nil, []byte("busy"), binprot.CAS{}), true
	})
	conn := dialTestConnection(t, server, ConnectionConfig{})

	_, err := conn.Get(context.Background(), "k")

	var se *binprot.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, binprot.StatusBusy, se.Status)
	assert.False(t, conn.IsClosed())
	require.NoError(t, conn.Noop(context.Background()))
}

func TestConnectionDeadline(t *testing.T) {
	t.Run("from context", func(t *testing.T) {
		req := binprot.NewNoopRequest()
		req.Header.Opaque = binprot.NewOpaque(1)
		mock := memdtest.NewConnMock(memdtest.Frame(binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{})))
		conn := NewConnection(mock, ConnectionConfig{Timeout: time.Hour})

		deadline := time.Now().Add(time.Minute)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()

		require.NoError(t, conn.Noop(ctx))
		assert.True(t, deadline.Equal(mock.Deadline()))
	})

	t.Run("from config", func(t *testing.T) {
		req := binprot.NewNoopRequest()
		req.Header.Opaque = binprot.NewOpaque(1)
		mock := memdtest.NewConnMock(memdtest.Frame(binprot.NewResponse(req, binprot.StatusNoError, nil, nil, nil, binprot.CAS{})))
		conn := NewConnection(mock, ConnectionConfig{Timeout: time.Minute})

		before := time.Now()
		require.NoError(t, conn.Noop(context.Background()))
		assert.WithinDuration(t, before.Add(time.Minute), mock.Deadline(), 5*time.Second)
	})
}

func TestConnectionTimeout(t *testing.T) {
	server := memdtest.NewServer(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	server.SetInterceptor(func(req *binprot.Request) (*binprot.Response, bool) {
		<-release
		return nil, false
	})

	conn := dialTestConnection(t, server, ConnectionConfig{Timeout: 50 * time.Millisecond})

	start := time.Now()
	err := conn.Noop(context.Background())

	require.ErrorIs(t, err, binprot.ErrTimeout)
	var te *binprot.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, conn.IsClosed())
}

func TestConnectionContextCancel(t *testing.T) {
	server := memdtest.NewServer(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	server.SetInterceptor(func(req *binprot.Request) (*binprot.Response, bool) {
		<-release
		return nil, false
	})

	conn := dialTestConnection(t, server, ConnectionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := conn.Noop(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, binprot.ErrTimeout)
	assert.True(t, conn.IsClosed())
}

func TestConnectionAlreadyCancelled(t *testing.T) {
	mock := memdtest.NewConnMock()
	conn := NewConnection(mock, ConnectionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := conn.Noop(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.Written())
	assert.False(t, conn.IsClosed())
}

func TestConnectionSASL(t *testing.T) {
	server := memdtest.NewServer(t)
	server.RequireAuth("app", "s3cret")
	conn := dialTestConnection(t, server, ConnectionConfig{})
	ctx := context.Background()

	_, err := conn.Get(ctx, "k")
	require.ErrorIs(t, err, binprot.StatusAuthRequired)

	mechanisms, err := conn.SASLListMechanisms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"PLAIN"}, mechanisms)

	err = conn.SASLPlainAuth(ctx, "app", "wrong")
	var re *binprot.RequestError
	require.ErrorAs(t, err, &re)

	require.NoError(t, conn.SASLPlainAuth(ctx, "app", "s3cret"))

	_, err = conn.Get(ctx, "k")
	require.ErrorIs(t, err, binprot.StatusKeyNotFound)
}

func TestConnectionSASLCredentialBlob(t *testing.T) {
	req, err := binprot.NewSASLAuthRequest("PLAIN", nil)
	require.NoError(t, err)
	req.Header.Opaque = binprot.NewOpaque(1)

	mock := memdtest.NewConnMock(memdtest.Frame(
		binprot.NewResponse(req, binprot.StatusNoError, nil, nil, []byte("Authenticated"), binprot.CAS{}),
	))
	conn := NewConnection(mock, ConnectionConfig{})

	require.NoError(t, conn.SASLPlainAuth(context.Background(), "user", "pass"))

	reqs, err := mock.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, binprot.OpSASLAuth, reqs[0].Header.Opcode)
	assert.Equal(t, "PLAIN", string(reqs[0].Key))
	assert.Equal(t, SASLClientIdentity+"\x00user\x00pass", string(reqs[0].Value))
}

func TestConnectionConcurrentCallers(t *testing.T) {
	server := memdtest.NewServer(t)
	conn := dialTestConnection(t, server, ConnectionConfig{Timeout: 5 * time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			value := []byte(fmt.Sprintf("value-%d", i))

			if _, err := conn.Set(ctx, Item{Key: key, Value: value}); err != nil {
				errs <- err
				return
			}
			item, err := conn.Get(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			if string(item.Value) != string(value) {
				errs <- fmt.Errorf("key %s: got %q", key, item.Value)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 20, server.Len())
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	mock := memdtest.NewConnMock()
	conn := NewConnection(mock, ConnectionConfig{})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.True(t, mock.Closed())
}

func dialTestConnection(t testing.TB, server *memdtest.Server, config ConnectionConfig) *Connection {
	t.Helper()

	netConn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)

	conn := NewConnection(netConn, config)
	t.Cleanup(func() { conn.Close() })
	return conn
}
