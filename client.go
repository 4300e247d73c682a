package memdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/pior/memdoc/binprot"
	"github.com/sony/gobreaker/v2"
)

// DefaultPort is the memcached port.
const DefaultPort = 11211

var ErrPlainUnsupported = errors.New("memdoc: server does not offer SASL PLAIN")

// Config holds configuration for the client.
type Config struct {
	// Addr is the server host:port. See HostPort.
	Addr string

	// Username enables SASL PLAIN authentication on every new connection.
	Username string
	Password string

	// Timeout bounds each request/response exchange when the context has no
	// deadline. Zero means no deadline.
	Timeout time.Duration

	// MaxConns is the maximum number of connections. Each connection serves
	// one caller at a time; other callers wait for a connection to be
	// released. Defaults to 1.
	MaxConns int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Checked by the health check loop. Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle.
	// Checked by the health check loop. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are checked with a
	// noop. Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is used to open connections. If nil, a zero net.Dialer is used.
	Dialer *net.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CircuitBreakerSettings enables a circuit breaker around every request.
	// If IsSuccessful is nil, only errors that close the connection count as
	// failures. If Name is empty, Addr is used.
	CircuitBreakerSettings *gobreaker.Settings
}

// DefaultConfig returns a configuration for a local server.
func DefaultConfig() Config {
	return Config{
		Addr:     HostPort("localhost", DefaultPort),
		Timeout:  time.Second,
		MaxConns: 1,
	}
}

// HostPort builds a server address.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Client sends commands over connections leased from a small pool, dialing
// and authenticating them on demand. A connection that returns a transport
// or format error is destroyed and the next request dials a new one.
type Client struct {
	*Commands

	config  Config
	logger  *slog.Logger
	pool    *connPool
	breaker *gobreaker.CircuitBreaker[*binprot.Response]
	stats   *clientStatsCollector

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
}

var _ Executor = (*Client)(nil)

// NewClient creates a client. No connection is opened until the first
// request.
func NewClient(config Config) (*Client, error) {
	if config.Addr == "" {
		return nil, errors.New("memdoc: no server address")
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 1
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Client{
		config:          config,
		logger:          config.Logger.With("addr", config.Addr),
		stats:           newClientStatsCollector(),
		stopHealthCheck: make(chan struct{}),
	}
	c.Commands = NewCommands(c)

	pool, err := newConnPool(c.dial, config.MaxConns)
	if err != nil {
		return nil, err
	}
	c.pool = pool

	if config.CircuitBreakerSettings != nil {
		settings := *config.CircuitBreakerSettings
		if settings.Name == "" {
			settings.Name = config.Addr
		}
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = isSuccessful
		}
		c.breaker = gobreaker.NewCircuitBreaker[*binprot.Response](settings)
	}

	if config.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	}

	return c, nil
}

// Close destroys all connections. Requests made afterwards fail with a
// TransportError wrapping ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)
		c.pool.close()
	})
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.config.Addr
}

// Execute sends req on a leased connection.
func (c *Client) Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	resp, err := c.execute(ctx, req)
	c.stats.record(req.Header.Opcode, err)
	return resp, err
}

func (c *Client) execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	if c.breaker == nil {
		return c.execDirect(ctx, req)
	}

	resp, err := c.breaker.Execute(func() (*binprot.Response, error) {
		return c.execDirect(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &binprot.TransportError{Op: "execute", Err: err}
	}
	return resp, err
}

func (c *Client) execDirect(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	res, err := c.pool.acquire(ctx)
	if err != nil {
		var te *binprot.TransportError
		if !errors.As(err, &te) && (errors.Is(err, ErrClientClosed) || ctx.Err() != nil) {
			err = &binprot.TransportError{Op: "acquire", Err: err}
		}
		return nil, err
	}

	resp, err := res.Value().Execute(ctx, req)
	if binprot.ShouldCloseConnection(err) {
		c.logger.Debug("memdoc: destroying connection", "opcode", req.Header.Opcode, "error", err)
		res.Destroy()
	} else {
		res.Release()
	}

	return resp, err
}

// dial opens and authenticates a connection. Used as the pool constructor.
func (c *Client) dial(ctx context.Context) (*Connection, error) {
	netConn, err := c.config.Dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return nil, &binprot.TransportError{Op: "dial", Err: err}
	}

	conn := NewConnection(netConn, ConnectionConfig{Timeout: c.config.Timeout})

	if c.config.Username != "" {
		if err := c.authenticate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
	}

	c.logger.Debug("memdoc: connected", "authenticated", c.config.Username != "")
	return conn, nil
}

func (c *Client) authenticate(ctx context.Context, conn *Connection) error {
	mechanisms, err := conn.SASLListMechanisms(ctx)
	if err != nil {
		return fmt.Errorf("memdoc: listing SASL mechanisms: %w", err)
	}
	if !slices.Contains(mechanisms, "PLAIN") {
		return fmt.Errorf("%w (offered: %v)", ErrPlainUnsupported, mechanisms)
	}

	if err := conn.SASLPlainAuth(ctx, c.config.Username, c.config.Password); err != nil {
		return fmt.Errorf("memdoc: SASL PLAIN authentication as %q: %w", c.config.Username, err)
	}
	return nil
}

func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkConnections()
		}
	}
}

// checkConnections destroys idle connections that are too old, idle for too
// long, or do not answer a noop.
func (c *Client) checkConnections() {
	now := time.Now()

	for _, res := range c.pool.acquireAllIdle() {
		if c.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.config.MaxConnLifetime {
			res.Destroy()
			continue
		}

		if c.config.MaxConnIdleTime > 0 && res.IdleDuration() > c.config.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if err := c.healthCheck(res.Value()); err != nil {
			c.logger.Warn("memdoc: health check failed", "error", err)
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (c *Client) healthCheck(conn *Connection) error {
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return conn.Noop(ctx)
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the connection pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.stats()
}

// CircuitBreakerState returns the breaker state, StateClosed when no
// breaker is configured.
func (c *Client) CircuitBreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// CircuitBreakerCounts returns the breaker counters of the current period.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	if c.breaker == nil {
		return gobreaker.Counts{}
	}
	return c.breaker.Counts()
}
