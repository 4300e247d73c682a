package memdoc

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

var ErrClientClosed = errors.New("memdoc: client closed")

// connPool leases connections exclusively: a connection is used by one
// caller at a time, then released for the next one or destroyed when its
// stream can no longer be trusted.
type connPool struct {
	pool           *puddle.Pool[*Connection]
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

func newConnPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (*connPool, error) {
	p := &connPool{}

	pool, err := puddle.NewPool(&puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}

	p.pool = pool
	return p, nil
}

func (p *connPool) acquire(ctx context.Context) (*puddle.Resource[*Connection], error) {
	res, err := p.pool.Acquire(ctx)
	if errors.Is(err, puddle.ErrClosedPool) {
		return nil, ErrClientClosed
	}
	return res, err
}

func (p *connPool) acquireAllIdle() []*puddle.Resource[*Connection] {
	return p.pool.AcquireAllIdle()
}

func (p *connPool) close() {
	p.pool.Close()
}

func (p *connPool) stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
