package memdoc

import (
	"errors"
	"sync/atomic"

	"github.com/pior/memdoc/binprot"
)

// PoolStats is a snapshot of the connection lease.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Counter: AcquireWaitTimeNs (seconds once divided)
type PoolStats struct {
	AcquireCount      uint64 // Total successful acquires
	AcquireWaitCount  uint64 // Acquires that had to wait for a connection
	CreatedConns      uint64 // Connections dialed (and authenticated)
	DestroyedConns    uint64 // Connections closed after an error or a failed health check
	AcquireErrors     uint64 // Acquires cancelled by their context
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Connections currently open
	IdleConns   int32 // Connections waiting for a caller
	ActiveConns int32 // Connections leased to a caller
}

// ClientStats contains statistics about client operations.
// All fields are updated atomically.
type ClientStats struct {
	Gets     uint64 // Get requests
	GetHits  uint64 // Get requests that found the key
	Sets     uint64
	Adds     uint64
	Replaces uint64
	Deletes  uint64
	Touches  uint64

	Conflicts uint64 // Status errors "key exists"
	Errors    uint64 // All failed requests, status errors included
}

type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

// record counts a completed exchange.
func (c *clientStatsCollector) record(opcode binprot.Opcode, err error) {
	switch opcode {
	case binprot.OpGet:
		atomic.AddUint64(&c.stats.Gets, 1)
		if err == nil {
			atomic.AddUint64(&c.stats.GetHits, 1)
		}
	case binprot.OpSet:
		atomic.AddUint64(&c.stats.Sets, 1)
	case binprot.OpAdd:
		atomic.AddUint64(&c.stats.Adds, 1)
	case binprot.OpReplace:
		atomic.AddUint64(&c.stats.Replaces, 1)
	case binprot.OpDelete:
		atomic.AddUint64(&c.stats.Deletes, 1)
	case binprot.OpTouch:
		atomic.AddUint64(&c.stats.Touches, 1)
	}

	if err == nil {
		return
	}
	atomic.AddUint64(&c.stats.Errors, 1)

	if errors.Is(err, binprot.StatusKeyExists) {
		atomic.AddUint64(&c.stats.Conflicts, 1)
	}
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:      atomic.LoadUint64(&c.stats.Gets),
		GetHits:   atomic.LoadUint64(&c.stats.GetHits),
		Sets:      atomic.LoadUint64(&c.stats.Sets),
		Adds:      atomic.LoadUint64(&c.stats.Adds),
		Replaces:  atomic.LoadUint64(&c.stats.Replaces),
		Deletes:   atomic.LoadUint64(&c.stats.Deletes),
		Touches:   atomic.LoadUint64(&c.stats.Touches),
		Conflicts: atomic.LoadUint64(&c.stats.Conflicts),
		Errors:    atomic.LoadUint64(&c.stats.Errors),
	}
}
