// Package promstats exports memdoc client statistics to Prometheus.
package promstats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/memdoc"
)

// Source is what the collector reads on every scrape. *memdoc.Client
// implements it.
type Source interface {
	Addr() string
	Stats() memdoc.ClientStats
	PoolStats() memdoc.PoolStats
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

var _ Source = (*memdoc.Client)(nil)

// Collector is a prometheus.Collector reading snapshots of a Source. Values
// are taken at scrape time; nothing is recorded in between.
type Collector struct {
	source Source

	operations    *prometheus.Desc
	getHits       *prometheus.Desc
	conflicts     *prometheus.Desc
	errors        *prometheus.Desc
	poolConns     *prometheus.Desc
	poolCreated   *prometheus.Desc
	poolDestroyed *prometheus.Desc
	poolAcquires  *prometheus.Desc
	poolWaits     *prometheus.Desc
	poolWaitTime  *prometheus.Desc
	poolErrors    *prometheus.Desc
	circuitState  *prometheus.Desc
	circuitCounts *prometheus.Desc
}

// NewCollector creates a collector for source. Every metric carries a
// "server" label with the source address.
func NewCollector(source Source) *Collector {
	labels := prometheus.Labels{"server": source.Addr()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc("memdoc_"+name, help, variable, labels)
	}

	return &Collector{
		source: source,

		operations: desc("operations_total", "Requests sent, by command.", "command"),
		getHits:    desc("get_hits_total", "Get requests that found the key."),
		conflicts:  desc("cas_conflicts_total", "Requests rejected because the CAS did not match."),
		errors:     desc("errors_total", "Failed requests, status errors included."),

		poolConns:     desc("pool_connections", "Open connections, by state.", "state"),
		poolCreated:   desc("pool_connections_created_total", "Connections dialed."),
		poolDestroyed: desc("pool_connections_destroyed_total", "Connections closed after an error or a failed health check."),
		poolAcquires:  desc("pool_acquires_total", "Successful connection acquires."),
		poolWaits:     desc("pool_acquire_waits_total", "Acquires that waited for a connection."),
		poolWaitTime:  desc("pool_acquire_wait_seconds_total", "Time spent waiting for a connection."),
		poolErrors:    desc("pool_acquire_errors_total", "Acquires cancelled by their context."),

		circuitState:  desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)."),
		circuitCounts: desc("circuit_breaker_requests", "Circuit breaker counts of the current period, by kind.", "kind"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.getHits
	ch <- c.conflicts
	ch <- c.errors
	ch <- c.poolConns
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolAcquires
	ch <- c.poolWaits
	ch <- c.poolWaitTime
	ch <- c.poolErrors
	ch <- c.circuitState
	ch <- c.circuitCounts
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	counter(c.operations, stats.Gets, "get")
	counter(c.operations, stats.Sets, "set")
	counter(c.operations, stats.Adds, "add")
	counter(c.operations, stats.Replaces, "replace")
	counter(c.operations, stats.Deletes, "delete")
	counter(c.operations, stats.Touches, "touch")
	counter(c.getHits, stats.GetHits)
	counter(c.conflicts, stats.Conflicts)
	counter(c.errors, stats.Errors)

	pool := c.source.PoolStats()
	gauge(c.poolConns, float64(pool.TotalConns), "total")
	gauge(c.poolConns, float64(pool.IdleConns), "idle")
	gauge(c.poolConns, float64(pool.ActiveConns), "active")
	counter(c.poolCreated, pool.CreatedConns)
	counter(c.poolDestroyed, pool.DestroyedConns)
	counter(c.poolAcquires, pool.AcquireCount)
	counter(c.poolWaits, pool.AcquireWaitCount)
	ch <- prometheus.MustNewConstMetric(c.poolWaitTime, prometheus.CounterValue, float64(pool.AcquireWaitTimeNs)/1e9)
	counter(c.poolErrors, pool.AcquireErrors)

	gauge(c.circuitState, float64(c.source.CircuitBreakerState()))
	counts := c.source.CircuitBreakerCounts()
	gauge(c.circuitCounts, float64(counts.Requests), "requests")
	gauge(c.circuitCounts, float64(counts.TotalSuccesses), "successes")
	gauge(c.circuitCounts, float64(counts.TotalFailures), "failures")
	gauge(c.circuitCounts, float64(counts.ConsecutiveFailures), "consecutive_failures")
}

// Handler serves the metrics of sources on a dedicated registry.
func Handler(sources ...Source) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	for _, s := range sources {
		if err := registry.Register(NewCollector(s)); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
