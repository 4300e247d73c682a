package memdoc

import (
	"time"

	"github.com/pior/memdoc/binprot"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerSettings returns breaker settings for the common case: the
// breaker trips once at least 3 requests were seen in the interval and 60% of
// them broke their connection.
func NewCircuitBreakerSettings(maxRequests uint32, interval, timeout time.Duration) *gobreaker.Settings {
	return &gobreaker.Settings{
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: isSuccessful,
	}
}

// isSuccessful counts status errors as successes: the server answered and
// the connection is still usable.
func isSuccessful(err error) bool {
	return !binprot.ShouldCloseConnection(err)
}
