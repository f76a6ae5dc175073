package capability

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker constructs a sony/gobreaker.CircuitBreaker for one capability,
// named for logging/metrics. It trips after 5 consecutive RuntimeErrors and
// stays open for 30s, matching the "wedged model degrades to skip this
// source" behavior from §4.2.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
