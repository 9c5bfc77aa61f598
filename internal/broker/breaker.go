package broker

import (
	"sync"
	"time"
)

// CircuitState represents the state of an endpoint circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// BreakerConfig holds endpoint circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// endpoint is skipped.
	FailureThreshold int
	// Cooldown is how long an open endpoint is skipped before it is probed
	// again.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used by the Binance client.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         5 * time.Minute,
	}
}

// endpointBreaker tracks one base URL. An endpoint that keeps answering
// with a restriction or a server error is moved to the back of the
// fallback order until its cooldown elapses. It is never removed.
type endpointBreaker struct {
	config BreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time

	totalFailures  int64
	totalSuccesses int64
}

func newEndpointBreaker(config BreakerConfig) *endpointBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &endpointBreaker{config: config, state: CircuitClosed}
}

// allow reports whether the endpoint should be tried ahead of the others.
func (cb *endpointBreaker) allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if now.Sub(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *endpointBreaker) recordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failures = 0
	cb.state = CircuitClosed
}

func (cb *endpointBreaker) recordFailure(now time.Time) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.lastFailureTime = now

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

func (cb *endpointBreaker) stats(base string) EndpointStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return EndpointStats{
		BaseURL:         base,
		State:           cb.state,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// EndpointStats holds per-endpoint breaker statistics.
type EndpointStats struct {
	BaseURL         string       `json:"baseUrl"`
	State           CircuitState `json:"state"`
	TotalSuccesses  int64        `json:"totalSuccesses"`
	TotalFailures   int64        `json:"totalFailures"`
	CurrentFailures int          `json:"currentFailures"`
	LastFailureTime time.Time    `json:"lastFailureTime"`
}

// orderEndpoints returns the base URLs with endpoints whose circuit is open
// moved to the end, preserving configured order within each group.
func orderEndpoints(bases []string, breakers map[string]*endpointBreaker, now time.Time) []string {
	ordered := make([]string, 0, len(bases))
	var skipped []string
	for _, base := range bases {
		if cb, ok := breakers[base]; ok && !cb.allow(now) {
			skipped = append(skipped, base)
			continue
		}
		ordered = append(ordered, base)
	}
	return append(ordered, skipped...)
}
