package performance

import "time"

// Metrics defines metrics collection operations for one sync target
type Metrics interface {
	IncrementReceived()
	IncrementDropped(reason string)
	IncrementHeartbeat()
	IncrementConnectionError()
	IncrementReconnection()
	IncrementSkipped()
	ObservePoll(outcome string, latency time.Duration)
}

// CircuitBreaker defines circuit breaker operations
type CircuitBreaker interface {
	Execute(fn func() ([]byte, error)) ([]byte, error)
	GetState() string
}
