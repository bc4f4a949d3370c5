package performance

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig configures NewCircuitBreaker
type BreakerConfig struct {
	Name string

	// MaxFailures is the number of consecutive counted failures that opens the circuit
	MaxFailures uint32

	// ResetTimeout is how long the circuit stays open before a half-open probe
	ResetTimeout time.Duration

	// IsSuccessful decides whether an error counts against the breaker.
	// Nil counts every error.
	IsSuccessful func(err error) bool
}

type circuitBreaker struct {
	cb *gobreaker.CircuitBreaker[[]byte]
}

func NewCircuitBreaker(cfg BreakerConfig, logger *zap.Logger) CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state transition",
				zap.String("breaker", name),
				zap.String("from", stateToString(from)),
				zap.String("to", stateToString(to)))
		},
		IsSuccessful: cfg.IsSuccessful,
	}

	return &circuitBreaker{cb: gobreaker.NewCircuitBreaker[[]byte](settings)}
}

// Execute runs fn through the breaker. An open circuit returns gobreaker.ErrOpenState
// without calling fn.
func (b *circuitBreaker) Execute(fn func() ([]byte, error)) ([]byte, error) {
	return b.cb.Execute(fn)
}

func (b *circuitBreaker) GetState() string {
	return stateToString(b.cb.State())
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
