package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Operation performs one fetch attempt. ctx carries the per-attempt timeout.
type Operation func(ctx context.Context) ([]byte, error)

type GuardConfig struct {
	// Timeout bounds each attempt
	Timeout time.Duration

	// RetryDelay is the fixed wait between attempts for retryable errors
	RetryDelay time.Duration

	// MaxAttempts counts the first attempt
	MaxAttempts int
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:     10 * time.Second,
		RetryDelay:  5 * time.Second,
		MaxAttempts: 3,
	}
}

func (c *GuardConfig) ApplyDefaults() {
	defaults := DefaultGuardConfig()
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
}

// Guard enforces single-flight and bounded retry for one poll task. Attempt
// deadlines and retry waits run on its clock.
type Guard struct {
	config GuardConfig
	clock  clock.Clock
	logger *zap.Logger

	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewGuard creates a guard. A nil clock means the real clock.
func NewGuard(config GuardConfig, clk clock.Clock, logger *zap.Logger) *Guard {
	config.ApplyDefaults()
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		config: config,
		clock:  clk,
		logger: logger.Named("guard"),
	}
}

// Execute runs op unless another execution is outstanding, in which case it
// returns ErrInFlight at once without calling op. 404 and transport failures
// are retried; anything else is returned after the first attempt.
func (g *Guard) Execute(ctx context.Context, op Operation) ([]byte, error) {
	g.mu.Lock()
	if g.inFlight.Load() {
		g.mu.Unlock()
		return nil, ErrInFlight
	}
	if g.closed {
		g.mu.Unlock()
		return nil, ErrCanceled
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.inFlight.Store(true)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.cancel = nil
		g.inFlight.Store(false)
		g.mu.Unlock()
		cancel()
	}()

	policy := backoff.NewConstantBackOff(g.config.RetryDelay)

	var (
		data     []byte
		err      error
		attempts int
	)
	for attempts < g.config.MaxAttempts {
		attempts++
		data, err = g.attempt(runCtx, op)

		// A result that lands after teardown is discarded.
		if runCtx.Err() != nil {
			return nil, ErrCanceled
		}
		if err == nil {
			return data, nil
		}
		if !Classify(err).Retryable() || attempts == g.config.MaxAttempts {
			break
		}

		delay := policy.NextBackOff()
		timer := g.clock.NewTimer(delay)
		g.logger.Debug("Retrying request",
			zap.Int("attempt", attempts),
			zap.String("kind", Classify(err).String()),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-timer.C():
		case <-runCtx.Done():
			timer.Stop()
			return nil, ErrCanceled
		}
	}

	if errors.Is(err, ErrCanceled) {
		return nil, ErrCanceled
	}
	return nil, fmt.Errorf("request failed after %d attempt(s): %w", attempts, err)
}

// attempt runs op once under the attempt timeout. A timed out attempt is
// reported as a transport failure whatever op returned.
func (g *Guard) attempt(ctx context.Context, op Operation) ([]byte, error) {
	attemptCtx, cancelAttempt := context.WithCancelCause(ctx)
	defer cancelAttempt(nil)

	timer := g.clock.NewTimer(g.config.Timeout)
	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-timer.C():
			cancelAttempt(context.DeadlineExceeded)
		case <-stop:
		}
	}()

	data, err := op(attemptCtx)

	timer.Stop()
	close(stop)
	<-watched

	if ctx.Err() == nil && errors.Is(context.Cause(attemptCtx), context.DeadlineExceeded) {
		return nil, &TransportError{Err: context.DeadlineExceeded}
	}
	return data, err
}

// InFlight reports whether an execution is outstanding
func (g *Guard) InFlight() bool {
	return g.inFlight.Load()
}

// Cancel aborts the outstanding execution, if any
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
}

// Close aborts the outstanding execution and rejects future ones
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.cancel != nil {
		g.cancel()
	}
}
