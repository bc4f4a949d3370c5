package polling

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
)

// Trigger records why a fetch ran
type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerTick    Trigger = "tick"
	TriggerRefresh Trigger = "refresh"
)

// Result is the outcome of one guarded fetch
type Result struct {
	Data    []byte
	Err     error
	Kind    ErrorKind
	Trigger Trigger
	Latency time.Duration
}

// Scheduler invokes a fetch on a fixed cadence through a Guard. Ticks are
// relative to the schedule: a tick that lands while a fetch is outstanding
// is dropped, not queued.
type Scheduler struct {
	guard    *Guard
	fetch    Operation
	onResult func(Result)
	clock    clock.WithTicker
	metrics  performance.Metrics
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	interval time.Duration
	ticker   clock.Ticker
	stopTick chan struct{}
	closed   bool
}

func NewScheduler(
	interval time.Duration,
	guard *Guard,
	fetch Operation,
	onResult func(Result),
	clk clock.WithTicker,
	metrics performance.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if metrics == nil {
		metrics = performance.NoopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewGuard(DefaultGuardConfig(), clk, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		guard:    guard,
		fetch:    fetch,
		onResult: onResult,
		clock:    clk,
		metrics:  metrics,
		logger:   logger.Named("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
	}
}

// Start fetches once immediately and then on every interval. Calling Start
// while running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stopTick != nil {
		return
	}

	s.startTickerLocked()
	s.fireLocked(TriggerStart)
}

// Stop halts the cadence. An outstanding fetch is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
}

// SetInterval restarts the cadence with a new interval without touching an
// outstanding fetch.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval <= 0 || interval == s.interval {
		return
	}

	s.logger.Debug("Poll interval changed", zap.Duration("from", s.interval), zap.Duration("to", interval))
	s.interval = interval

	if s.stopTick != nil {
		s.stopTickerLocked()
		s.startTickerLocked()
	}
}

// Refresh performs one fetch outside the cadence, still single-flight.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireLocked(TriggerRefresh)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTick != nil
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Close stops the cadence, aborts the outstanding fetch and waits for all
// scheduler goroutines. No result is delivered after Close returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTickerLocked()
	s.cancel()
	s.mu.Unlock()

	s.guard.Close()
	s.wg.Wait()
}

func (s *Scheduler) startTickerLocked() {
	stop := make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)
	s.stopTick = stop
	s.ticker = ticker

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				s.mu.Lock()
				// A tick can race a restart; only the current ticker fires.
				if s.stopTick == stop {
					s.fireLocked(TriggerTick)
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Scheduler) stopTickerLocked() {
	if s.stopTick == nil {
		return
	}
	s.ticker.Stop()
	close(s.stopTick)
	s.stopTick = nil
	s.ticker = nil
}

func (s *Scheduler) fireLocked(trigger Trigger) {
	if s.closed {
		return
	}

	if s.guard.InFlight() {
		s.skip(trigger)
		return
	}

	s.wg.Add(1)
	go s.run(trigger)
}

func (s *Scheduler) run(trigger Trigger) {
	defer s.wg.Done()

	start := s.clock.Now()
	data, err := s.guard.Execute(s.ctx, s.fetch)
	latency := s.clock.Since(start)

	if errors.Is(err, ErrInFlight) {
		s.skip(trigger)
		return
	}

	kind := Classify(err)
	switch kind {
	case KindNone:
		s.metrics.ObservePoll(performance.OutcomeSuccess, latency)
	case KindCanceled:
		s.metrics.ObservePoll(performance.OutcomeCanceled, latency)
		s.logger.Debug("Fetch canceled", zap.String("trigger", string(trigger)))
		return
	default:
		s.metrics.ObservePoll(performance.OutcomeFailure, latency)
	}

	if s.onResult != nil {
		s.onResult(Result{Data: data, Err: err, Kind: kind, Trigger: trigger, Latency: latency})
	}
}

func (s *Scheduler) skip(trigger Trigger) {
	s.metrics.IncrementSkipped()
	s.logger.Debug("Skipping fetch, previous request still in flight", zap.String("trigger", string(trigger)))
}
