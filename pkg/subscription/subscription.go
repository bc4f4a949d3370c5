package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/pkg/lifecycle"
	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

// ErrNotSocket is returned by Send on poll subscriptions
var ErrNotSocket = errors.New("target is not a socket")

var refreshFrame = []byte(`{"type":"refresh"}`)

const eventBuffer = 64

// Status is a point-in-time view of a subscription
type Status struct {
	ID     string
	Target Target

	Active     bool
	Background bool

	// State, Attempts and Exhausted describe the socket of socket targets
	State     connection.ConnectionState
	Attempts  int
	Exhausted bool

	LastUpdated time.Time
	LastError   error
	Records     int
}

func (st Status) equal(other Status) bool {
	return st.ID == other.ID &&
		st.Target == other.Target &&
		st.Active == other.Active &&
		st.Background == other.Background &&
		st.State == other.State &&
		st.Attempts == other.Attempts &&
		st.Exhausted == other.Exhausted &&
		st.LastUpdated.Equal(other.LastUpdated) &&
		sameError(st.LastError, other.LastError) &&
		st.Records == other.Records
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Error() == b.Error()
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventState
	eventResult
)

type event struct {
	kind   eventKind
	gen    uint64
	frame  []byte
	state  connection.ConnectionState
	result polling.Result
}

// activation is one live transport: a socket controller or a poll scheduler
type activation struct {
	gen        uint64
	stop       chan struct{}
	controller *connection.Controller
	scheduler  *polling.Scheduler
	background bool
}

// Subscription binds one target to one subscriber callback. It owns at most
// one transport at a time. Callbacks run one at a time on the subscription's
// own goroutine.
type Subscription struct {
	id       string
	config   Config
	deps     Deps
	router   *base.Router
	observer *lifecycle.Observer
	logger   *zap.Logger

	events  chan event
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	teardownOnce sync.Once

	mu        sync.Mutex
	signals   []lifecycle.Signal
	current   *activation
	gen       uint64
	exhausted bool
	snapshot  *base.Snapshot
	status    Status
}

// Mount creates a subscription and starts it if the subscriber is focused
// and the host state allows it.
func Mount(config Config, deps Deps) (*Subscription, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription config: %w", err)
	}
	deps.applyDefaults(config.BaseURL)

	id := uuid.NewString()
	logger := deps.Logger.Named("subscription").With(
		zap.String("subscription_id", id),
		zap.Stringer("target", config.Target),
	)

	mode := base.ModeReplace
	if config.Target.Transport == TransportSocket {
		mode = base.ModeMergeByID
	}

	s := &Subscription{
		id:       id,
		config:   config,
		deps:     deps,
		router:   base.NewRouter(nil, deps.Metrics, logger),
		logger:   logger,
		events:   make(chan event, eventBuffer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		snapshot: base.NewSnapshot(mode),
		status: Status{
			ID:     id,
			Target: config.Target,
			State:  connection.StateIdle,
		},
	}

	s.observer = lifecycle.NewObserver(deps.Host, lifecycle.Options{
		HoldInBackground: config.holdInBackground(),
		Focused:          !config.Unfocused,
	}, s.pushSignal, logger)

	go s.loop()
	s.observer.Start()

	logger.Info("Subscription mounted", zap.Stringer("merge", mode))
	return s, nil
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Target() Target {
	return s.config.Target
}

// Status returns the current status
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a copy of the last-known-good records
func (s *Subscription) Snapshot() []base.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Records()
}

// SetFocused reports subscriber focus. Losing focus releases the transport.
func (s *Subscription) SetFocused(focused bool) {
	if s.isDone() {
		return
	}
	s.observer.SetFocused(focused)
}

// Refresh asks for fresh data now: one extra guarded fetch for poll targets,
// a refresh frame for socket targets. It is a no-op while inactive.
func (s *Subscription) Refresh() error {
	if s.isDone() {
		return ErrTornDown
	}

	s.mu.Lock()
	act := s.current
	s.mu.Unlock()

	switch {
	case act == nil:
		return nil
	case act.scheduler != nil:
		act.scheduler.Refresh()
		return nil
	default:
		if err := act.controller.Send(refreshFrame); err != nil && !errors.Is(err, connection.ErrNotConnected) {
			return err
		}
		return nil
	}
}

// Send passes frame to the socket verbatim
func (s *Subscription) Send(frame []byte) error {
	if s.isDone() {
		return ErrTornDown
	}
	if s.config.Target.Transport != TransportSocket {
		return ErrNotSocket
	}

	s.mu.Lock()
	act := s.current
	s.mu.Unlock()

	if act == nil {
		return connection.ErrNotConnected
	}
	return act.controller.Send(frame)
}

// Teardown releases the transport, cancels any outstanding request and stops
// all timers. It waits for a running callback to return, so no callback runs
// after it returns. Callbacks must use Close instead.
func (s *Subscription) Teardown() {
	s.Close()
	<-s.stopped
}

// Close starts the teardown without waiting for it. The release completes
// once the running callback, if any, returns.
func (s *Subscription) Close() {
	s.teardownOnce.Do(func() {
		s.observer.Close()
		close(s.done)
	})
}

// Done is closed once the transport is released after Close or Teardown
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

func (s *Subscription) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// pushSignal runs on the observer's goroutine and never blocks
func (s *Subscription) pushSignal(signal lifecycle.Signal) {
	s.mu.Lock()
	s.signals = append(s.signals, signal)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueue hands a transport event to the loop. It gives up once the
// activation that produced it is stopped or the subscription is torn down.
func (s *Subscription) enqueue(ev event, stop <-chan struct{}) {
	select {
	case s.events <- ev:
	case <-stop:
	case <-s.done:
	}
}

func (s *Subscription) loop() {
	defer close(s.stopped)
	defer s.release()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.drainSignals()
		case ev := <-s.events:
			if s.isDone() {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Subscription) drainSignals() {
	s.mu.Lock()
	signals := s.signals
	s.signals = nil
	s.mu.Unlock()

	for _, signal := range signals {
		if s.isDone() {
			return
		}
		s.applySignal(signal)
	}
}

func (s *Subscription) applySignal(signal lifecycle.Signal) {
	s.mu.Lock()
	act := s.current
	s.mu.Unlock()

	if signal.Kind == lifecycle.Deactivate {
		if act != nil {
			s.logger.Debug("Deactivating", zap.Bool("background", signal.Background))
			s.deactivate(act)
		}
		s.updateStatus(func(st *Status) {
			st.Active = false
			st.Background = signal.Background
		})
		return
	}

	if act != nil {
		if act.background == signal.Background {
			return
		}
		act.background = signal.Background
		if act.scheduler != nil {
			act.scheduler.SetInterval(s.config.interval(signal.Background))
		}
		s.updateStatus(func(st *Status) { st.Background = signal.Background })
		return
	}

	s.mu.Lock()
	exhausted := s.exhausted
	s.mu.Unlock()
	if exhausted {
		s.logger.Debug("Not reactivating, reconnect budget was exhausted")
		return
	}

	s.activate(signal.Background)
}

func (s *Subscription) activate(background bool) {
	s.mu.Lock()
	s.gen++
	act := &activation{
		gen:        s.gen,
		stop:       make(chan struct{}),
		background: background,
	}
	s.mu.Unlock()

	if s.config.Target.Transport == TransportSocket {
		act.controller = s.newController(act)
	} else {
		act.scheduler = s.newScheduler(act)
	}

	s.mu.Lock()
	s.current = act
	s.mu.Unlock()

	s.logger.Debug("Activating", zap.Uint64("generation", act.gen), zap.Bool("background", background))
	s.updateStatus(func(st *Status) {
		st.Active = true
		st.Background = background
	})

	if act.controller != nil {
		act.controller.Start(context.Background())
	} else {
		act.scheduler.Start()
	}
}

func (s *Subscription) newController(act *activation) *connection.Controller {
	controller := connection.NewController(
		s.config.Connection,
		s.deps.Dialer,
		s.deps.Auth,
		s.deps.Metrics,
		s.deps.Clock,
		s.logger,
	)
	controller.SetCallbacks(
		func(frame []byte) {
			s.enqueue(event{kind: eventFrame, gen: act.gen, frame: frame}, act.stop)
		},
		func(_, to connection.ConnectionState) {
			s.enqueue(event{kind: eventState, gen: act.gen, state: to}, act.stop)
		},
	)
	return controller
}

func (s *Subscription) newScheduler(act *activation) *polling.Scheduler {
	path := s.config.Target.Path()
	fetcher := s.deps.Fetcher

	return polling.NewScheduler(
		s.config.interval(act.background),
		polling.NewGuard(s.config.Guard, s.deps.Clock, s.logger),
		func(ctx context.Context) ([]byte, error) {
			return fetcher.Get(ctx, path)
		},
		func(result polling.Result) {
			s.enqueue(event{kind: eventResult, gen: act.gen, result: result}, act.stop)
		},
		s.deps.Clock,
		s.deps.Metrics,
		s.logger,
	)
}

// deactivate stops act and waits for its goroutines. The stop channel is
// closed first so transport goroutines blocked on enqueue can exit.
func (s *Subscription) deactivate(act *activation) {
	s.mu.Lock()
	if s.current == act {
		s.current = nil
	}
	s.mu.Unlock()

	close(act.stop)
	if act.controller != nil {
		if err := act.controller.Disconnect(); err != nil {
			s.logger.Debug("Disconnect returned error", zap.Error(err))
		}
	}
	if act.scheduler != nil {
		act.scheduler.Close()
	}
}

func (s *Subscription) release() {
	s.mu.Lock()
	act := s.current
	s.mu.Unlock()

	if act != nil {
		s.deactivate(act)
	}

	s.mu.Lock()
	s.status.Active = false
	if act != nil && act.controller != nil {
		s.status.State = connection.StateClosed
	}
	s.mu.Unlock()

	s.logger.Info("Subscription torn down")
}

func (s *Subscription) handle(ev event) {
	s.mu.Lock()
	act := s.current
	s.mu.Unlock()

	// Events from a released transport are stale.
	if act == nil || act.gen != ev.gen {
		return
	}

	switch ev.kind {
	case eventFrame:
		msg := s.router.Handle(ev.frame)
		if msg.Kind == base.KindPayload {
			s.deliver(msg.Records, msg.Full && !s.config.Target.SingleSite())
		}

	case eventState:
		s.connectionChanged(act, ev.state)

	case eventResult:
		s.pollCompleted(ev.result)
	}
}

func (s *Subscription) connectionChanged(act *activation, state connection.ConnectionState) {
	attempts := act.controller.Attempts()
	exhausted := act.controller.Exhausted()

	if exhausted {
		s.mu.Lock()
		s.exhausted = true
		s.mu.Unlock()
		s.logger.Error("Live updates lost, reconnect budget exhausted", zap.Int("attempts", attempts))
	}

	s.updateStatus(func(st *Status) {
		st.State = state
		st.Attempts = attempts
		st.Exhausted = exhausted
		switch {
		case exhausted:
			st.LastError = connection.ErrBudgetExhausted
		case state == connection.StateOpen:
			st.LastError = nil
		case state == connection.StateReconnecting:
			st.LastError = act.controller.LastError()
		}
	})
}

func (s *Subscription) pollCompleted(result polling.Result) {
	if result.Err != nil {
		s.fail(result.Err)
		return
	}

	msg := s.router.Handle(result.Data)
	if msg.Kind != base.KindPayload {
		err := msg.Err
		if err == nil {
			err = errors.New("response carried no records")
		}
		s.fail(&polling.DecodeError{Err: err})
		return
	}

	s.deliver(msg.Records, false)
}

func (s *Subscription) fail(err error) {
	severity := Assess(err)
	switch severity {
	case SeverityIgnore:
		s.logger.Debug("Ignoring expected error", zap.Error(err))
		return
	case SeveritySoft:
		s.logger.Warn("Update failed, keeping last known data",
			zap.String("kind", polling.Classify(err).String()),
			zap.Error(err))
	default:
		s.logger.Error("Update failed permanently", zap.Error(err))
	}

	s.updateStatus(func(st *Status) {
		st.LastError = err
		if severity == SeverityTerminal {
			st.Exhausted = true
		}
	})
}

// deliver folds records into the snapshot. A full listing on the site list
// stream replaces it so sites the backend no longer reports are dropped.
func (s *Subscription) deliver(records []base.Record, full bool) {
	s.mu.Lock()
	var changed []base.Record
	if full {
		changed = s.snapshot.Replace(records)
	} else {
		changed = s.snapshot.Apply(records)
	}
	all := s.snapshot.Records()
	s.mu.Unlock()

	s.logger.Debug("Applying payload", zap.Int("records", len(records)), zap.Int("total", len(all)))

	update := Update{Target: s.config.Target, Records: all, Changed: changed}
	s.invoke("update", func() { s.config.OnUpdate(update) })

	now := s.deps.Clock.Now()
	s.updateStatus(func(st *Status) {
		st.LastUpdated = now
		st.Records = len(all)
		if st.LastError != nil && Assess(st.LastError) != SeverityTerminal {
			st.LastError = nil
		}
	})
}

func (s *Subscription) updateStatus(mutate func(*Status)) {
	s.mu.Lock()
	before := s.status
	mutate(&s.status)
	after := s.status
	s.mu.Unlock()

	if before.equal(after) || s.config.OnStatus == nil {
		return
	}
	s.invoke("status", func() { s.config.OnStatus(after) })
}

// invoke runs a subscriber callback, recovering panics
func (s *Subscription) invoke(name string, fn func()) {
	if s.isDone() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Subscriber callback panicked", zap.String("callback", name), zap.Any("panic", r))
		}
	}()

	fn()
}
