package lifecycle

import (
	"sync"

	"go.uber.org/zap"
)

type SignalKind int

const (
	Deactivate SignalKind = iota
	Activate
)

func (k SignalKind) String() string {
	if k == Activate {
		return "activate"
	}
	return "deactivate"
}

// Signal tells a subscription to start or stop its owned transport.
// Background is set when the host is not in the foreground.
type Signal struct {
	Kind       SignalKind
	Background bool
}

type Options struct {
	// HoldInBackground keeps the subscription active while the host is
	// backgrounded; the Activate signal then carries Background.
	HoldInBackground bool

	// Focused is the initial subscriber focus
	Focused bool
}

// Observer derives signals for one subscription from host state and
// subscriber focus. Repeated inputs that do not change the derived signal
// emit nothing.
type Observer struct {
	host     *Host
	opts     Options
	onSignal func(Signal)
	logger   *zap.Logger

	mu         sync.Mutex
	focused    bool
	foreground bool
	started    bool
	closed     bool
	last       Signal
	pending    []Signal
	remove     func()

	notifyMu sync.Mutex
}

// NewObserver creates an observer. A nil host means the app is always in the foreground.
func NewObserver(host *Host, opts Options, onSignal func(Signal), logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		host:       host,
		opts:       opts,
		onSignal:   onSignal,
		logger:     logger.Named("observer"),
		focused:    opts.Focused,
		foreground: true,
		last:       Signal{Kind: Deactivate},
	}
}

// Start subscribes to the host and emits the initial signal if active
func (o *Observer) Start() {
	o.mu.Lock()
	if o.started || o.closed {
		o.mu.Unlock()
		return
	}
	o.started = true
	if o.host != nil {
		o.remove = o.host.AddHandler(o.hostChanged)
		o.foreground = o.host.State().Foreground()
	}
	o.evaluateLocked()
	o.mu.Unlock()

	o.flush()
}

// SetFocused records subscriber focus
func (o *Observer) SetFocused(focused bool) {
	o.mu.Lock()
	if o.focused == focused {
		o.mu.Unlock()
		return
	}
	o.focused = focused
	o.evaluateLocked()
	o.mu.Unlock()

	o.flush()
}

// Active reports whether the last emitted signal was Activate
func (o *Observer) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last.Kind == Activate
}

// Close unregisters from the host. No signal is emitted after Close returns.
// It must not be called from the signal handler.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.pending = nil
	remove := o.remove
	o.remove = nil
	o.mu.Unlock()

	if remove != nil {
		remove()
	}

	// Wait out a delivery already in progress.
	o.notifyMu.Lock()
	o.onSignal = nil
	o.notifyMu.Unlock()
}

func (o *Observer) hostChanged(state AppState) {
	o.mu.Lock()
	foreground := state.Foreground()
	if o.foreground == foreground {
		o.mu.Unlock()
		return
	}
	o.foreground = foreground
	o.evaluateLocked()
	o.mu.Unlock()

	o.flush()
}

func (o *Observer) evaluateLocked() {
	if !o.started || o.closed {
		return
	}

	next := Signal{Kind: Deactivate, Background: !o.foreground}
	if o.focused && (o.foreground || o.opts.HoldInBackground) {
		next.Kind = Activate
	}

	if next.Kind == o.last.Kind && (next.Kind == Deactivate || next.Background == o.last.Background) {
		return
	}

	o.logger.Debug("Lifecycle signal",
		zap.Stringer("kind", next.Kind),
		zap.Bool("background", next.Background),
		zap.Bool("focused", o.focused))

	o.last = next
	o.pending = append(o.pending, next)
}

// flush delivers queued signals in order, outside o.mu
func (o *Observer) flush() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	closed := o.closed
	o.mu.Unlock()

	handler := o.onSignal
	if closed || handler == nil {
		return
	}
	for _, signal := range pending {
		handler(signal)
	}
}
