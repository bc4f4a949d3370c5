package lifecycle

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AppState is the host application's foreground state
type AppState string

const (
	// StateResumed means the app is visible and taking input
	StateResumed AppState = "resumed"

	// StateInactive means the app is visible but transitioning, e.g. behind a system dialog
	StateInactive AppState = "inactive"

	// StatePaused means the app is running but not visible
	StatePaused AppState = "paused"

	// StateDetached means the app is hosted without any view
	StateDetached AppState = "detached"
)

// Foreground reports whether the state counts as foreground. Only resumed does.
func (s AppState) Foreground() bool {
	return s == StateResumed
}

func (s AppState) String() string {
	return string(s)
}

// ParseAppState accepts the four state names, case-insensitively
func ParseAppState(value string) (AppState, error) {
	switch state := AppState(strings.ToLower(strings.TrimSpace(value))); state {
	case StateResumed, StateInactive, StatePaused, StateDetached:
		return state, nil
	default:
		return "", fmt.Errorf("unknown app state %q", value)
	}
}

// StateHandler is called when the host state changes
type StateHandler func(state AppState)

// Host broadcasts host application state transitions to registered handlers.
// It starts resumed.
type Host struct {
	logger *zap.Logger

	mu       sync.RWMutex
	state    AppState
	handlers map[uint64]StateHandler
	nextID   uint64

	notifyMu sync.Mutex
}

func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		logger:   logger.Named("lifecycle"),
		state:    StateResumed,
		handlers: make(map[uint64]StateHandler),
	}
}

// State returns the current host state
func (h *Host) State() AppState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// AddHandler registers handler for state changes.
// Returns a function that removes the handler.
func (h *Host) AddHandler(handler StateHandler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// Update records a new host state and notifies handlers if it changed.
// Handlers run on the caller's goroutine, in registration-independent order.
func (h *Host) Update(state AppState) error {
	state, err := ParseAppState(string(state))
	if err != nil {
		return err
	}

	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	h.mu.Lock()
	if h.state == state {
		h.mu.Unlock()
		return nil
	}
	previous := h.state
	h.state = state
	handlers := make([]StateHandler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	h.logger.Info("App state changed",
		zap.Stringer("from", previous),
		zap.Stringer("to", state),
		zap.Int("handlers", len(handlers)))

	for _, handler := range handlers {
		handler(state)
	}
	return nil
}
