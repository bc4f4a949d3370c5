package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// CloseClass is the reconnect decision derived from a close code
type CloseClass int

const (
	CloseNoReconnect CloseClass = iota
	CloseReconnectEligible
)

func (cc CloseClass) String() string {
	if cc == CloseNoReconnect {
		return "no-reconnect"
	}
	return "reconnect-eligible"
}

// ReconnectPolicy is the immutable reconnect configuration of a controller
type ReconnectPolicy struct {
	// Interval is the fixed delay between a reconnect-eligible close and the next dial
	Interval time.Duration

	// MaxAttempts bounds consecutive reconnect attempts since the last successful open
	MaxAttempts int

	// Classify maps a close code to a reconnect decision. Nil uses ClassifyCloseCode.
	Classify func(code int) CloseClass
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Interval:    3 * time.Second,
		MaxAttempts: 10,
		Classify:    ClassifyCloseCode,
	}
}

func (p *ReconnectPolicy) ApplyDefaults() {
	defaults := DefaultReconnectPolicy()

	if p.Interval == 0 {
		p.Interval = defaults.Interval
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.Classify == nil {
		p.Classify = defaults.Classify
	}
}

func (p *ReconnectPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("reconnect interval must be positive")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max reconnect attempts must be positive")
	}
	return nil
}

func (p ReconnectPolicy) classify(code int) CloseClass {
	if p.Classify == nil {
		return ClassifyCloseCode(code)
	}
	return p.Classify(code)
}

// ClassifyCloseCode suppresses reconnection for normal closure (1000) and going away (1001).
// Every other code is reconnect-eligible.
func ClassifyCloseCode(code int) CloseClass {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return CloseNoReconnect
	default:
		return CloseReconnectEligible
	}
}

// CloseCodeOf extracts the close code carried by a read error.
// Transport errors without a close frame report 1006 (abnormal closure).
func CloseCodeOf(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}
