package subscription

import (
	"context"
	"errors"

	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

// ErrTornDown is returned by operations on a subscription after Teardown
var ErrTornDown = errors.New("subscription torn down")

// Severity is how a subscription reacts to an error
type Severity int

const (
	// SeverityIgnore is an expected outcome such as teardown; logged at debug
	SeverityIgnore Severity = iota
	// SeveritySoft is logged and the last-known-good data is kept
	SeveritySoft
	// SeverityTerminal ends liveness and is shown to the user
	SeverityTerminal
)

func (s Severity) String() string {
	switch s {
	case SeverityIgnore:
		return "ignore"
	case SeveritySoft:
		return "soft"
	default:
		return "terminal"
	}
}

// Assess decides whether err is swallowed or surfaced
func Assess(err error) Severity {
	switch {
	case err == nil:
		return SeverityIgnore
	case errors.Is(err, connection.ErrBudgetExhausted):
		return SeverityTerminal
	case errors.Is(err, ErrTornDown),
		errors.Is(err, connection.ErrManualDisconnect),
		errors.Is(err, polling.ErrInFlight),
		errors.Is(err, context.Canceled),
		polling.Classify(err) == polling.KindCanceled:
		return SeverityIgnore
	default:
		return SeveritySoft
	}
}
