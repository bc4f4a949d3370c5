package polling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrInFlight is returned when a request for the task is still outstanding; the call was skipped.
	ErrInFlight = errors.New("request already in flight")

	// ErrCanceled marks requests aborted by teardown. Their results are discarded.
	ErrCanceled = errors.New("request canceled")
)

// ErrorKind is the retry class of a fetch error
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindCanceled
	KindNotFound
	KindTransport
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCanceled:
		return "canceled"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "fatal"
	}
}

// Retryable reports whether the guard retries errors of this kind
func (k ErrorKind) Retryable() bool {
	return k == KindNotFound || k == KindTransport
}

// StatusError is a non-2xx HTTP response
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// TransportError wraps failures below HTTP: DNS, refused connections, resets, timeouts
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a 2xx response whose body could not be turned into records
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Classify maps an error returned by a fetch operation to its retry class
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusNotFound {
			return KindNotFound
		}
		return KindFatal
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindTransport
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return KindTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}

	return KindFatal
}

// breakerSuccess is the breaker's success predicate. Only transport
// failures count toward opening the circuit.
func breakerSuccess(err error) bool {
	return Classify(err) != KindTransport
}
