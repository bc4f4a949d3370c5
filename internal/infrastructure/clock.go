package infrastructure

import "k8s.io/utils/clock"

// NewClock returns the wall clock. Tests substitute a fake clock.
func NewClock() clock.WithTicker {
	return clock.RealClock{}
}
