package performance

import (
	time "time"

	mock "github.com/stretchr/testify/mock"
)

// Metrics is a testify mock of the Metrics interface
type Metrics struct {
	mock.Mock
}

// IncrementConnectionError provides a mock function with no fields
func (_m *Metrics) IncrementConnectionError() {
	_m.Called()
}

// IncrementDropped provides a mock function with given fields: reason
func (_m *Metrics) IncrementDropped(reason string) {
	_m.Called(reason)
}

// IncrementHeartbeat provides a mock function with no fields
func (_m *Metrics) IncrementHeartbeat() {
	_m.Called()
}

// IncrementReceived provides a mock function with no fields
func (_m *Metrics) IncrementReceived() {
	_m.Called()
}

// IncrementReconnection provides a mock function with no fields
func (_m *Metrics) IncrementReconnection() {
	_m.Called()
}

// IncrementSkipped provides a mock function with no fields
func (_m *Metrics) IncrementSkipped() {
	_m.Called()
}

// ObservePoll provides a mock function with given fields: outcome, latency
func (_m *Metrics) ObservePoll(outcome string, latency time.Duration) {
	_m.Called(outcome, latency)
}

// NewMetrics creates a new instance of Metrics. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMetrics(t interface {
	mock.TestingT
	Cleanup(func())
}) *Metrics {
	mock := &Metrics{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
