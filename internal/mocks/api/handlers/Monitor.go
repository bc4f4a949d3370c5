package handlers

import (
	services "github.com/backtesting-org/sitewatch/internal/services"
	mock "github.com/stretchr/testify/mock"
)

// Monitor is a testify mock of the Monitor interface
type Monitor struct {
	mock.Mock
}

// Degraded provides a mock function with no fields
func (_m *Monitor) Degraded() bool {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Degraded")
	}

	var r0 bool
	if rf, ok := ret.Get(0).(func() bool); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(bool)
	}

	return r0
}

// Focus provides a mock function with given fields: view, focused
func (_m *Monitor) Focus(view string, focused bool) (services.ViewStatus, error) {
	ret := _m.Called(view, focused)

	if len(ret) == 0 {
		panic("no return value specified for Focus")
	}

	var r0 services.ViewStatus
	var r1 error
	if rf, ok := ret.Get(0).(func(string, bool) (services.ViewStatus, error)); ok {
		return rf(view, focused)
	}
	if rf, ok := ret.Get(0).(func(string, bool) services.ViewStatus); ok {
		r0 = rf(view, focused)
	} else {
		r0 = ret.Get(0).(services.ViewStatus)
	}

	if rf, ok := ret.Get(1).(func(string, bool) error); ok {
		r1 = rf(view, focused)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Refresh provides a mock function with given fields: view
func (_m *Monitor) Refresh(view string) error {
	ret := _m.Called(view)

	if len(ret) == 0 {
		panic("no return value specified for Refresh")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(string) error); ok {
		r0 = rf(view)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// SetAppState provides a mock function with given fields: state
func (_m *Monitor) SetAppState(state string) error {
	ret := _m.Called(state)

	if len(ret) == 0 {
		panic("no return value specified for SetAppState")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(string) error); ok {
		r0 = rf(state)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Site provides a mock function with given fields: id
func (_m *Monitor) Site(id string) (services.Site, bool) {
	ret := _m.Called(id)

	if len(ret) == 0 {
		panic("no return value specified for Site")
	}

	var r0 services.Site
	var r1 bool
	if rf, ok := ret.Get(0).(func(string) (services.Site, bool)); ok {
		return rf(id)
	}
	if rf, ok := ret.Get(0).(func(string) services.Site); ok {
		r0 = rf(id)
	} else {
		r0 = ret.Get(0).(services.Site)
	}

	if rf, ok := ret.Get(1).(func(string) bool); ok {
		r1 = rf(id)
	} else {
		r1 = ret.Get(1).(bool)
	}

	return r0, r1
}

// Sites provides a mock function with no fields
func (_m *Monitor) Sites() []services.Site {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Sites")
	}

	var r0 []services.Site
	if rf, ok := ret.Get(0).(func() []services.Site); ok {
		r0 = rf()
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]services.Site)
		}
	}

	return r0
}

// Statuses provides a mock function with no fields
func (_m *Monitor) Statuses() []services.ViewStatus {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Statuses")
	}

	var r0 []services.ViewStatus
	if rf, ok := ret.Get(0).(func() []services.ViewStatus); ok {
		r0 = rf()
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]services.ViewStatus)
		}
	}

	return r0
}

// Unmount provides a mock function with given fields: view
func (_m *Monitor) Unmount(view string) error {
	ret := _m.Called(view)

	if len(ret) == 0 {
		panic("no return value specified for Unmount")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(string) error); ok {
		r0 = rf(view)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMonitor creates a new instance of Monitor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMonitor(t interface {
	mock.TestingT
	Cleanup(func())
}) *Monitor {
	mock := &Monitor{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
