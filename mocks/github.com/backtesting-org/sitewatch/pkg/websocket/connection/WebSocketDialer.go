package connection

import (
	context "context"
	http "net/http"

	connection "github.com/backtesting-org/sitewatch/pkg/websocket/connection"

	mock "github.com/stretchr/testify/mock"
)

// WebSocketDialer is a testify mock of the WebSocketDialer interface
type WebSocketDialer struct {
	mock.Mock
}

// DialContext provides a mock function with given fields: ctx, urlStr, requestHeader
func (_m *WebSocketDialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (connection.WebSocketConn, *http.Response, error) {
	ret := _m.Called(ctx, urlStr, requestHeader)

	if len(ret) == 0 {
		panic("no return value specified for DialContext")
	}

	var r0 connection.WebSocketConn
	var r1 *http.Response
	var r2 error
	if rf, ok := ret.Get(0).(func(context.Context, string, http.Header) (connection.WebSocketConn, *http.Response, error)); ok {
		return rf(ctx, urlStr, requestHeader)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, http.Header) connection.WebSocketConn); ok {
		r0 = rf(ctx, urlStr, requestHeader)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(connection.WebSocketConn)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, http.Header) *http.Response); ok {
		r1 = rf(ctx, urlStr, requestHeader)
	} else {
		if ret.Get(1) != nil {
			r1 = ret.Get(1).(*http.Response)
		}
	}

	if rf, ok := ret.Get(2).(func(context.Context, string, http.Header) error); ok {
		r2 = rf(ctx, urlStr, requestHeader)
	} else {
		r2 = ret.Error(2)
	}

	return r0, r1, r2
}

// NewWebSocketDialer creates a new instance of WebSocketDialer. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewWebSocketDialer(t interface {
	mock.TestingT
	Cleanup(func())
}) *WebSocketDialer {
	mock := &WebSocketDialer{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
