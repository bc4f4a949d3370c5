package connection

import (
	"context"
)

// ConnectionManager Interface defines WebSocket connection operations
type ConnectionManager interface {
	Connect(ctx context.Context) error
	Start(ctx context.Context)
	Disconnect() error
	Send(data []byte) error
	SendJSON(v interface{}) error
	SetCallbacks(onMessage func([]byte), onStateChange func(from, to ConnectionState))
	GetState() ConnectionState
	Attempts() int
	Exhausted() bool
}

var _ ConnectionManager = (*Controller)(nil)
