package security

import (
	"context"
	"net/http"
	"time"
)

// AuthProvider defines the interface for backend authentication
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (http.Header, error)
	IsAuthenticated() bool
	Refresh(ctx context.Context) error
	GetTokenExpiry() time.Time
}

// AuthManager produces the headers attached to every socket dial and REST fetch
type AuthManager interface {
	GetSecureHeaders(ctx context.Context) (http.Header, error)
}

// RateLimiter defines rate limiting operations
type RateLimiter interface {
	Allow() bool
}

// MessageValidator defines inbound data validation operations
type MessageValidator interface {
	ValidateMessage(message []byte) error
	ValidateRecord(record map[string]any) error
}
