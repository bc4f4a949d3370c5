package security

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const userAgent = "sitewatch/1.0"

// authManager handles authentication for socket dials and REST fetches
type authManager struct {
	provider     AuthProvider
	refreshMutex sync.Mutex
	logger       *zap.Logger
}

func NewAuthManager(provider AuthProvider, logger *zap.Logger) AuthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &authManager{
		provider: provider,
		logger:   logger,
	}
}

func (am *authManager) GetSecureHeaders(ctx context.Context) (http.Header, error) {
	if am.provider == nil {
		return baseHeaders(nil), nil
	}

	// Ensure authentication is valid
	if !am.provider.IsAuthenticated() {
		if err := am.refreshAuth(ctx); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	// Check if token is expiring soon (within 5 minutes)
	if expiry := am.provider.GetTokenExpiry(); !expiry.IsZero() && time.Until(expiry) < 5*time.Minute {
		am.logger.Debug("Token expiring soon, refreshing authentication")
		if err := am.refreshAuth(ctx); err != nil {
			am.logger.Warn("Failed to refresh expiring token", zap.Error(err))
		}
	}

	headers, err := am.provider.GetAuthHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth headers: %w", err)
	}

	return baseHeaders(headers), nil
}

func (am *authManager) refreshAuth(ctx context.Context) error {
	am.refreshMutex.Lock()
	defer am.refreshMutex.Unlock()

	// Double-check authentication status after acquiring lock
	if am.provider.IsAuthenticated() {
		return nil
	}

	am.logger.Debug("Refreshing authentication")
	if err := am.provider.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh authentication: %w", err)
	}

	return nil
}

func baseHeaders(headers http.Header) http.Header {
	if headers == nil {
		headers = make(http.Header)
	}
	headers.Set("User-Agent", userAgent)
	return headers
}

// staticTokenProvider authenticates with a fixed bearer token.
// An empty token sends no Authorization header.
type staticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) AuthProvider {
	return &staticTokenProvider{token: token}
}

func (p *staticTokenProvider) GetAuthHeaders(_ context.Context) (http.Header, error) {
	headers := make(http.Header)
	if p.token != "" {
		headers.Set("Authorization", "Bearer "+p.token)
	}
	return headers, nil
}

func (p *staticTokenProvider) IsAuthenticated() bool {
	return true
}

func (p *staticTokenProvider) Refresh(_ context.Context) error {
	return nil
}

func (p *staticTokenProvider) GetTokenExpiry() time.Time {
	return time.Time{}
}
