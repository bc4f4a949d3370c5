package polling

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

const maxBodySize = 4 << 20

// Fetcher retrieves a REST resource relative to the backend base URL
type Fetcher interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// HTTPFetcher issues authenticated GETs through a circuit breaker
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	auth    security.AuthManager
	breaker performance.CircuitBreaker
	logger  *zap.Logger
}

func NewHTTPFetcher(
	baseURL string,
	client *http.Client,
	authManager security.AuthManager,
	breaker performance.CircuitBreaker,
	logger *zap.Logger,
) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		// Per-attempt deadlines come from the guard's context.
		client = &http.Client{}
	}
	if authManager == nil {
		authManager = security.NewAuthManager(nil, logger)
	}
	if breaker == nil {
		breaker = NewBreaker("fetch", logger)
	}

	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		auth:    authManager,
		breaker: breaker,
		logger:  logger.Named("fetcher"),
	}
}

// NewBreaker builds the fetch circuit breaker: five consecutive transport
// failures open it for thirty seconds.
func NewBreaker(name string, logger *zap.Logger) performance.CircuitBreaker {
	return performance.NewCircuitBreaker(performance.BreakerConfig{
		Name:         name,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		IsSuccessful: breakerSuccess,
	}, logger)
}

func (f *HTTPFetcher) Get(ctx context.Context, path string) ([]byte, error) {
	url := f.baseURL + path

	return f.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		headers, err := f.auth.GetSecureHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		if headers == nil {
			headers = make(http.Header)
		}
		req.Header = headers
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() == context.Canceled {
				return nil, ErrCanceled
			}
			return nil, &TransportError{Err: err}
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
			f.logger.Debug("Unexpected status", zap.String("url", url), zap.Int("status", resp.StatusCode))
			return nil, &StatusError{Code: resp.StatusCode, URL: url}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, &TransportError{Err: err}
		}

		return body, nil
	})
}

// Operation binds path into a guard operation
func (f *HTTPFetcher) Operation(path string) Operation {
	return func(ctx context.Context) ([]byte, error) {
		return f.Get(ctx, path)
	}
}
