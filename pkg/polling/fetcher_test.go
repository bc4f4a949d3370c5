package polling_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

var _ = Describe("HTTPFetcher", func() {
	var (
		server   *httptest.Server
		requests atomic.Int32
		status   atomic.Int32
		fetcher  *polling.HTTPFetcher
		auth     security.AuthManager
	)

	BeforeEach(func() {
		requests.Store(0)
		status.Store(http.StatusOK)
		auth = security.NewAuthManager(security.NewStaticTokenProvider("s3cret"), zap.NewNop())

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.Header.Get("Authorization") != "Bearer s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Accept") != "application/json" || r.Header.Get("User-Agent") != "sitewatch/1.0" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if code := int(status.Load()); code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"1","name":"` + r.URL.Path + `"}]`))
		}))
		DeferCleanup(server.Close)

		fetcher = polling.NewHTTPFetcher(server.URL+"/", server.Client(), auth, nil, zap.NewNop())
	})

	It("should return the body of a successful response", func() {
		body, err := fetcher.Get(context.Background(), "/api/site/sites")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(Equal(`[{"id":"1","name":"/api/site/sites"}]`))
	})

	It("should bind a path into a guard operation", func() {
		body, err := fetcher.Operation("/api/sites/site/7")(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("/api/sites/site/7"))
	})

	It("should report non-2xx responses as status errors", func() {
		status.Store(http.StatusNotFound)

		_, err := fetcher.Get(context.Background(), "/api/sites/site/404")
		var statusErr *polling.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.Code).To(Equal(http.StatusNotFound))
		Expect(err.Error()).To(Equal("HTTP 404 Not Found"))
		Expect(polling.Classify(err)).To(Equal(polling.KindNotFound))
	})

	It("should not open the breaker on 404s", func() {
		status.Store(http.StatusNotFound)

		for i := 0; i < 8; i++ {
			_, err := fetcher.Get(context.Background(), "/api/site/sites")
			Expect(polling.Classify(err)).To(Equal(polling.KindNotFound))
		}
		Expect(requests.Load()).To(Equal(int32(8)))
	})

	Describe("transport failures", func() {
		var dials atomic.Int32

		BeforeEach(func() {
			dials.Store(0)
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				dials.Add(1)
				return nil, errors.New("connection refused")
			})}
			fetcher = polling.NewHTTPFetcher("http://backend.invalid", client, auth, nil, zap.NewNop())
		})

		It("should classify them as transport errors", func() {
			_, err := fetcher.Get(context.Background(), "/api/site/sites")
			var transportErr *polling.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(polling.Classify(err)).To(Equal(polling.KindTransport))
		})

		It("should open the breaker after five consecutive failures", func() {
			for i := 0; i < 5; i++ {
				_, _ = fetcher.Get(context.Background(), "/api/site/sites")
			}
			Expect(dials.Load()).To(Equal(int32(5)))

			_, err := fetcher.Get(context.Background(), "/api/site/sites")
			Expect(err).To(MatchError(gobreaker.ErrOpenState))
			Expect(polling.Classify(err)).To(Equal(polling.KindTransport))
			Expect(dials.Load()).To(Equal(int32(5)))
		})
	})

	It("should report cancellation distinctly", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := fetcher.Get(ctx, "/api/site/sites")
		Expect(polling.Classify(err)).To(Equal(polling.KindCanceled))
	})
})
