package polling_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/backtesting-org/sitewatch/pkg/polling"
)

var _ = Describe("Guard", func() {
	var (
		guard  *polling.Guard
		config polling.GuardConfig
		clk    clock.Clock
		logger *zap.Logger
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		clk = nil
		logger = zap.NewNop()
		ctx, cancel = context.WithCancel(context.Background())
		config = polling.GuardConfig{
			Timeout:     time.Second,
			RetryDelay:  50 * time.Millisecond,
			MaxAttempts: 3,
		}
	})

	JustBeforeEach(func() {
		guard = polling.NewGuard(config, clk, logger)
	})

	AfterEach(func() {
		cancel()
		guard.Close()
	})

	Describe("single flight", func() {
		It("should skip a call while another is outstanding", func() {
			release := make(chan struct{})
			var calls atomic.Int32

			op := func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte(`[]`), nil
			}

			done := make(chan error, 1)
			go func() {
				_, err := guard.Execute(ctx, op)
				done <- err
			}()
			Eventually(guard.InFlight).Should(BeTrue())

			_, err := guard.Execute(ctx, op)
			Expect(err).To(MatchError(polling.ErrInFlight))
			Expect(calls.Load()).To(Equal(int32(1)))

			close(release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(guard.InFlight()).To(BeFalse())
		})
	})

	Describe("retry policy", func() {
		It("should try a 404 three times spaced by the retry delay", func() {
			var (
				mu    sync.Mutex
				stamp []time.Time
			)
			op := func(context.Context) ([]byte, error) {
				mu.Lock()
				stamp = append(stamp, time.Now())
				mu.Unlock()
				return nil, &polling.StatusError{Code: http.StatusNotFound}
			}

			_, err := guard.Execute(ctx, op)
			Expect(err).To(HaveOccurred())
			Expect(polling.Classify(err)).To(Equal(polling.KindNotFound))
			Expect(err.Error()).To(ContainSubstring("3 attempt(s)"))

			Expect(stamp).To(HaveLen(3))
			Expect(stamp[1].Sub(stamp[0])).To(BeNumerically(">=", config.RetryDelay))
			Expect(stamp[2].Sub(stamp[1])).To(BeNumerically(">=", config.RetryDelay))
		})

		It("should retry transport failures and return the eventual data", func() {
			var calls atomic.Int32
			op := func(context.Context) ([]byte, error) {
				if calls.Add(1) == 1 {
					return nil, &polling.TransportError{Err: errors.New("connection reset")}
				}
				return []byte(`{"id":"1"}`), nil
			}

			data, err := guard.Execute(ctx, op)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal(`{"id":"1"}`))
			Expect(calls.Load()).To(Equal(int32(2)))
		})

		It("should surface other HTTP errors without retrying", func() {
			var calls atomic.Int32
			op := func(context.Context) ([]byte, error) {
				calls.Add(1)
				return nil, &polling.StatusError{Code: http.StatusInternalServerError}
			}

			_, err := guard.Execute(ctx, op)
			Expect(polling.Classify(err)).To(Equal(polling.KindFatal))
			Expect(err.Error()).To(ContainSubstring("HTTP 500"))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		Context("with a short attempt timeout", func() {
			BeforeEach(func() {
				config.Timeout = 20 * time.Millisecond
				config.RetryDelay = 10 * time.Millisecond
			})

			It("should treat a timed out attempt as retryable", func() {
				var calls atomic.Int32
				op := func(attemptCtx context.Context) ([]byte, error) {
					calls.Add(1)
					<-attemptCtx.Done()
					return nil, attemptCtx.Err()
				}

				_, err := guard.Execute(ctx, op)
				Expect(polling.Classify(err)).To(Equal(polling.KindTransport))
				Expect(calls.Load()).To(Equal(int32(3)))
			})
		})
	})

	Describe("on the guard clock", func() {
		var (
			fakeClock *testingclock.FakeClock
			logs      *observer.ObservedLogs
		)

		BeforeEach(func() {
			fakeClock = testingclock.NewFakeClock(time.Now())
			clk = fakeClock
			config = polling.DefaultGuardConfig()

			var core zapcore.Core
			core, logs = observer.New(zapcore.DebugLevel)
			logger = zap.New(core)
		})

		retries := func() int {
			return logs.FilterMessage("Retrying request").Len()
		}

		It("should space 404 retries five seconds apart", func() {
			var (
				mu    sync.Mutex
				stamp []time.Time
			)
			calls := func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(stamp)
			}
			op := func(context.Context) ([]byte, error) {
				mu.Lock()
				stamp = append(stamp, fakeClock.Now())
				mu.Unlock()
				return nil, &polling.StatusError{Code: http.StatusNotFound}
			}

			done := make(chan error, 1)
			go func() {
				_, err := guard.Execute(ctx, op)
				done <- err
			}()

			Eventually(retries).Should(Equal(1))
			fakeClock.Step(4 * time.Second)
			Consistently(calls, "50ms").Should(Equal(1))

			fakeClock.Step(time.Second)
			Eventually(calls).Should(Equal(2))
			Eventually(retries).Should(Equal(2))

			fakeClock.Step(5 * time.Second)
			var err error
			Eventually(done).Should(Receive(&err))
			Expect(polling.Classify(err)).To(Equal(polling.KindNotFound))

			Expect(stamp).To(HaveLen(3))
			Expect(stamp[1].Sub(stamp[0])).To(Equal(5 * time.Second))
			Expect(stamp[2].Sub(stamp[1])).To(Equal(5 * time.Second))
		})

		Context("with a single attempt", func() {
			BeforeEach(func() {
				config.MaxAttempts = 1
			})

			It("should time an attempt out after ten seconds", func() {
				entered := make(chan struct{})
				op := func(attemptCtx context.Context) ([]byte, error) {
					close(entered)
					<-attemptCtx.Done()
					return nil, polling.ErrCanceled
				}

				done := make(chan error, 1)
				go func() {
					_, err := guard.Execute(ctx, op)
					done <- err
				}()
				Eventually(entered).Should(BeClosed())

				fakeClock.Step(9 * time.Second)
				Consistently(done, "50ms").ShouldNot(Receive())

				fakeClock.Step(time.Second)
				var err error
				Eventually(done).Should(Receive(&err))
				Expect(polling.Classify(err)).To(Equal(polling.KindTransport))
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			})
		})
	})

	Describe("cancellation", func() {
		It("should discard a result that arrives after Cancel", func() {
			release := make(chan struct{})
			op := func(context.Context) ([]byte, error) {
				<-release
				return []byte(`[{"id":"late"}]`), nil
			}

			done := make(chan error, 1)
			go func() {
				_, err := guard.Execute(ctx, op)
				done <- err
			}()
			Eventually(guard.InFlight).Should(BeTrue())

			guard.Cancel()
			close(release)

			var err error
			Eventually(done).Should(Receive(&err))
			Expect(err).To(MatchError(polling.ErrCanceled))
			Expect(polling.Classify(err)).To(Equal(polling.KindCanceled))
		})

		Context("with a long retry delay", func() {
			BeforeEach(func() {
				config.RetryDelay = time.Hour
			})

			It("should abort the pending retry wait", func() {
				op := func(context.Context) ([]byte, error) {
					return nil, &polling.StatusError{Code: http.StatusNotFound}
				}

				done := make(chan error, 1)
				go func() {
					_, err := guard.Execute(ctx, op)
					done <- err
				}()
				Eventually(guard.InFlight).Should(BeTrue())

				guard.Cancel()
				Eventually(done).Should(Receive(MatchError(polling.ErrCanceled)))
			})
		})

		It("should reject executions after Close", func() {
			guard.Close()

			called := false
			_, err := guard.Execute(ctx, func(context.Context) ([]byte, error) {
				called = true
				return nil, nil
			})
			Expect(err).To(MatchError(polling.ErrCanceled))
			Expect(called).To(BeFalse())
		})
	})
})
