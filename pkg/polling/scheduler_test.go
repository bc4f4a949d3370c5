package polling_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	mockperf "github.com/backtesting-org/sitewatch/mocks/github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/polling"
)

// scriptedFetch blocks the calls listed in hold until release is closed.
type scriptedFetch struct {
	calls   atomic.Int32
	hold    map[int32]bool
	release chan struct{}
	err     error

	mu   sync.Mutex
	ctxs []context.Context
}

func newScriptedFetch(hold ...int32) *scriptedFetch {
	f := &scriptedFetch{hold: map[int32]bool{}, release: make(chan struct{})}
	for _, n := range hold {
		f.hold[n] = true
	}
	return f
}

func (f *scriptedFetch) op(ctx context.Context) ([]byte, error) {
	n := f.calls.Add(1)

	f.mu.Lock()
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()

	if f.hold[n] {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`[{"id":"1"}]`), nil
}

func (f *scriptedFetch) Calls() int32 {
	return f.calls.Load()
}

func (f *scriptedFetch) FirstContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[0]
}

type resultLog struct {
	mu      sync.Mutex
	results []polling.Result
}

func (l *resultLog) record(r polling.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) Results() []polling.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]polling.Result(nil), l.results...)
}

var _ = Describe("Scheduler", func() {
	var (
		scheduler   *polling.Scheduler
		fetch       *scriptedFetch
		results     *resultLog
		fakeClock   *testingclock.FakeClock
		mockMetrics *mockperf.Metrics
		skipped     atomic.Int32
	)

	newScheduler := func(interval time.Duration) *polling.Scheduler {
		guard := polling.NewGuard(polling.GuardConfig{
			Timeout:     time.Minute,
			RetryDelay:  10 * time.Millisecond,
			MaxAttempts: 3,
		}, nil, zap.NewNop())
		return polling.NewScheduler(interval, guard, fetch.op, results.record, fakeClock, mockMetrics, zap.NewNop())
	}

	BeforeEach(func() {
		fakeClock = testingclock.NewFakeClock(time.Now())
		results = &resultLog{}
		skipped.Store(0)

		mockMetrics = mockperf.NewMetrics(GinkgoT())
		mockMetrics.On("IncrementSkipped").Run(func(mock.Arguments) { skipped.Add(1) }).Return().Maybe()
		mockMetrics.On("ObservePoll", mock.Anything, mock.Anything).Return().Maybe()
	})

	AfterEach(func() {
		if scheduler != nil {
			scheduler.Close()
		}
	})

	It("should fetch immediately on start and then every interval", func() {
		fetch = newScriptedFetch()
		scheduler = newScheduler(30 * time.Second)

		scheduler.Start()
		Eventually(fetch.Calls).Should(Equal(int32(1)))
		Eventually(results.Results).Should(HaveLen(1))
		Expect(results.Results()[0].Trigger).To(Equal(polling.TriggerStart))

		fakeClock.Step(30 * time.Second)
		Eventually(fetch.Calls).Should(Equal(int32(2)))
		Eventually(results.Results).Should(HaveLen(2))
		Expect(results.Results()[1].Trigger).To(Equal(polling.TriggerTick))
	})

	It("should skip the tick that lands while a slow fetch is outstanding", func() {
		fetch = newScriptedFetch(1)
		scheduler = newScheduler(30 * time.Second)

		scheduler.Start()
		Eventually(fetch.Calls).Should(Equal(int32(1)))

		// t=30s: first request still running
		fakeClock.Step(30 * time.Second)
		Eventually(skipped.Load).Should(Equal(int32(1)))
		Consistently(fetch.Calls, "100ms").Should(Equal(int32(1)))

		// t=40s: first request completes
		fakeClock.Step(10 * time.Second)
		close(fetch.release)
		Eventually(results.Results).Should(HaveLen(1))
		Expect(fetch.Calls()).To(Equal(int32(1)))

		// t=60s: next scheduled tick
		fakeClock.Step(20 * time.Second)
		Eventually(fetch.Calls).Should(Equal(int32(2)))
		Eventually(results.Results).Should(HaveLen(2))
	})

	It("should switch interval without dropping the outstanding fetch", func() {
		fetch = newScriptedFetch(1)
		scheduler = newScheduler(30 * time.Second)

		scheduler.Start()
		Eventually(fetch.Calls).Should(Equal(int32(1)))

		fakeClock.Step(10 * time.Second)
		scheduler.SetInterval(60 * time.Second)
		Expect(scheduler.Interval()).To(Equal(60 * time.Second))
		Expect(scheduler.Running()).To(BeTrue())
		Expect(fetch.FirstContext().Err()).ToNot(HaveOccurred())

		// t=40s: the old 30s cadence would have fired at t=30s
		fakeClock.Step(30 * time.Second)
		Consistently(fetch.Calls, "100ms").Should(Equal(int32(1)))
		Expect(skipped.Load()).To(BeZero())

		close(fetch.release)
		Eventually(results.Results).Should(HaveLen(1))
		Expect(results.Results()[0].Err).ToNot(HaveOccurred())

		// t=70s: first tick of the 60s cadence started at t=10s
		fakeClock.Step(30 * time.Second)
		Eventually(fetch.Calls).Should(Equal(int32(2)))
	})

	Describe("Refresh", func() {
		It("should fetch once outside the cadence", func() {
			fetch = newScriptedFetch()
			scheduler = newScheduler(30 * time.Second)

			scheduler.Start()
			Eventually(results.Results).Should(HaveLen(1))

			scheduler.Refresh()
			Eventually(results.Results).Should(HaveLen(2))
			Expect(results.Results()[1].Trigger).To(Equal(polling.TriggerRefresh))
		})

		It("should be skipped while a fetch is outstanding", func() {
			fetch = newScriptedFetch(1)
			scheduler = newScheduler(30 * time.Second)

			scheduler.Start()
			Eventually(fetch.Calls).Should(Equal(int32(1)))

			scheduler.Refresh()
			Eventually(skipped.Load).Should(Equal(int32(1)))
			Expect(fetch.Calls()).To(Equal(int32(1)))
			close(fetch.release)
		})
	})

	Describe("Stop", func() {
		It("should halt the cadence until started again", func() {
			fetch = newScriptedFetch()
			scheduler = newScheduler(30 * time.Second)

			scheduler.Start()
			Eventually(results.Results).Should(HaveLen(1))

			scheduler.Stop()
			Expect(scheduler.Running()).To(BeFalse())
			fakeClock.Step(90 * time.Second)
			Consistently(fetch.Calls, "100ms").Should(Equal(int32(1)))

			scheduler.Start()
			Eventually(fetch.Calls).Should(Equal(int32(2)))
		})
	})

	Describe("Close", func() {
		It("should abort the outstanding fetch and deliver nothing", func() {
			fetch = newScriptedFetch(1)
			scheduler = newScheduler(30 * time.Second)

			scheduler.Start()
			Eventually(fetch.Calls).Should(Equal(int32(1)))

			scheduler.Close()
			Expect(fetch.FirstContext().Err()).To(HaveOccurred())
			Expect(results.Results()).To(BeEmpty())

			scheduler.Start()
			fakeClock.Step(time.Minute)
			Consistently(fetch.Calls, "100ms").Should(Equal(int32(1)))
		})
	})

	Describe("failures", func() {
		It("should report fatal errors with their kind", func() {
			fetch = newScriptedFetch()
			fetch.err = &polling.StatusError{Code: http.StatusBadGateway}
			scheduler = newScheduler(30 * time.Second)

			scheduler.Start()
			Eventually(results.Results).Should(HaveLen(1))

			result := results.Results()[0]
			Expect(result.Kind).To(Equal(polling.KindFatal))
			Expect(result.Data).To(BeNil())
			mockMetrics.AssertCalled(GinkgoT(), "ObservePoll", "failure", mock.Anything)
		})
	})
})
