package subscription_test

import (
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	mockpolling "github.com/backtesting-org/sitewatch/mocks/github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/lifecycle"
	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
)

const (
	northSite = `[{"id":"1","name":"North","status":"在线"},{"id":2,"name":"South"}]`
	northOnly = `{"id":"1","name":"North","status":"维护"}`
)

var _ = Describe("Poll subscription", func() {
	var (
		sub         *subscription.Subscription
		be          *backend
		rec         *recorder
		host        *lifecycle.Host
		fakeClock   *testingclock.FakeClock
		mockFetcher *mockpolling.Fetcher
		logs        *observer.ObservedLogs
		config      subscription.Config
		deps        subscription.Deps
	)

	BeforeEach(func() {
		rec = &recorder{}
		host = lifecycle.NewHost(nil)
		fakeClock = testingclock.NewFakeClock(time.Now())

		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)

		mockFetcher = mockpolling.NewFetcher(GinkgoT())

		config = subscription.DefaultConfig()
		config.BaseURL = "http://backend.local"
		config.Target = subscription.SitesPoll()
		config.OnUpdate = rec.onUpdate
		config.OnStatus = rec.onStatus

		deps = subscription.Deps{
			Host:    host,
			Fetcher: mockFetcher,
			Clock:   fakeClock,
			Logger:  zap.New(core),
		}
	})

	JustBeforeEach(func() {
		mockFetcher.On("Get", mock.Anything, config.Target.Path()).Return(be.get).Maybe()

		var err error
		sub, err = subscription.Mount(config, deps)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		sub.Teardown()
	})

	Context("with a healthy backend", func() {
		BeforeEach(func() {
			be = newBackend(response{body: northSite})
		})

		It("should fetch on mount and deliver the full record set", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			update := rec.Last()
			Expect(update.Target).To(Equal(subscription.SitesPoll()))
			Expect(update.Records).To(HaveLen(2))
			Expect(update.Records[1].ID()).To(Equal("2"))
			Expect(update.Records[1].Status()).To(Equal(base.DefaultStatus))

			Eventually(func() int { return sub.Status().Records }).Should(Equal(2))
			status := sub.Status()
			Expect(status.Active).To(BeTrue())
			Expect(status.LastError).ToNot(HaveOccurred())
			Expect(status.LastUpdated).To(Equal(fakeClock.Now()))
			Expect(sub.Snapshot()).To(HaveLen(2))
		})

		It("should fetch again on every interval", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			fakeClock.Step(30 * time.Second)
			Eventually(rec.UpdateCount).Should(Equal(2))
			Expect(be.Calls()).To(Equal(2))
		})

		It("should fetch once more on refresh", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			Expect(sub.Refresh()).To(Succeed())
			Eventually(rec.UpdateCount).Should(Equal(2))
		})

		It("should refuse to send frames", func() {
			Expect(sub.Send([]byte(`{"type":"refresh"}`))).To(MatchError(subscription.ErrNotSocket))
		})

		It("should release the scheduler on focus loss and restart on focus gain", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			sub.SetFocused(false)
			Eventually(func() bool { return sub.Status().Active }).Should(BeFalse())

			fakeClock.Step(5 * time.Minute)
			Consistently(be.Calls, "100ms").Should(Equal(1))

			sub.SetFocused(true)
			Eventually(rec.UpdateCount).Should(Equal(2))
			Expect(sub.Status().Active).To(BeTrue())
		})

		It("should deliver nothing after teardown", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))
			statuses := len(rec.Statuses())

			sub.Teardown()
			Expect(sub.Refresh()).To(MatchError(subscription.ErrTornDown))

			fakeClock.Step(5 * time.Minute)
			Consistently(be.Calls, "100ms").Should(Equal(1))
			Expect(rec.UpdateCount()).To(Equal(1))
			Expect(rec.Statuses()).To(HaveLen(statuses))
		})
	})

	Context("when unfocused at mount", func() {
		BeforeEach(func() {
			be = newBackend(response{body: northSite})
			config.Unfocused = true
		})

		It("should stay idle until focused", func() {
			Consistently(be.Calls, "100ms").Should(BeZero())
			Expect(sub.Status().Active).To(BeFalse())

			sub.SetFocused(true)
			Eventually(rec.UpdateCount).Should(Equal(1))
		})
	})

	Context("when a fetch is outstanding at teardown", func() {
		var hold chan struct{}

		BeforeEach(func() {
			hold = make(chan struct{})
			be = newBackend(response{body: northSite, hold: hold})
		})

		It("should abort it and discard the result", func() {
			Eventually(be.Calls).Should(Equal(1))

			sub.Teardown()
			Expect(be.Context(0).Err()).To(HaveOccurred())
			close(hold)

			Consistently(rec.UpdateCount, "100ms").Should(BeZero())
			Expect(logs.FilterLevelExact(zapcore.ErrorLevel).Len()).To(BeZero())
		})
	})

	Context("when the app moves to the background", func() {
		var hold chan struct{}

		BeforeEach(func() {
			hold = make(chan struct{})
			be = newBackend(response{body: northSite}, response{body: northOnly, hold: hold}, response{body: northSite})
		})

		It("should switch to the background interval without dropping the in-flight fetch", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			// t=30s: second fetch starts and hangs
			fakeClock.Step(30 * time.Second)
			Eventually(be.Calls).Should(Equal(2))

			Expect(host.Update(lifecycle.StatePaused)).To(Succeed())
			Eventually(func() bool { return sub.Status().Background }).Should(BeTrue())
			Expect(sub.Status().Active).To(BeTrue())
			Expect(be.Context(1).Err()).ToNot(HaveOccurred())

			close(hold)
			Eventually(rec.UpdateCount).Should(Equal(2))
			Expect(rec.Last().Records).To(HaveLen(1))
			Expect(rec.Last().Records[0].Status()).To(Equal("维护"))

			// t=60s: the foreground cadence would fire here
			fakeClock.Step(30 * time.Second)
			Consistently(be.Calls, "100ms").Should(Equal(2))

			// t=90s: one background interval after the switch
			fakeClock.Step(30 * time.Second)
			Eventually(be.Calls).Should(Equal(3))
		})

		It("should return to the foreground interval on resume", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			Expect(host.Update(lifecycle.StatePaused)).To(Succeed())
			Eventually(func() bool { return sub.Status().Background }).Should(BeTrue())
			Expect(host.Update(lifecycle.StateResumed)).To(Succeed())
			Eventually(func() bool { return sub.Status().Background }).Should(BeFalse())

			fakeClock.Step(30 * time.Second)
			Eventually(be.Calls).Should(Equal(2))
		})
	})

	Context("with background release", func() {
		BeforeEach(func() {
			be = newBackend(response{body: northSite})
			config.Background = subscription.BackgroundRelease
		})

		It("should stop polling while backgrounded", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			Expect(host.Update(lifecycle.StateDetached)).To(Succeed())
			Eventually(func() bool { return sub.Status().Active }).Should(BeFalse())

			fakeClock.Step(5 * time.Minute)
			Consistently(be.Calls, "100ms").Should(Equal(1))
		})
	})

	Context("when the backend starts failing", func() {
		BeforeEach(func() {
			be = newBackend(
				response{body: northSite},
				response{err: &polling.StatusError{Code: http.StatusNotFound}},
			)
		})

		It("should retry a 404 three times and keep the last known data", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))
			before := sub.Snapshot()
			retries := func() int { return logs.FilterMessage("Retrying request").Len() }

			fakeClock.Step(30 * time.Second)
			Eventually(be.Calls).Should(Equal(2))
			Eventually(retries).Should(Equal(1))

			fakeClock.Step(4 * time.Second)
			Consistently(be.Calls, "50ms").Should(Equal(2))
			fakeClock.Step(time.Second)
			Eventually(be.Calls).Should(Equal(3))
			Eventually(retries).Should(Equal(2))

			fakeClock.Step(5 * time.Second)
			Eventually(func() error { return sub.Status().LastError }).Should(HaveOccurred())

			Expect(be.Calls()).To(Equal(4))
			Expect(polling.Classify(sub.Status().LastError)).To(Equal(polling.KindNotFound))
			Expect(sub.Snapshot()).To(Equal(before))
			Expect(rec.UpdateCount()).To(Equal(1))
			Expect(sub.Status().Exhausted).To(BeFalse())
			Expect(logs.FilterMessage("Update failed, keeping last known data").Len()).To(Equal(1))
		})
	})

	Context("when the backend returns an unusable body", func() {
		BeforeEach(func() {
			be = newBackend(response{body: northSite}, response{body: `<html>maintenance</html>`})
		})

		It("should report a decode failure without retrying", func() {
			Eventually(rec.UpdateCount).Should(Equal(1))

			fakeClock.Step(30 * time.Second)
			Eventually(func() error { return sub.Status().LastError }).Should(HaveOccurred())

			var decodeErr *polling.DecodeError
			Expect(errors.As(sub.Status().LastError, &decodeErr)).To(BeTrue())
			Expect(be.Calls()).To(Equal(2))
			Expect(sub.Snapshot()).To(HaveLen(2))
		})
	})

	Context("when the subscriber callback panics", func() {
		BeforeEach(func() {
			be = newBackend(response{body: northSite})
			config.OnUpdate = func(subscription.Update) {
				panic("boom")
			}
		})

		It("should keep the subscription running", func() {
			Eventually(func() int { return sub.Status().Records }).Should(Equal(2))
			Expect(logs.FilterMessage("Subscriber callback panicked").Len()).To(Equal(1))

			fakeClock.Step(30 * time.Second)
			Eventually(be.Calls).Should(Equal(2))
		})
	})
})
