package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

var _ = Describe("Target", func() {
	DescribeTable("Path",
		func(target subscription.Target, expected string) {
			Expect(target.Path()).To(Equal(expected))
		},
		Entry("site list socket", subscription.SitesSocket(), "/ws/sites"),
		Entry("single site socket", subscription.SiteSocket("42"), "/ws/site/42"),
		Entry("site list poll", subscription.SitesPoll(), "/api/site/sites"),
		Entry("single site poll", subscription.SitePoll("42"), "/api/sites/site/42"),
		Entry("escaped id", subscription.SitePoll("a b"), "/api/sites/site/a%20b"),
	)

	DescribeTable("SocketURL",
		func(base string, target subscription.Target, expected string) {
			url, err := target.SocketURL(base)
			Expect(err).ToNot(HaveOccurred())
			Expect(url).To(Equal(expected))
		},
		Entry("http becomes ws", "http://backend:8080", subscription.SitesSocket(), "ws://backend:8080/ws/sites"),
		Entry("https becomes wss", "https://backend/", subscription.SiteSocket("7"), "wss://backend/ws/site/7"),
		Entry("base path is kept", "https://backend/monitor/", subscription.SitesSocket(), "wss://backend/monitor/ws/sites"),
		Entry("ws is kept", "ws://backend", subscription.SitesSocket(), "ws://backend/ws/sites"),
	)

	It("should reject unusable base URLs", func() {
		_, err := subscription.SitesSocket().SocketURL("ftp://backend")
		Expect(err).To(MatchError(ContainSubstring("unsupported base URL scheme")))

		_, err = subscription.SitesSocket().SocketURL("http://")
		Expect(err).To(MatchError(ContainSubstring("has no host")))
	})

	It("should parse transport names", func() {
		Expect(subscription.ParseTransport("poll")).To(Equal(subscription.TransportPoll))
		Expect(subscription.ParseTransport("Socket")).To(Equal(subscription.TransportSocket))
		_, err := subscription.ParseTransport("carrier-pigeon")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Assess", func() {
	DescribeTable("severity",
		func(err error, expected subscription.Severity) {
			Expect(subscription.Assess(err)).To(Equal(expected))
		},
		Entry("nil", nil, subscription.SeverityIgnore),
		Entry("teardown cancellation", polling.ErrCanceled, subscription.SeverityIgnore),
		Entry("context cancellation", fmt.Errorf("fetch: %w", context.Canceled), subscription.SeverityIgnore),
		Entry("skipped tick", polling.ErrInFlight, subscription.SeverityIgnore),
		Entry("manual disconnect", connection.ErrManualDisconnect, subscription.SeverityIgnore),
		Entry("torn down", subscription.ErrTornDown, subscription.SeverityIgnore),
		Entry("404 after retries", fmt.Errorf("request failed after 3 attempt(s): %w", &polling.StatusError{Code: http.StatusNotFound}), subscription.SeveritySoft),
		Entry("server error", &polling.StatusError{Code: http.StatusBadGateway}, subscription.SeveritySoft),
		Entry("transport failure", &polling.TransportError{Err: errors.New("reset")}, subscription.SeveritySoft),
		Entry("decode failure", &polling.DecodeError{Err: errors.New("bad json")}, subscription.SeveritySoft),
		Entry("budget exhausted", connection.ErrBudgetExhausted, subscription.SeverityTerminal),
		Entry("wrapped budget exhausted", fmt.Errorf("socket: %w", connection.ErrBudgetExhausted), subscription.SeverityTerminal),
	)
})

var _ = Describe("Config", func() {
	It("should require a base URL and callback", func() {
		_, err := subscription.Mount(subscription.Config{Target: subscription.SitesPoll()}, subscription.Deps{})
		Expect(err).To(MatchError(ContainSubstring("base URL is required")))

		_, err = subscription.Mount(subscription.Config{
			BaseURL: "http://backend",
			Target:  subscription.SitesPoll(),
		}, subscription.Deps{})
		Expect(err).To(MatchError(ContainSubstring("update callback is required")))
	})

	It("should reject a background interval shorter than the foreground one", func() {
		config := subscription.DefaultConfig()
		config.BaseURL = "http://backend"
		config.Target = subscription.SitesPoll()
		config.OnUpdate = func(subscription.Update) {}
		config.BackgroundPollInterval = config.PollInterval / 2

		_, err := subscription.Mount(config, subscription.Deps{})
		Expect(err).To(MatchError(ContainSubstring("background poll interval")))
	})

	It("should reject a socket target on a non-http base", func() {
		_, err := subscription.Mount(subscription.Config{
			BaseURL:  "file:///tmp",
			Target:   subscription.SitesSocket(),
			OnUpdate: func(subscription.Update) {},
		}, subscription.Deps{})
		Expect(err).To(HaveOccurred())
	})
})
