package services_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/sitewatch/internal/services"
)

var _ = Describe("EventBus", func() {
	var bus *services.EventBus

	BeforeEach(func() {
		bus = services.NewEventBus()
	})

	It("should deliver events only to subscribers of the type", func() {
		sites := bus.Subscribe(services.EventSitesUpdated, 1)
		status := bus.Subscribe(services.EventStatusChanged, 1)

		bus.Publish(services.Event{Type: services.EventSitesUpdated, View: "sites"})

		var event services.Event
		Expect(sites).To(Receive(&event))
		Expect(event.View).To(Equal("sites"))
		Expect(event.Timestamp.IsZero()).To(BeFalse())
		Expect(status).NotTo(Receive())
	})

	It("should deliver every type to SubscribeAll", func() {
		all := bus.SubscribeAll(len(services.AllEventTypes))
		for _, eventType := range services.AllEventTypes {
			bus.Publish(services.Event{Type: eventType})
		}
		Eventually(all).Should(HaveLen(len(services.AllEventTypes)))
	})

	It("should drop events for a full subscriber instead of blocking", func() {
		ch := bus.Subscribe(services.EventSiteUpdated, 1)
		bus.Publish(services.Event{Type: services.EventSiteUpdated, View: "first"})
		bus.Publish(services.Event{Type: services.EventSiteUpdated, View: "second"})

		var event services.Event
		Expect(ch).To(Receive(&event))
		Expect(event.View).To(Equal("first"))
		Expect(ch).NotTo(Receive())
	})

	It("should close an unsubscribed channel once", func() {
		all := bus.SubscribeAll(1)
		bus.Unsubscribe(all)
		Expect(all).To(BeClosed())

		bus.Publish(services.Event{Type: services.EventStatusChanged})
		Expect(func() { bus.Close() }).NotTo(Panic())
	})

	It("should close every channel on Close and ignore later publishes", func() {
		all := bus.SubscribeAll(4)
		one := bus.Subscribe(services.EventAppStateChanged, 4)
		bus.Close()

		Expect(all).To(BeClosed())
		Expect(one).To(BeClosed())
		Expect(func() { bus.Publish(services.Event{Type: services.EventAppStateChanged}) }).NotTo(Panic())
		Expect(bus.Subscribe(services.EventSiteUpdated, 1)).To(BeClosed())
	})
})
