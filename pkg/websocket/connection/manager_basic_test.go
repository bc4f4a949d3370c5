package connection_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	mockconn "github.com/backtesting-org/sitewatch/mocks/github.com/backtesting-org/sitewatch/pkg/websocket/connection"
	mockperf "github.com/backtesting-org/sitewatch/mocks/github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	mocksec "github.com/backtesting-org/sitewatch/mocks/github.com/backtesting-org/sitewatch/pkg/websocket/security"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

var _ = Describe("Controller - Basic Operations", func() {
	var (
		ctrl        *connection.Controller
		mockAuth    *mocksec.AuthManager
		mockMetrics *mockperf.Metrics
		mockDialer  *mockconn.WebSocketDialer
	)

	BeforeEach(func() {
		mockAuth = mocksec.NewAuthManager(GinkgoT())
		mockMetrics = mockperf.NewMetrics(GinkgoT())
		mockDialer = mockconn.NewWebSocketDialer(GinkgoT())

		ctrl = connection.NewController(
			connection.TestConfig("ws://backend.test/ws/sites"),
			mockDialer, mockAuth, mockMetrics,
			testingclock.NewFakeClock(time.Now()), zap.NewNop(),
		)
	})

	AfterEach(func() {
		_ = ctrl.Disconnect()
	})

	Describe("Initial State", func() {
		It("should start in Idle state", func() {
			Expect(ctrl.GetState()).To(Equal(connection.StateIdle))
			Expect(ctrl.Attempts()).To(BeZero())
			Expect(ctrl.Exhausted()).To(BeFalse())
		})

		It("should reject sends before connecting", func() {
			Expect(ctrl.Send([]byte("hello"))).To(MatchError(connection.ErrNotConnected))
		})
	})

	Describe("Disconnect - User Command", func() {
		It("should transition to Closed state", func() {
			Expect(ctrl.Disconnect()).To(Succeed())
			Expect(ctrl.GetState()).To(Equal(connection.StateClosed))
		})

		It("should be idempotent", func() {
			Expect(ctrl.Disconnect()).To(Succeed())
			Expect(ctrl.Disconnect()).To(Succeed())
			Expect(ctrl.GetState()).To(Equal(connection.StateClosed))
		})

		It("should refuse to connect afterwards", func() {
			Expect(ctrl.Disconnect()).To(Succeed())
			Expect(ctrl.Connect(context.Background())).To(MatchError(connection.ErrManualDisconnect))
			mockDialer.AssertNotCalled(GinkgoT(), "DialContext", mock.Anything, mock.Anything, mock.Anything)
		})
	})

	Describe("Dial failure", func() {
		It("should schedule a reconnect when the first dial fails", func() {
			mockAuth.On("GetSecureHeaders", mock.Anything).Return(nil, nil)
			mockMetrics.On("IncrementConnectionError").Return()
			mockMetrics.On("IncrementReconnection").Return()
			mockDialer.On("DialContext", mock.Anything, "ws://backend.test/ws/sites", mock.Anything).
				Return(nil, nil, errors.New("connection refused")).Once()

			err := ctrl.Connect(context.Background())
			Expect(err).To(MatchError(ContainSubstring("connection refused")))
			Expect(ctrl.GetState()).To(Equal(connection.StateReconnecting))
			Expect(ctrl.Attempts()).To(Equal(1))
		})

		It("should not dial when auth headers cannot be built", func() {
			mockAuth.On("GetSecureHeaders", mock.Anything).Return(nil, errors.New("token expired"))
			mockMetrics.On("IncrementConnectionError").Return()
			mockMetrics.On("IncrementReconnection").Return()

			err := ctrl.Connect(context.Background())
			Expect(err).To(MatchError(ContainSubstring("token expired")))
			mockDialer.AssertNotCalled(GinkgoT(), "DialContext", mock.Anything, mock.Anything, mock.Anything)
		})
	})
})

var _ = Describe("Close code classification", func() {
	DescribeTable("ClassifyCloseCode",
		func(code int, expected connection.CloseClass) {
			Expect(connection.ClassifyCloseCode(code)).To(Equal(expected))
		},
		Entry("normal closure", websocket.CloseNormalClosure, connection.CloseNoReconnect),
		Entry("going away", websocket.CloseGoingAway, connection.CloseNoReconnect),
		Entry("abnormal closure", websocket.CloseAbnormalClosure, connection.CloseReconnectEligible),
		Entry("internal server error", websocket.CloseInternalServerErr, connection.CloseReconnectEligible),
		Entry("application code", 4000, connection.CloseReconnectEligible),
	)

	It("should read the code from a close error", func() {
		err := fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseGoingAway})
		Expect(connection.CloseCodeOf(err)).To(Equal(websocket.CloseGoingAway))
	})

	It("should treat bare transport errors as abnormal closure", func() {
		Expect(connection.CloseCodeOf(errors.New("broken pipe"))).To(Equal(websocket.CloseAbnormalClosure))
	})
})

var _ = Describe("Config", func() {
	It("should apply defaults", func() {
		config := connection.Config{URL: "wss://backend.test/ws/sites"}
		config.ApplyDefaults()

		Expect(config.HeartbeatInterval).To(Equal(30 * time.Second))
		Expect(config.Reconnect.Interval).To(Equal(3 * time.Second))
		Expect(config.Reconnect.MaxAttempts).To(Equal(10))
		Expect(config.Validate()).To(Succeed())
	})

	It("should reject plain ws when SSL is required", func() {
		config := connection.TestConfig("ws://backend.test/ws/sites")
		config.RequireSSL = true
		Expect(config.Validate()).To(MatchError(ContainSubstring("must be wss")))
	})

	It("should reject http URLs", func() {
		config := connection.TestConfig("http://backend.test/ws/sites")
		Expect(config.Validate()).To(MatchError(ContainSubstring("unsupported WebSocket scheme")))
	})

	It("should reject a negative reconnect budget", func() {
		config := connection.TestConfig("ws://backend.test/ws/sites")
		config.Reconnect.MaxAttempts = -1
		Expect(config.Validate()).To(HaveOccurred())
	})
})
