package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

var (
	ErrNotConnected     = errors.New("websocket not connected")
	ErrBudgetExhausted  = errors.New("reconnect budget exhausted")
	ErrManualDisconnect = errors.New("connection closed by client")
	ErrRateLimited      = errors.New("send rate limit exceeded")
)

type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type transition struct {
	from, to ConnectionState
}

// Controller owns one socket session: dialing, the heartbeat, and bounded reconnection.
// Disconnect is terminal; create a new Controller for the next session.
type Controller struct {
	config  Config
	dialer  WebSocketDialer
	auth    security.AuthManager
	limiter security.RateLimiter
	metrics performance.Metrics
	clock   clock.WithTicker
	logger  *zap.Logger

	mu        sync.Mutex
	state     ConnectionState
	conn      WebSocketConn
	connSeq   uint64
	dialing   bool
	attempts  int
	exhausted bool
	manual    bool
	stopBeat  chan struct{}
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	notifyMu    sync.Mutex
	transitions []transition

	onMessage     func([]byte)
	onStateChange func(from, to ConnectionState)
}

func NewController(
	config Config,
	dialer WebSocketDialer,
	authManager security.AuthManager,
	metrics performance.Metrics,
	clk clock.WithTicker,
	logger *zap.Logger,
) *Controller {
	config.ApplyDefaults()

	if logger == nil {
		logger = zap.NewNop()
	}
	if dialer == nil {
		dialer = NewGorillaDialer(config)
	}
	if authManager == nil {
		authManager = security.NewAuthManager(nil, logger)
	}
	if metrics == nil {
		metrics = performance.NoopMetrics()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Controller{
		config:  config,
		dialer:  dialer,
		auth:    authManager,
		limiter: security.NewRateLimiter(config.RateLimitCapacity, config.RateLimitRefill),
		metrics: metrics,
		clock:   clk,
		logger:  logger.Named("connection").With(zap.String("url", config.URL)),
		state:   StateIdle,
	}
}

// SetCallbacks registers the frame and state handlers. Must be called before Connect.
func (c *Controller) SetCallbacks(onMessage func([]byte), onStateChange func(from, to ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = onMessage
	c.onStateChange = onStateChange
}

// Connect dials the endpoint. It is a no-op while a dial is in flight or the socket is open.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return ErrManualDisconnect
	}
	if c.exhausted {
		c.mu.Unlock()
		return ErrBudgetExhausted
	}
	if c.dialing || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}

	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(ctx)
	}
	c.dialing = true
	if c.state != StateReconnecting {
		c.setState(StateConnecting)
	}
	runCtx := c.ctx
	c.mu.Unlock()
	c.flushTransitions()

	return c.dial(runCtx)
}

// Start connects in the background.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.Connect(ctx); err != nil {
			c.logger.Debug("Initial connect did not succeed", zap.Error(err))
		}
	}()
}

func (c *Controller) dial(ctx context.Context) error {
	headers, err := c.auth.GetSecureHeaders(ctx)
	if err != nil {
		return c.dialFailed(fmt.Errorf("failed to get auth headers: %w", err))
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.config.URL, headers)
	if err != nil {
		return c.dialFailed(err)
	}
	conn.SetReadLimit(c.config.MaxMessageSize)

	c.mu.Lock()
	c.dialing = false
	if c.manual {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrManualDisconnect
	}

	c.conn = conn
	c.connSeq++
	c.attempts = 0
	c.lastErr = nil
	stop := make(chan struct{})
	c.stopBeat = stop
	c.setState(StateOpen)

	c.wg.Add(2)
	go c.readMessages(conn, c.connSeq)
	go c.heartbeat(ctx, conn, c.connSeq, stop)
	c.mu.Unlock()
	c.flushTransitions()

	c.logger.Info("WebSocket connected")
	return nil
}

func (c *Controller) dialFailed(err error) error {
	c.mu.Lock()
	c.dialing = false
	if c.manual {
		c.mu.Unlock()
		return ErrManualDisconnect
	}

	c.lastErr = err
	c.logger.Warn("WebSocket dial failed", zap.Error(err), zap.Int("attempt", c.attempts))

	if c.ctx.Err() != nil {
		c.setState(StateClosed)
	} else {
		c.scheduleReconnectLocked(websocket.CloseAbnormalClosure)
	}
	c.mu.Unlock()
	c.flushTransitions()

	return fmt.Errorf("failed to connect to WebSocket: %w", err)
}

// scheduleReconnectLocked either arms the reconnect timer or, once the
// budget is spent, parks the controller in Closed. Caller holds c.mu.
func (c *Controller) scheduleReconnectLocked(code int) {
	c.metrics.IncrementConnectionError()

	if c.attempts >= c.config.Reconnect.MaxAttempts {
		c.exhausted = true
		c.setState(StateClosed)
		c.logger.Error("Reconnect budget exhausted",
			zap.Int("attempts", c.attempts),
			zap.Int("code", code),
			zap.Error(c.lastErr))
		return
	}

	c.attempts++
	c.metrics.IncrementReconnection()

	timer := c.clock.NewTimer(c.config.Reconnect.Interval)
	c.setState(StateReconnecting)
	c.logger.Info("Scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.config.Reconnect.MaxAttempts),
		zap.Int("code", code),
		zap.Duration("delay", c.config.Reconnect.Interval))

	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-timer.C():
			_ = c.Connect(ctx)
		case <-ctx.Done():
			timer.Stop()
		}
	}()
}

// handleClose tears down the session identified by seq. Stale sessions are ignored.
func (c *Controller) handleClose(seq uint64, code int, err error) {
	c.mu.Lock()
	if c.conn == nil || seq != c.connSeq {
		c.mu.Unlock()
		return
	}

	conn := c.conn
	c.conn = nil
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	c.lastErr = err

	if c.config.Reconnect.classify(code) == CloseNoReconnect {
		c.logger.Info("WebSocket closed by server", zap.Int("code", code))
		c.setState(StateClosed)
	} else {
		c.logger.Warn("WebSocket closed abnormally", zap.Int("code", code), zap.Error(err))
		c.scheduleReconnectLocked(code)
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.flushTransitions()
}

// Disconnect closes the socket with 1000, cancels any pending reconnect and waits
// for the session goroutines to exit. It is idempotent and never reconnects.
// It must not be called from the message callback.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return nil
	}

	c.manual = true
	conn := c.conn
	c.conn = nil
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	c.setState(StateClosed)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.flushTransitions()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.wg.Wait()
	c.logger.Info("WebSocket disconnected")
	return err
}

// Send writes a text frame. Subscriber sends are rate limited; heartbeats are not.
func (c *Controller) Send(data []byte) error {
	if !c.limiter.Allow() {
		return ErrRateLimited
	}

	conn, err := c.openConn()
	if err != nil {
		return err
	}

	return c.write(conn, data)
}

func (c *Controller) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	c.logger.Debug("Sending WebSocket message", zap.ByteString("payload", data))
	return c.Send(data)
}

func (c *Controller) GetState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the consecutive reconnect attempts since the last successful open.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Exhausted reports whether the controller gave up after MaxAttempts.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) openConn() (WebSocketConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Controller) write(conn WebSocketConn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.manual && c.conn != nil && seq == c.connSeq
}

func (c *Controller) messageHandler() func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onMessage
}

// setState records a transition for flushTransitions. Caller holds c.mu.
func (c *Controller) setState(state ConnectionState) {
	if c.state == state {
		return
	}
	c.transitions = append(c.transitions, transition{from: c.state, to: state})
	c.state = state
	c.logger.Debug("Connection state changed", zap.Stringer("state", state))
}

// flushTransitions delivers queued transitions in order, outside c.mu.
func (c *Controller) flushTransitions() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	pending := c.transitions
	c.transitions = nil
	handler := c.onStateChange
	c.mu.Unlock()

	if handler == nil {
		return
	}
	for _, t := range pending {
		handler(t.from, t.to)
	}
}

func (c *Controller) readMessages(conn WebSocketConn, seq uint64) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("WebSocket read panic", zap.Any("panic", r))
			c.handleClose(seq, websocket.CloseAbnormalClosure, fmt.Errorf("read panic: %v", r))
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(seq, CloseCodeOf(err), err)
			return
		}

		// Liveness frames terminate here. Data frames are counted by the router.
		if base.IsHeartbeat(message) {
			continue
		}

		if !c.isCurrent(seq) {
			return
		}

		if handler := c.messageHandler(); handler != nil {
			handler(message)
		}
	}
}

func (c *Controller) heartbeat(ctx context.Context, conn WebSocketConn, seq uint64, stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := c.write(conn, base.HeartbeatFrame); err != nil {
				c.logger.Warn("Heartbeat send failed", zap.Error(err))
				c.handleClose(seq, websocket.CloseAbnormalClosure, err)
				return
			}
			c.metrics.IncrementHeartbeat()
		}
	}
}
