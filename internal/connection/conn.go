package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/lighter-data/internal/auth"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
	"github.com/rickgao/lighter-data/internal/retry"
)

const (
	// PingInterval is the heartbeat cadence.
	PingInterval = 30 * time.Second

	// PongTimeout closes the socket when neither a pong nor a data
	// frame arrived within it.
	PongTimeout = 60 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultOrigin    = "https://lighter.xyz"
)

// Handler receives each parsed frame in arrival order.
type Handler func(frame model.Doc)

// Config holds connector configuration.
type Config struct {
	URL       string
	UserAgent string
	Origin    string

	// Heartbeat cadence and staleness bound; zero values take the
	// package defaults.
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// DefaultConfig returns the fixed headers the exchange expects.
func DefaultConfig(wsURL string) Config {
	return Config{
		URL:          wsURL,
		UserAgent:    defaultUserAgent,
		Origin:       defaultOrigin,
		PingInterval: PingInterval,
		PongTimeout:  PongTimeout,
	}
}

// subscribeFrame is one channel subscription request.
type subscribeFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

// Conn maintains one account's subscription stream. It owns its
// connection state; health readers see snapshots.
type Conn struct {
	cfg     Config
	account config.Account
	minter  *auth.Minter
	handler Handler
	state   *retry.State
	errors  *errlog.Log
	tracker *metrics.Tracker
	logger  *slog.Logger

	mu                    sync.Mutex
	ws                    *websocket.Conn
	connected             bool
	lastPong              time.Time
	lastMessage           time.Time
	prevFrame             time.Time
	connectionStart       time.Time
	lastSuccessfulConnect time.Time
	reconnectCount        int64
	totalMessages         int64

	forcing atomic.Bool
	kick    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a connector for one account. The handler is invoked
// serially from the read loop.
func New(cfg Config, account config.Account, minter *auth.Minter, handler Handler,
	errors *errlog.Log, tracker *metrics.Tracker, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = PongTimeout
	}
	return &Conn{
		cfg:     cfg,
		account: account,
		minter:  minter,
		handler: handler,
		state:   retry.New(),
		errors:  errors,
		tracker: tracker,
		logger:  logger.With("component", "ws", "account", account.Name),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the connect loop.
func (c *Conn) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	c.logger.Info("websocket connector started", "url", c.cfg.URL, "proxy", c.account.ProxyURL != "")
	return nil
}

// Stop closes the socket and waits for the connect loop to exit.
func (c *Conn) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeSocket()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("websocket connector stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceReconnect tears down the current socket and redials immediately
// with cleared retry state.
func (c *Conn) ForceReconnect() {
	c.forcing.Store(true)
	c.state.ForceReset()
	c.closeSocket()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	c.logger.Info("force reconnect requested")
}

// Connected reports whether the subscription stream is up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Health reports this connection's health rollup.
func (c *Conn) Health() model.WsConnHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	lastMessageAge := -1.0
	if !c.lastMessage.IsZero() {
		lastMessageAge = now.Sub(c.lastMessage).Seconds()
	}
	lastPongAge := -1.0
	if !c.lastPong.IsZero() {
		lastPongAge = now.Sub(c.lastPong).Seconds()
	}

	uptime := 0.0
	if c.connected && !c.connectionStart.IsZero() {
		uptime = math.Round(now.Sub(c.connectionStart).Seconds()*10) / 10
	}

	lastConnect := 0.0
	if !c.lastSuccessfulConnect.IsZero() {
		lastConnect = float64(c.lastSuccessfulConnect.UnixNano()) / 1e9
	}

	phase, attempts := c.state.Phase()

	return model.WsConnHealth{
		AccountID:             c.account.AccountIndex,
		AccountName:           c.account.Name,
		Connected:             c.connected,
		LastMessageAge:        lastMessageAge,
		LastPongAge:           lastPongAge,
		ReconnectCount:        c.reconnectCount,
		TotalMessages:         c.totalMessages,
		HasProxy:              c.account.ProxyURL != "",
		RetryPhase:            phase,
		PhaseAttempts:         attempts,
		UptimeSeconds:         uptime,
		LastSuccessfulConnect: lastConnect,
	}
}

// run is the connect loop: dial, read until failure, back off, redial.
func (c *Conn) run() {
	defer c.wg.Done()

	for {
		err := c.connectAndRead()
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.reconnectCount++
		c.mu.Unlock()
		metrics.WsReconnects.WithLabelValues(c.account.Name).Inc()

		if c.forcing.CompareAndSwap(true, false) {
			// Operator-requested teardown: clean retry state, no
			// error entry, immediate redial.
			continue
		}

		kind, code := classify(err)
		msg := "connection closed"
		if err != nil {
			msg = err.Error()
		}
		c.errors.Add(c.account.AccountIndex, c.account.Name, kind, msg, "websocket", code)
		metrics.RecordError("websocket", kind)
		c.state.Advance()

		phase, attempts := c.state.Phase()
		wait := c.state.Interval()
		c.logger.Warn("websocket disconnected",
			"kind", kind,
			"phase", phase,
			"attempt", attempts,
			"retry_in", wait,
			"err", err,
		)

		select {
		case <-c.ctx.Done():
			return
		case <-c.kick:
		case <-time.After(wait):
		}
	}
}

// connectAndRead dials, subscribes, and reads until the connection
// drops. The returned error describes why the read loop ended.
func (c *Conn) connectAndRead() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	if c.account.ProxyURL != "" {
		proxy, err := url.Parse(c.account.ProxyURL)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}

	header := http.Header{}
	header.Set("User-Agent", c.cfg.UserAgent)
	header.Set("Origin", c.cfg.Origin)
	if token, err := c.minter.Token(); err == nil {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := dialer.DialContext(c.ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.lastPong = now
	c.lastMessage = now
	c.prevFrame = time.Time{}
	c.connectionStart = now
	c.lastSuccessfulConnect = now
	reconnects := c.reconnectCount
	c.mu.Unlock()

	c.state.ResetPhase()
	c.forcing.Store(false)
	metrics.RecordWsConnection(c.account.Name, true)
	c.logger.Info("websocket connected", "reconnects", reconnects)

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
		metrics.RecordWsConnection(c.account.Name, false)
	}()

	ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	if err := c.subscribe(ws); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	heartbeatDone := make(chan struct{})
	c.wg.Add(1)
	go c.heartbeat(ws, heartbeatDone)
	defer close(heartbeatDone)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleFrame(data)
	}
}

// subscribe sends the three account channel subscriptions. A failed
// mint skips subscribing; the heartbeat will recycle the connection.
func (c *Conn) subscribe(ws *websocket.Conn) error {
	token, err := c.minter.Token()
	if err != nil {
		c.logger.Warn("no auth token, skipping subscriptions", "err", err)
		return nil
	}

	channels := []string{"account_all_positions", "account_all_orders", "account_all_trades"}
	for _, ch := range channels {
		frame := subscribeFrame{
			Type:    "subscribe",
			Channel: fmt.Sprintf("%s/%d", ch, c.account.AccountIndex),
			Auth:    token,
		}
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(frame); err != nil {
			return err
		}
	}

	c.logger.Info("subscribed to positions, orders, trades")
	return nil
}

// heartbeat pings every PingInterval and force-closes the socket when
// no pong or data frame arrived within PongTimeout.
func (c *Conn) heartbeat(ws *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(maxTime(c.lastPong, c.lastMessage))
			c.mu.Unlock()

			if idle > c.cfg.PongTimeout {
				c.logger.Warn("no activity, closing socket", "idle", idle.Truncate(time.Second))
				ws.Close()
				return
			}

			deadline := time.Now().Add(writeTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("ping failed, closing socket", "err", err)
				ws.Close()
				return
			}
		}
	}
}

// handleFrame parses one text frame and dispatches it. Malformed
// frames are dropped; a panicking handler is contained so a bad frame
// never kills the read loop.
func (c *Conn) handleFrame(data []byte) {
	now := time.Now()
	c.mu.Lock()
	c.lastMessage = now
	c.totalMessages++
	var gap time.Duration
	if !c.prevFrame.IsZero() {
		gap = now.Sub(c.prevFrame)
	}
	c.prevFrame = now
	c.mu.Unlock()

	c.tracker.RecordWsMessage(float64(gap.Milliseconds()))
	metrics.WsMessages.WithLabelValues(c.account.Name).Inc()

	var frame model.Doc
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("invalid json frame, dropping", "err", err)
		return
	}

	if c.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panicked", "panic", r)
		}
	}()
	c.handler(frame)
}

func (c *Conn) closeSocket() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// classify maps a connection failure to the error-log taxonomy. Errors
// mentioning 429 are upstream rate limits regardless of shape.
func classify(err error) (kind string, code *int) {
	if err == nil {
		return "connection", nil
	}
	if strings.Contains(err.Error(), "429") {
		status := http.StatusTooManyRequests
		return "429", &status
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return "connection", nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection", nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connection", nil
	}
	if errors.Is(err, net.ErrClosed) {
		return "connection", nil
	}

	return "exception", nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
