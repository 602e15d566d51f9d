package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	cmdJoin  = "conversation:join"
	cmdLeave = "conversation:leave"
	cmdSend  = "message:send"

	readLimit = 1 << 20
)

// Config configures the realtime socket.
type Config struct {
	URL               string
	Token             string
	AckTimeout        time.Duration
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	// MaxElapsed bounds one reconnect streak before the client reports
	// Offline. It keeps retrying at MaxInterval afterwards.
	MaxElapsed time.Duration
}

func (c *Config) defaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxElapsed == 0 {
		c.MaxElapsed = 2 * time.Minute
	}
}

// envelope is the wire frame in both directions.
type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client is the realtime socket. It keeps one connection alive, publishes
// server pushes on the bus and drives the connection state machine.
// It implements transport.Socket.
type Client struct {
	conf    Config
	bus     *bus.Bus
	machine *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	seq       atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan transport.Ack
}

var _ transport.Socket = (*Client)(nil)

// New creates a socket client. Call Start to connect.
func New(conf Config, b *bus.Bus, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) *Client {
	conf.defaults()
	return &Client{
		conf:    conf,
		bus:     b,
		machine: machine,
		metrics: m,
		logger:  logging.OrNop(logger).Named("ws"),
		pending: make(map[string]chan transport.Ack),
	}
}

// Start launches the connection loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	_ = c.machine.Transition(status.Closed)
}

// Connected reports whether a live, authenticated connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Join subscribes to a conversation's live events.
func (c *Client) Join(ctx context.Context, conversationID string) error {
	return c.send(ctx, envelope{Type: cmdJoin}, map[string]string{"conversationId": conversationID})
}

// Leave unsubscribes from a conversation's live events.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	return c.send(ctx, envelope{Type: cmdLeave}, map[string]string{"conversationId": conversationID})
}

// SendMessage emits message:send and waits for the server's ack. It returns
// transport.ErrNotConnected only when the frame was never written; a drop
// while waiting for the ack is transport.ErrAckLost.
func (c *Client) SendMessage(ctx context.Context, msg transport.OutgoingMessage) (transport.Ack, error) {
	reqID := fmt.Sprintf("msg-%d", c.seq.Add(1))
	ch := make(chan transport.Ack, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(ctx, envelope{Type: cmdSend, RequestID: reqID}, msg); err != nil {
		return transport.Ack{}, err
	}

	timer := time.NewTimer(c.conf.AckTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return transport.Ack{}, transport.ErrAckLost
		}
		return ack, nil
	case <-timer.C:
		return transport.Ack{}, transport.ErrAckTimeout
	case <-ctx.Done():
		return transport.Ack{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, env envelope, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	env.Payload = raw
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.InitialInterval
	b.MaxInterval = c.conf.MaxInterval
	b.MaxElapsedTime = c.conf.MaxElapsed
	b.Reset()
	return b
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := c.newBackOff()
	for {
		_ = c.machine.Transition(status.Connecting)
		conn, err := c.dial(ctx)
		if err == nil {
			b.Reset()
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.logger.Warn("socket connect failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		_ = c.machine.Transition(status.Reconnecting)
		c.metrics.Reconnect()
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Warn("socket offline, sends fall back to REST")
			_ = c.machine.Transition(status.Offline)
			wait = c.conf.MaxInterval
			b.Reset()
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// dial connects and waits for the server's "authenticated" frame.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.conf.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	if c.conf.Token != "" {
		q := u.Query()
		q.Set("token", c.conf.Token)
		u.RawQuery = q.Encode()
	}

	hctx, cancel := context.WithTimeout(ctx, c.conf.HandshakeTimeout)
	defer cancel()

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.conf.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.conf.Token)
	}
	conn, _, err := websocket.Dial(hctx, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	_, data, err := conn.Read(hctx)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read auth frame: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return nil, fmt.Errorf("expected authenticated frame, got %q", env.Type)
	}
	return conn, nil
}

// serve owns conn until it drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	_ = c.machine.Transition(status.Connected)
	c.logger.Info("socket connected")
	c.bus.Publish(bus.Now(bus.SocketConnected, nil))

	go c.heartbeat(connCtx, conn)
	err := c.readLoop(connCtx, conn)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.failPending()
	_ = conn.Close(websocket.StatusNormalClosure, "")

	if ctx.Err() != nil {
		return
	}
	c.logger.Warn("socket disconnected", zap.Error(err))
	c.bus.Publish(bus.Now(bus.SocketDisconnected, err.Error()))
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.conf.AckTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *Client) resolve(reqID string, ack transport.Ack) {
	c.pendingMu.Lock()
	ch, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- ack
	}
}

// failPending wakes every waiter with ErrAckLost.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
