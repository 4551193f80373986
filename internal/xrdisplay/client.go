package xrdisplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected      = errors.New("xrdisplay: not connected to display service")
	ErrConnectionLost    = errors.New("xrdisplay: connection to display service lost")
	ErrTimeout           = errors.New("xrdisplay: request timeout")
	ErrServiceNotRunning = errors.New("xrdisplay: display service is not running")
)

// RemoteError is an error reply from the service.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("xrdisplay: service error %d: %s", e.Code, e.Message)
}

// Handler receives callbacks pushed by the service. Callbacks run one at a
// time on a dedicated goroutine, in the order the service sent them.
type Handler interface {
	// DisplayRemoved fires when a valid display becomes invalid, before
	// the client's current display id changes.
	DisplayRemoved()
	DisplayChanged(id int)
	DisplayStatusChanged(show bool)
}

// Service is the client side of the secondary display service.
type Service interface {
	Connect(ctx context.Context) error
	DisplayID(ctx context.Context) (int, error)
	SendWindowStatus(ctx context.Context, show bool) error
	RegisterCallback(h Handler) error
	Disconnect() error
}

var _ Service = (*Client)(nil)

// ClientConfig configures the display client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
	Logger         *slog.Logger
}

// DefaultClientConfig returns sensible defaults for a socket path.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "imebridge",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
		AutoReconnect:  true,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// Client talks to the display service over a unix socket.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu       sync.RWMutex
	conn     net.Conn
	clientID string
	handler  Handler
	display  int
	shown    bool
	cancel   context.CancelFunc

	connected atomic.Bool
	writeMu   sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan *Message
	nextReqID atomic.Uint32

	callbacks chan func()
	wg        sync.WaitGroup
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "imebridge"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "xrdisplay")),
		display: InvalidDisplay,
		pending: make(map[uint32]chan *Message),
	}
}

// Connect dials the service and performs the handshake. A registered
// handler is registered again on the new connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}

	conn, id, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if c.handler != nil {
		if err := c.registerSync(conn); err != nil {
			conn.Close()
			return fmt.Errorf("register callback: %w", err)
		}
	}

	if c.cancel != nil {
		// loops left over from a lost connection
		c.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.clientID = id
	c.cancel = cancel
	c.callbacks = make(chan func(), 32)
	c.connected.Store(true)

	c.wg.Add(2)
	go c.readLoop(loopCtx, conn)
	go c.dispatchLoop(loopCtx, c.callbacks)

	c.logger.Info("connected to display service", "socket", c.cfg.SocketPath, "client_id", id)
	return nil
}

// dial opens a connection and completes the handshake on it before any
// reader goroutine exists.
func (c *Client) dial(ctx context.Context) (net.Conn, string, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrServiceNotRunning
		}
		return nil, "", fmt.Errorf("xrdisplay: connect: %w", err)
	}

	req := &HandshakeRequest{ClientName: c.cfg.ClientName, ProtocolVersion: ProtocolVersion}
	resp, err := c.exchange(conn, MsgHandshake, req)
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("xrdisplay: handshake: %w", err)
	}
	if resp.Header.Type != MsgHandshakeAck {
		conn.Close()
		return nil, "", fmt.Errorf("xrdisplay: handshake: unexpected response %s", resp.Header.Type)
	}
	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("xrdisplay: handshake: %w", err)
	}
	return conn, ack.ClientID, nil
}

func (c *Client) registerSync(conn net.Conn) error {
	resp, err := c.exchange(conn, MsgRegisterCallback, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgAck {
		return fmt.Errorf("unexpected response %s", resp.Header.Type)
	}
	return nil
}

// exchange writes one request and reads its reply directly from conn.
func (c *Client) exchange(conn net.Conn, msgType MessageType, payload any) (*Message, error) {
	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	deadline := time.Now().Add(c.cfg.RequestTimeout)
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	// a rejecting service may reply and close before the write lands, so
	// the reply is read even when the write fails
	werr := NewMessage(msgType, c.requestID(), data).Write(conn)
	resp, err := ReadMessage(conn)
	if err != nil {
		if werr != nil {
			return nil, werr
		}
		return nil, err
	}
	if err := ValidatePayload(resp.Header.Type, resp.Payload); err != nil {
		return nil, err
	}
	return resp, replyError(resp)
}

// Disconnect closes the connection. The current display becomes invalid.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.display = InvalidDisplay
	c.shown = false
	c.connected.Store(false)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.failPending()
	c.wg.Wait()
	return err
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the id the service assigned on handshake.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// CurrentDisplay returns the last known display id, InvalidDisplay when
// none is known.
func (c *Client) CurrentDisplay() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.display
}

// DisplayShown returns the last visibility pushed by the service.
func (c *Client) DisplayShown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shown
}

// DisplayID asks the service for the display hosting the input view.
func (c *Client) DisplayID(ctx context.Context) (int, error) {
	resp, err := c.request(ctx, MsgGetImeDisplay, nil)
	if err != nil {
		return InvalidDisplay, err
	}
	if resp.Header.Type != MsgImeDisplay {
		return InvalidDisplay, fmt.Errorf("xrdisplay: unexpected response %s", resp.Header.Type)
	}
	var p DisplayPayload
	if err := Decode(resp.Payload, &p); err != nil {
		return InvalidDisplay, fmt.Errorf("xrdisplay: decode display: %w", err)
	}
	c.mu.Lock()
	c.display = p.DisplayID
	c.mu.Unlock()
	return p.DisplayID, nil
}

// SendWindowStatus reports whether the input window is shown.
func (c *Client) SendWindowStatus(ctx context.Context, show bool) error {
	resp, err := c.request(ctx, MsgSendClientWindowStatus, &WindowStatusRequest{Show: show})
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgAck {
		return fmt.Errorf("xrdisplay: unexpected response %s", resp.Header.Type)
	}
	return nil
}

// RegisterCallback installs h and asks the service to push callbacks to
// this client. When disconnected, registration happens on Connect.
func (c *Client) RegisterCallback(h Handler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	resp, err := c.request(ctx, MsgRegisterCallback, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgAck {
		return fmt.Errorf("xrdisplay: unexpected response %s", resp.Header.Type)
	}
	return nil
}

func (c *Client) requestID() uint32 {
	for {
		// 0 is reserved for callbacks
		if id := c.nextReqID.Add(1); id != 0 {
			return id
		}
	}
}

// request sends a request and waits for the paired response.
func (c *Client) request(ctx context.Context, msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("xrdisplay: encode payload: %w", err)
	}

	reqID := c.requestID()
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	err = msg.Write(conn)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("xrdisplay: write message: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, replyError(resp)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func replyError(msg *Message) error {
	if msg.Header.Type != MsgError {
		return nil
	}
	var er ErrorResponse
	if err := Decode(msg.Payload, &er); err != nil {
		return &RemoteError{Code: ErrCodeUnknown, Message: string(msg.Payload)}
	}
	return &RemoteError{Code: er.Code, Message: er.Message}
}

// readLoop reads messages until the connection fails or Disconnect.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("display service connection lost", "error", err)
			c.connectionLost(ctx, conn)
			if !c.cfg.AutoReconnect {
				return
			}
			next, ok := c.reconnect(ctx)
			if !ok {
				return
			}
			conn = next
			continue
		}
		c.handleMessage(ctx, conn, msg)
	}
}

// connectionLost drops conn, fails pending requests and invalidates the
// display the way a removal callback would.
func (c *Client) connectionLost(ctx context.Context, conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected.Store(false)
	}
	c.mu.Unlock()
	conn.Close()
	c.failPending()
	c.enqueue(ctx, func() { c.applyDisplay(InvalidDisplay) })
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) reconnect(ctx context.Context) (net.Conn, bool) {
	for attempt := 1; attempt <= c.cfg.MaxReconnect; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(c.cfg.ReconnectWait):
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		conn, id, err := c.dial(dialCtx)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return nil, false
		}
		if c.handler != nil {
			if err := c.registerSync(conn); err != nil {
				c.mu.Unlock()
				conn.Close()
				c.logger.Debug("re-register callback failed", "attempt", attempt, "error", err)
				continue
			}
		}
		c.conn = conn
		c.clientID = id
		c.connected.Store(true)
		c.mu.Unlock()

		c.logger.Info("reconnected to display service", "attempt", attempt)
		return conn, true
	}
	c.logger.Warn("giving up on display service", "attempts", c.cfg.MaxReconnect)
	return nil, false
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(ctx context.Context, conn net.Conn, msg *Message) {
	if err := ValidatePayload(msg.Header.Type, msg.Payload); err != nil {
		c.logger.Warn("dropping invalid message", "type", msg.Header.Type, "error", err)
		return
	}

	switch msg.Header.Type {
	case MsgPong:
	case MsgPing:
		c.writeMu.Lock()
		NewMessage(MsgPong, msg.Header.RequestID, nil).Write(conn)
		c.writeMu.Unlock()
	case MsgSetImeDisplay:
		var p DisplayPayload
		if err := Decode(msg.Payload, &p); err != nil {
			return
		}
		c.enqueue(ctx, func() { c.applyDisplay(p.DisplayID) })
	case MsgSetImeDisplayStatus:
		var p DisplayStatusPayload
		if err := Decode(msg.Payload, &p); err != nil {
			return
		}
		c.enqueue(ctx, func() { c.applyStatus(p.Show) })
	default:
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		ch, ok := c.pending[msg.Header.RequestID]
		if !ok {
			c.logger.Debug("unpaired response", "type", msg.Header.Type, "request_id", msg.Header.RequestID)
			return
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (c *Client) enqueue(ctx context.Context, fn func()) {
	c.mu.RLock()
	callbacks := c.callbacks
	c.mu.RUnlock()
	select {
	case callbacks <- fn:
	case <-ctx.Done():
	}
}

func (c *Client) dispatchLoop(ctx context.Context, callbacks <-chan func()) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-callbacks:
			fn()
		}
	}
}

func (c *Client) applyDisplay(id int) {
	c.mu.RLock()
	prev := c.display
	h := c.handler
	c.mu.RUnlock()

	if h != nil && prev != InvalidDisplay && id == InvalidDisplay {
		h.DisplayRemoved()
	}
	c.mu.Lock()
	c.display = id
	c.mu.Unlock()
	if h != nil {
		h.DisplayChanged(id)
	}
}

func (c *Client) applyStatus(show bool) {
	c.mu.Lock()
	c.shown = show
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.DisplayStatusChanged(show)
	}
}
