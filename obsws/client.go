package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by requests issued while OBS is unreachable.
var ErrNotConnected = errors.New("obsws: not connected")

// Config holds the parameters needed to create a Client.
type Config struct {
	URL               string
	Password          string
	ReconnectInterval time.Duration
	RequestTimeout    time.Duration
	Debug             bool
}

// Client is an obs-websocket v5 client. It keeps one connection open in the
// background, reconnecting whenever it drops.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan *requestResponse
	connected atomic.Bool

	onConnect    func(ctx context.Context)
	onDisconnect func(err error)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a client. Call Start to connect.
func New(cfg Config) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending:  make(map[string]chan *requestResponse),
		stopChan: make(chan struct{}),
	}
}

// OnConnect registers a callback run after every successful handshake.
// Requests may be issued from inside it.
func (c *Client) OnConnect(fn func(ctx context.Context)) { c.onConnect = fn }

// OnDisconnect registers a callback run when an established connection drops.
func (c *Client) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// IsConnected reports whether the handshake completed on the current connection.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Start launches the connect/reconnect loop. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		if err := c.session(ctx); err != nil && !c.stopping(ctx) {
			log.Printf("obsws: %v (retry in %s)", err, c.cfg.ReconnectInterval)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// session dials, identifies and serves one connection until it drops.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if err := c.identify(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	log.Printf("obsws: connected to %s", c.cfg.URL)

	done := make(chan error, 1)
	go func() {
		err := c.readLoop(conn)
		c.connected.Store(false)
		c.failPending()
		done <- err
	}()

	if c.onConnect != nil {
		c.onConnect(ctx)
	}

	var readErr error
	select {
	case readErr = <-done:
	case <-ctx.Done():
		conn.Close()
		readErr = <-done
	case <-c.stopChan:
		conn.Close()
		readErr = <-done
	}

	c.connected.Store(false)
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.failPending()

	if c.stopping(ctx) {
		return nil
	}
	log.Printf("obsws: disconnected: %v", readErr)
	if c.onDisconnect != nil {
		c.onDisconnect(readErr)
	}
	return nil
}

func (c *Client) identify(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if msg.Op != OpHello {
		return fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	id := identify{RPCVersion: RPCVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("server requires a password")
		}
		id.Authentication = AuthString(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := writeFrame(conn, OpIdentify, id); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if msg.Op != OpIdentified {
		return fmt.Errorf("expected identified, got op %d", msg.Op)
	}
	if c.cfg.Debug {
		log.Printf("obsws: identified with server %s", h.OBSWebSocketVersion)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Op {
		case OpRequestResponse:
			var resp requestResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				log.Printf("obsws: bad response: %v", err)
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.pendingMu.Unlock()
			if ok {
				ch <- &resp
			}
		case OpEvent:
			// eventSubscriptions is 0; nothing to dispatch.
		default:
			if c.cfg.Debug {
				log.Printf("obsws: ignoring op %d", msg.Op)
			}
		}
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func writeFrame(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(message{Op: op, D: raw})
}

// Request sends one request and waits for its response. out, when non-nil,
// receives the decoded responseData.
func (c *Client) Request(ctx context.Context, requestType string, data any, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan *requestResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := writeFrame(conn, OpRequest, request{RequestType: requestType, RequestID: id, RequestData: data})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("obsws: send %s: %w", requestType, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	var resp *requestResponse
	select {
	case r, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		resp = r
	case <-timer.C:
		return fmt.Errorf("obsws: %s timed out after %s", requestType, c.cfg.RequestTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if !resp.RequestStatus.Result {
		return &RequestError{
			RequestType: requestType,
			Code:        resp.RequestStatus.Code,
			Comment:     resp.RequestStatus.Comment,
		}
	}
	if out != nil && len(resp.ResponseData) > 0 {
		if err := json.Unmarshal(resp.ResponseData, out); err != nil {
			return fmt.Errorf("obsws: decode %s response: %w", requestType, err)
		}
	}
	return nil
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-c.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Close stops the reconnect loop and closes the connection.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}
