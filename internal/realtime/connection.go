// Package realtime implements the client side of the push transport: one
// WebSocket connection per session and named channel subscriptions on top of
// it. The connection never retries on its own — when push is down the polling
// fallback is the consistency guarantee, so a dead connection is survivable.
package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/pushwire"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	maxMessageSize   = 1 << 20
	handshakeTimeout = 10 * time.Second
)

// State is the connection lifecycle state. A single enum instead of
// isConfigured/isConnected flag pairs: an invalid combination cannot exist.
type State int32

const (
	// StateUnconfigured — push endpoint/key absent. A supported runtime mode,
	// not an error: the client degrades to pure polling.
	StateUnconfigured State = iota
	StateDisconnected
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Handler receives the raw payload of a channel event.
type Handler func(data json.RawMessage)

// Options configure the connection. Empty Endpoint or Key means unconfigured.
type Options struct {
	Endpoint string // ws(s)://host/ws
	Key      string
	Cluster  string
}

// Connection owns exactly one live connection to the push backend.
// Lifecycle: New -> Connect -> [read pump] -> Disconnect. Shared by all
// channel subscriptions of a session; subscribe/unsubscribe are the only
// mutations and run under the connection's own lock.
type Connection struct {
	opts Options

	mu       sync.RWMutex
	state    State
	conn     *websocket.Conn
	bindings map[string]map[string]Handler // channel -> event -> handler
	closing  bool

	onConnected    func()
	onDisconnected func()
	onError        func(error)

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a connection in Unconfigured or Disconnected state.
func New(opts Options) *Connection {
	c := &Connection{
		opts:     opts,
		bindings: make(map[string]map[string]Handler),
	}
	if opts.Endpoint == "" || opts.Key == "" {
		c.state = StateUnconfigured
	} else {
		c.state = StateDisconnected
	}
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Configured reports whether the push transport is available by configuration.
func (c *Connection) Configured() bool {
	return c.State() != StateUnconfigured
}

// OnConnected registers a callback fired after a successful connect.
func (c *Connection) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

// OnDisconnected registers a callback fired on network drop (not on Disconnect).
func (c *Connection) OnDisconnected(fn func()) {
	c.mu.Lock()
	c.onDisconnected = fn
	c.mu.Unlock()
}

// OnError registers a callback for connect/read failures. The connection does
// not retry; subscribers use this to prefer the polling fallback.
func (c *Connection) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Connect dials the push backend. Idempotent: a no-op while connecting or
// connected. When unconfigured it returns nil — polling-only is a normal
// mode, logged at info level only.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateUnconfigured:
		c.mu.Unlock()
		logger.Info("push: transport not configured, polling-only mode")
		return nil
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.mu.Unlock()

	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return c.connectFailed(err)
	}
	q := u.Query()
	q.Set("key", c.opts.Key)
	if c.opts.Cluster != "" {
		q.Set("cluster", c.opts.Cluster)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return c.connectFailed(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	cb := c.onConnected
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readPump(conn)

	logger.Infof("push: connected to %s", c.opts.Endpoint)
	if cb != nil {
		cb()
	}
	return nil
}

// connectFailed moves Connecting -> Disconnected and surfaces the error.
func (c *Connection) connectFailed(err error) error {
	c.mu.Lock()
	c.state = StateDisconnected
	cb := c.onError
	c.mu.Unlock()
	logger.Errorf("push: connect: %v", err)
	if cb != nil {
		cb(err)
	}
	return err
}

// Disconnect tears the connection down on session end. All bindings are
// removed before the socket closes, so no handler fires afterwards. Safe to
// call multiple times.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	// Unsubscribe-before-disconnect: clearing the table first guarantees the
	// read pump cannot dispatch into a handler after this point.
	c.bindings = make(map[string]map[string]Handler)
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
	logger.Info("push: disconnected")
}

// Bind attaches a handler to (channel, event). Returns false (a documented
// no-op) when the channel is empty, the transport is unconfigured, or the
// connection is not live — callers must not rely on delivery in these cases.
// At most one handler exists per (channel, event); binding again replaces it.
func (c *Connection) Bind(channel, event string, h Handler) bool {
	if channel == "" || event == "" || h == nil {
		return false
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return false
	}
	events, ok := c.bindings[channel]
	if !ok {
		events = make(map[string]Handler)
		c.bindings[channel] = events
	}
	first := len(events) == 0
	events[event] = h
	conn := c.conn
	c.mu.Unlock()

	if first {
		c.writeFrame(conn, pushwire.Frame{Type: pushwire.FrameSubscribe, Channel: channel})
		logger.Debugf("push: subscribed to %s", channel)
	}
	return true
}

// Unbind removes the handler for (channel, event). When the last event of a
// channel is unbound, the channel subscription is released on the server too.
func (c *Connection) Unbind(channel, event string) {
	c.mu.Lock()
	events, ok := c.bindings[channel]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(events, event)
	last := len(events) == 0
	if last {
		delete(c.bindings, channel)
	}
	conn := c.conn
	live := c.state == StateConnected
	c.mu.Unlock()

	if last && live && conn != nil {
		c.writeFrame(conn, pushwire.Frame{Type: pushwire.FrameUnsubscribe, Channel: channel})
		logger.Debugf("push: unsubscribed from %s", channel)
	}
}

func (c *Connection) writeFrame(conn *websocket.Conn, f pushwire.Frame) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Errorf("push: set write deadline: %v", err)
		return
	}
	if err := conn.WriteJSON(f); err != nil {
		logger.Errorf("push: write %s: %v", f.Type, err)
	}
}

// readPump dispatches server frames to bound handlers. Exits on read error:
// intentional close (Disconnect) is silent, a network drop surfaces through
// the disconnected/error callbacks and the connection stays down — the poller
// carries the session from there.
func (c *Connection) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("push: set read deadline: %v", err)
	}
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.readClosed(err)
			return
		}

		var f pushwire.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("push: bad frame: %v", err)
			continue
		}

		switch f.Type {
		case pushwire.FrameConnected:
			logger.Debugf("push: connection established socket_id=%s", f.SocketID)
		case pushwire.FrameEvent:
			c.dispatch(f)
		case pushwire.FrameError:
			logger.Errorf("push: server error: %s", f.Error)
		}
	}
}

func (c *Connection) dispatch(f pushwire.Frame) {
	c.mu.RLock()
	var h Handler
	if events, ok := c.bindings[f.Channel]; ok {
		h = events[f.Event]
	}
	c.mu.RUnlock()
	if h == nil {
		return
	}
	logger.Debugf("push: event %s on %s", f.Event, f.Channel)
	h(f.Data)
}

// readClosed handles read-pump exit. On an unexpected drop the state moves to
// Disconnected and the callbacks fire once; there is no reconnect loop here.
func (c *Connection) readClosed(err error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	onDisc := c.onDisconnected
	onErr := c.onError
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		logger.Errorf("push: connection lost: %v", err)
		if onErr != nil {
			onErr(err)
		}
	} else {
		logger.Info("push: connection closed")
	}
	if onDisc != nil {
		onDisc()
	}
}
