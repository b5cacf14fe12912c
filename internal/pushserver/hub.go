// Package pushserver is the server side of the push transport: a hub of
// WebSocket clients grouped by channel name, with an optional Redis fanout so
// several API instances deliver the same events.
package pushserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/pushwire"
)

// Fanout replicates published frames across instances. A nil Fanout means
// single-instance operation: Publish delivers locally and nothing else.
type Fanout interface {
	// Publish sends the encoded frame for channel to all instances,
	// including this one.
	Publish(ctx context.Context, channel string, frame []byte) error
}

type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	members  map[*Client]map[string]struct{}
	total    int
	maxConns int

	fanout Fanout

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int, fanout Fanout) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		channels:   make(map[string]map[*Client]struct{}),
		members:    make(map[*Client]map[string]struct{}),
		maxConns:   maxConns,
		fanout:     fanout,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for c := range h.members {
		allClients = append(allClients, c)
	}
	h.channels = make(map[string]map[*Client]struct{})
	h.members = make(map[*Client]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		// Убрать и досрочные подписки, чтобы removeClient не трогал счётчик.
		if subs, ok := h.members[c]; ok {
			for channel := range subs {
				h.dropFromChannel(c, channel)
			}
			delete(h.members, c)
		}
		h.mu.Unlock()
		logger.Errorf("push connection limit reached (%d), rejecting socket=%s", h.maxConns, c.socketID)
		c.Close()
		return
	}
	// Не затирать подписки: subscribe-фрейм мог прийти раньше, чем Run
	// обработал регистрацию.
	if _, ok := h.members[c]; !ok {
		h.members[c] = make(map[string]struct{})
	}
	h.total++
	h.mu.Unlock()

	h.sendToClient(c, pushwire.Frame{Type: pushwire.FrameConnected, SocketID: c.socketID})
	logger.Debugf("push client connected socket=%s", c.socketID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	subs, ok := h.members[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for channel := range subs {
		h.dropFromChannel(c, channel)
	}
	delete(h.members, c)
	h.total--
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	logger.Debugf("push client disconnected socket=%s", c.socketID)
}

// Subscribe adds the client to channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(c *Client, channel string) {
	if channel == "" {
		h.sendToClient(c, pushwire.Frame{Type: pushwire.FrameError, Error: "channel required"})
		return
	}
	h.mu.Lock()
	subs, ok := h.members[c]
	if !ok {
		// Subscribe зовётся только из readPump клиента, то есть всегда до его
		// Unregister; отсутствие записи значит лишь, что регистрация ещё в
		// очереди — создаём членство досрочно.
		subs = make(map[string]struct{})
		h.members[c] = subs
	}
	subs[channel] = struct{}{}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
	h.mu.Unlock()
	logger.Debugf("push subscribe socket=%s channel=%s", c.socketID, channel)
}

// Unsubscribe removes the client from channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	if subs, ok := h.members[c]; ok {
		delete(subs, channel)
	}
	h.dropFromChannel(c, channel)
	h.mu.Unlock()
	logger.Debugf("push unsubscribe socket=%s channel=%s", c.socketID, channel)
}

// dropFromChannel removes c from the channel map. Caller holds h.mu.
func (h *Hub) dropFromChannel(c *Client, channel string) {
	clients, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.channels, channel)
	}
}

// Publish delivers an event on channel to every subscribed client. With a
// fanout configured the frame goes through it so all instances deliver;
// otherwise delivery is local only.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("push publish marshal channel=%s event=%s: %v", channel, event, err)
		return
	}
	frame := pushwire.Frame{
		Type:    pushwire.FrameEvent,
		Channel: channel,
		Event:   event,
		Data:    data,
	}
	if h.fanout != nil {
		raw, err := json.Marshal(frame)
		if err != nil {
			logger.Errorf("push publish marshal frame channel=%s: %v", channel, err)
			return
		}
		if err := h.fanout.Publish(ctx, channel, raw); err != nil {
			logger.Errorf("push fanout publish channel=%s: %v, delivering locally", channel, err)
			h.DeliverLocal(frame)
		}
		return
	}
	h.DeliverLocal(frame)
}

// DeliverLocal pushes a frame to the subscribers held by this instance.
// The fanout calls this for frames received from other instances.
func (h *Hub) DeliverLocal(frame pushwire.Frame) {
	h.mu.RLock()
	clients, ok := h.channels[frame.Channel]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, frame)
	}
}

// Subscribers returns the number of local subscribers on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) sendToClient(c *Client, frame pushwire.Frame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("push send buffer full, closing slow client socket=%s", c.socketID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
