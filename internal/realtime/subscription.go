package realtime

// Subscription binds one (channel, event) pair to a handler for as long as
// the owning view is active. Rebinding on a channel change always unbinds the
// previous channel first, so a handler can never keep firing for a
// conversation that is no longer displayed.
type Subscription struct {
	conn    *Connection
	event   string
	handler Handler
	channel string
	bound   bool
}

// Subscribe binds handler to (channel, event). A no-op subscription (empty
// channel, unconfigured transport, connection not live) is still returned so
// the caller's teardown path stays uniform.
func (c *Connection) Subscribe(channel, event string, h Handler) *Subscription {
	s := &Subscription{conn: c, event: event, handler: h}
	s.Rebind(channel)
	return s
}

// Rebind switches the subscription to a new channel: unbind old, bind new.
// Binding silently does nothing when delivery cannot be guaranteed — the
// polling fallback covers those windows.
func (s *Subscription) Rebind(channel string) {
	if s.bound {
		s.conn.Unbind(s.channel, s.event)
		s.bound = false
	}
	s.channel = channel
	if channel == "" {
		return
	}
	s.bound = s.conn.Bind(channel, s.event, s.handler)
}

// Unsubscribe releases the binding. Idempotent.
func (s *Subscription) Unsubscribe() {
	if !s.bound {
		return
	}
	s.conn.Unbind(s.channel, s.event)
	s.bound = false
}

// Active reports whether the subscription currently holds a live binding.
func (s *Subscription) Active() bool { return s.bound }
