package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/quizz-issima/realtime/internal/api"
	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/poller"
	"github.com/quizz-issima/realtime/internal/pushwire"
	"github.com/quizz-issima/realtime/internal/realtime"
)

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("chat: session closed")

// SessionOptions tune a conversation session.
type SessionOptions struct {
	// PollInterval overrides the poll cadence; zero means poller.DefaultInterval.
	PollInterval time.Duration
	// OnUpdate fires after every change to the rendered message list. Called
	// from the goroutine that produced the change; keep it cheap.
	OnUpdate func()
}

// Session wires one conversation to one reconciler, one poller and two
// channel subscriptions (new messages and read receipts). The session is the
// exclusive owner of its reconciler — switching conversations means closing
// this session and starting a new one.
type Session struct {
	conversationID string
	self           model.Sender

	conn     *realtime.Connection
	client   *api.Client
	rec      *Reconciler
	poller   *poller.Poller
	msgSub   *realtime.Subscription
	readSub  *realtime.Subscription
	onUpdate func()

	// active gates every asynchronous callback: a poller tick or push handler
	// firing after Close must be a no-op.
	active atomic.Bool
}

// NewSession creates a session for conversationID. Call Start to activate it.
func NewSession(conn *realtime.Connection, client *api.Client, self model.Sender, conversationID string, opts SessionOptions) *Session {
	s := &Session{
		conversationID: conversationID,
		self:           self,
		conn:           conn,
		client:         client,
		rec:            NewReconciler(conversationID, self),
		onUpdate:       opts.OnUpdate,
	}
	s.poller = poller.New("conversation-"+conversationID, opts.PollInterval, s.pollFetch)
	return s
}

// Start loads the initial snapshot, starts the polling backstop and binds the
// push subscriptions. A failed initial load is not fatal: the first poll tick
// repairs it.
func (s *Session) Start(ctx context.Context) error {
	s.active.Store(true)

	msgs, err := s.client.Messages(ctx, s.conversationID)
	if err != nil {
		logger.Errorf("chat %s: initial load: %v", s.conversationID, err)
	} else {
		s.rec.ApplyPolled(msgs)
		s.notify()
	}

	s.poller.Start()

	channel := pushwire.ConversationChannel(s.conversationID)
	s.msgSub = s.conn.Subscribe(channel, pushwire.EventNewMessage, s.handleNewMessage)
	s.readSub = s.conn.Subscribe(channel, pushwire.EventMessageRead, s.handleMessageRead)
	return nil
}

// Send appends an optimistic entry, posts the message and resolves the
// outcome. The returned error is the only fault class that surfaces to the
// UI ("message not sent"); on failure the optimistic entry is already evicted
// and the user retries explicitly.
func (s *Session) Send(ctx context.Context, content string) (model.MessageID, error) {
	if !s.active.Load() {
		return model.MessageID{}, ErrSessionClosed
	}

	localID := s.rec.ApplyLocalSend(content)
	s.notify()

	msg, err := s.client.SendMessage(ctx, s.conversationID, content)
	if err != nil {
		s.rec.FailLocalSend(localID)
		s.notify()
		return localID, err
	}
	s.rec.ResolveLocalSend(localID, msg)
	s.notify()
	return localID, nil
}

// MarkRead reports to the backend that the user has seen the conversation.
func (s *Session) MarkRead(ctx context.Context) error {
	if !s.active.Load() {
		return ErrSessionClosed
	}
	return s.client.MarkRead(ctx, s.conversationID)
}

// Messages returns the current rendered list (confirmed sorted by createdAt,
// pending at the tail).
func (s *Session) Messages() []model.Message {
	return s.rec.Messages()
}

// ConversationID returns the conversation this session owns.
func (s *Session) ConversationID() string { return s.conversationID }

// Close deactivates the session: the poller stops and both channel bindings
// are released before this returns, so the conversation id can be reused for
// a fresh session. Late deliveries hit the inactive guard and vanish.
func (s *Session) Close() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.poller.Stop()
	if s.msgSub != nil {
		s.msgSub.Unsubscribe()
	}
	if s.readSub != nil {
		s.readSub.Unsubscribe()
	}
	logger.Debugf("chat %s: session closed", s.conversationID)
}

// pollFetch is the poller's tick: full refetch, idempotent merge.
func (s *Session) pollFetch(ctx context.Context) error {
	if !s.active.Load() {
		return nil
	}
	msgs, err := s.client.Messages(ctx, s.conversationID)
	if err != nil {
		return err
	}
	if !s.active.Load() {
		return nil
	}
	before := s.rec.Len()
	s.rec.ApplyPolled(msgs)
	if s.rec.Len() != before {
		s.notify()
	}
	return nil
}

func (s *Session) handleNewMessage(data json.RawMessage) {
	if !s.active.Load() {
		return
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Errorf("chat %s: bad new-message payload: %v", s.conversationID, err)
		return
	}
	s.rec.ApplyPushed(msg)
	s.notify()
}

func (s *Session) handleMessageRead(data json.RawMessage) {
	if !s.active.Load() {
		return
	}
	var p pushwire.MessageReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Errorf("chat %s: bad message-read payload: %v", s.conversationID, err)
		return
	}
	s.rec.ApplyRead(p.UserID)
	s.notify()
}

func (s *Session) notify() {
	if s.onUpdate != nil && s.active.Load() {
		s.onUpdate()
	}
}
