// Package chat holds the message synchronization core: the reconciler that
// merges local sends, push deliveries and poll snapshots into one canonical
// message list, and the per-conversation session façade that wires it to the
// transport, the poller and the HTTP API.
package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/model"
)

// Reconciler owns the canonical message set of one conversation. Three
// sources write into it — the local send path, pushed events and poll
// snapshots — and any of them can be first to learn about a given message.
// Every apply path is therefore an idempotent identity-based merge: the
// result is the same regardless of delivery order.
//
// The confirmed list is kept sorted by createdAt ascending with ties broken
// by arrival order; pending entries stay pinned after all confirmed ones. One
// mutex serializes the merge operations (the three sources run on different
// goroutines); identity is always the server id, never content or timestamps.
type Reconciler struct {
	mu sync.Mutex

	conversationID string
	self           model.Sender

	confirmed []*model.Message
	byServer  map[string]*model.Message
	pending   []*model.Message
}

// NewReconciler creates an empty reconciler for a conversation. self is the
// local user: their pushed echoes resolve optimistic entries (see ApplyPushed).
func NewReconciler(conversationID string, self model.Sender) *Reconciler {
	return &Reconciler{
		conversationID: conversationID,
		self:           self,
		byServer:       make(map[string]*model.Message),
	}
}

// ApplyLocalSend appends an optimistic Pending entry and returns its local
// id. The entry renders at the tail until the send is confirmed or fails.
func (r *Reconciler) ApplyLocalSend(content string) model.MessageID {
	id := model.NewLocalID()
	msg := &model.Message{
		ID:             id,
		ConversationID: r.conversationID,
		Sender:         r.self,
		Content:        content,
		ReadBy:         []string{r.self.ID},
		CreatedAt:      time.Now().UTC(),
		Type:           model.MessageTypeText,
		Delivery:       model.DeliveryPending,
	}
	r.mu.Lock()
	r.pending = append(r.pending, msg)
	r.mu.Unlock()
	return id
}

// ResolveLocalSend applies the HTTP response of a send. If the server copy
// already arrived through push or poll, the pending entry is dropped and the
// existing one kept — never two copies of the same send. Otherwise the
// pending entry is replaced by the confirmed message. A no-op when the
// pending entry is already gone (resolved by a push echo).
func (r *Reconciler) ResolveLocalSend(localID model.MessageID, serverMsg model.Message) {
	if !localID.IsLocal() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removePending(localID)
	if serverMsg.ID.IsZero() {
		return
	}
	if existing, ok := r.byServer[serverMsg.ID.String()]; ok {
		// Push/poll beat the HTTP response; keep the copy already in place.
		mergeReadBy(existing, serverMsg.ReadBy)
		return
	}
	r.insertConfirmed(serverMsg)
}

// FailLocalSend evicts the pending entry of a failed send. Nothing lingers in
// a failed state; retrying is an explicit new send.
func (r *Reconciler) FailLocalSend(localID model.MessageID) {
	if !localID.IsLocal() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removePending(localID) {
		logger.Debugf("chat %s: evicted failed send %s", r.conversationID, localID)
	}
}

// ApplyPushed merges one push-delivered message. Duplicate deliveries are
// no-ops. A first-seen echo of the local user's own send also retires the
// earliest pending entry with the same content: the confirmed copy has
// arrived, so the later ResolveLocalSend for it becomes a no-op. Cross-user
// entries are never matched by content — only the explicit resolve linkage or
// a same-sender echo can retire a pending entry.
func (r *Reconciler) ApplyPushed(msg model.Message) {
	if msg.ID.IsZero() || msg.ID.IsLocal() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byServer[msg.ID.String()]; ok {
		mergeReadBy(existing, msg.ReadBy)
		return
	}
	r.insertConfirmed(msg)
	if msg.Sender.ID == r.self.ID {
		r.retirePendingEcho(msg.Content)
	}
}

// ApplyPolled merges a poll snapshot. Merge semantics, not replace: unknown
// server ids are added, known ones only grow their readBy set, and a message
// absent from this response is never removed (polls may be windowed).
// Pending entries are untouched — they have no server id to match against.
func (r *Reconciler) ApplyPolled(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, msg := range msgs {
		if msg.ID.IsZero() || msg.ID.IsLocal() {
			continue
		}
		if existing, ok := r.byServer[msg.ID.String()]; ok {
			mergeReadBy(existing, msg.ReadBy)
			continue
		}
		r.insertConfirmed(msg)
		added++
	}
	if added > 0 {
		logger.Debugf("chat %s: poll merged %d new message(s)", r.conversationID, added)
	}
}

// ApplyRead merges a read receipt: userID has seen the conversation, so every
// confirmed message gains them in readBy. readBy growth is the only mutation
// a confirmed message ever sees.
func (r *Reconciler) ApplyRead(userID string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.confirmed {
		m.MarkReadBy(userID)
	}
}

// Messages returns the rendered list: confirmed messages in createdAt order,
// then pending entries in send order. The returned slice is a snapshot.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Message, 0, len(r.confirmed)+len(r.pending))
	for _, m := range r.confirmed {
		out = append(out, snapshot(m))
	}
	for _, m := range r.pending {
		out = append(out, snapshot(m))
	}
	return out
}

// Len returns the number of rendered entries (confirmed + pending).
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed) + len(r.pending)
}

// insertConfirmed places msg into the sorted confirmed list. Ties on
// createdAt insert after existing equals, preserving arrival order so the
// rendered sequence never reshuffles. Caller holds the lock and has checked
// the id is unknown.
func (r *Reconciler) insertConfirmed(msg model.Message) {
	msg.Delivery = model.DeliveryConfirmed
	m := &msg
	idx := sort.Search(len(r.confirmed), func(i int) bool {
		return r.confirmed[i].CreatedAt.After(m.CreatedAt)
	})
	r.confirmed = append(r.confirmed, nil)
	copy(r.confirmed[idx+1:], r.confirmed[idx:])
	r.confirmed[idx] = m
	r.byServer[m.ID.String()] = m
}

// removePending deletes the pending entry with the given local id.
func (r *Reconciler) removePending(localID model.MessageID) bool {
	for i, m := range r.pending {
		if m.ID == localID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

// retirePendingEcho drops the earliest pending entry whose content matches a
// just-inserted own message. Only called for first-seen messages from the
// local sender; if two identical sends are in flight, each confirmed copy
// retires one entry and the resolve path converges the rest.
func (r *Reconciler) retirePendingEcho(content string) {
	for i, m := range r.pending {
		if m.Content == content {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// mergeReadBy unions incoming readBy into an already-known message.
func mergeReadBy(existing *model.Message, readBy []string) {
	for _, id := range readBy {
		existing.MarkReadBy(id)
	}
}

// snapshot copies a message, detaching the readBy slice from the canonical set.
func snapshot(m *model.Message) model.Message {
	out := *m
	if len(m.ReadBy) > 0 {
		out.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return out
}
