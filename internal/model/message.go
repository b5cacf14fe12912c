package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
)

// DeliveryState is the client-side delivery state of a message.
// It is never serialized and never part of the server payload.
type DeliveryState string

const (
	// DeliveryPending — optimistic local send, no server id yet.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent — accepted by the server but not yet seen by another participant.
	// Derived for display; the reconciler itself only distinguishes pending/confirmed.
	DeliverySent DeliveryState = "sent"
	// DeliveryFailed — the send request errored; the entry is evicted, never rendered.
	DeliveryFailed DeliveryState = "failed"
	// DeliveryConfirmed — the message carries a server id.
	DeliveryConfirmed DeliveryState = "confirmed"
)

// localPrefix makes local ids recognizable in logs. Identity decisions always
// use the tag, never this prefix.
const localPrefix = "temp-"

// MessageID keeps the server and local id spaces formally disjoint.
// Server ids are assigned by the backend; local ids are generated client-side
// for optimistic sends and can never be equal to a server id.
type MessageID struct {
	value string
	local bool
}

// ServerID wraps a backend-assigned id.
func ServerID(id string) MessageID {
	return MessageID{value: id}
}

// NewLocalID generates a fresh client-side id for an optimistic send.
func NewLocalID() MessageID {
	return MessageID{value: localPrefix + uuid.NewString(), local: true}
}

func (id MessageID) String() string { return id.value }

// IsLocal reports whether the id belongs to the local (unconfirmed) space.
func (id MessageID) IsLocal() bool { return id.local }

func (id MessageID) IsZero() bool { return id.value == "" }

// MarshalJSON emits the raw id string ("_id" on the wire).
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON reads a wire id. The wire only ever carries server ids —
// local ids exist purely in client memory.
func (id *MessageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = MessageID{value: s}
	return nil
}

// Sender is the embedded sender reference ("senderId" on the wire).
type Sender struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Message is one chat line in the wire shape shared by the fetch endpoint
// and push payloads. Delivery is client-only state.
type Message struct {
	ID             MessageID     `json:"_id"`
	ConversationID string        `json:"conversationId,omitempty"`
	Sender         Sender        `json:"senderId"`
	Content        string        `json:"content"`
	ReadBy         []string      `json:"readBy,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Type           MessageType   `json:"type"`
	Delivery       DeliveryState `json:"-"`
}

// ReadByUser reports whether userID is in the readBy set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MarkReadBy adds userID to readBy if absent. readBy growth is the only
// mutation allowed on a confirmed message.
func (m *Message) MarkReadBy(userID string) bool {
	if m.ReadByUser(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}
