// Package pushwire defines the frames and naming conventions of the push
// transport: channel names, event names and the JSON envelope exchanged over
// the WebSocket. Both the client connection and the server hub speak this.
package pushwire

import (
	"encoding/json"

	"github.com/quizz-issima/realtime/internal/model"
)

type FrameType string

const (
	// FrameConnected is sent by the server right after the upgrade.
	FrameConnected FrameType = "connection:established"
	// FrameSubscribe / FrameUnsubscribe manage channel membership (client -> server).
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	// FrameEvent delivers a channel event (server -> client).
	FrameEvent FrameType = "event"
	FrameError FrameType = "error"
)

// Frame is the single envelope used in both directions.
type Frame struct {
	Type     FrameType       `json:"type"`
	Channel  string          `json:"channel,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	SocketID string          `json:"socket_id,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Event names carried on channels.
const (
	EventNewMessage     = "new-message"
	EventMessageRead    = "message-read"
	EventNewPost        = "new-post"
	EventNewReply       = "new-reply"
	EventRequestUpdated = "request-updated"
)

// ConversationChannel returns the channel name for a conversation.
func ConversationChannel(conversationID string) string {
	return "conversation-" + conversationID
}

// ForumChannel returns the channel name for a forum.
func ForumChannel(forumID string) string {
	return "forum-" + forumID
}

// RequestsChannel returns the per-user channel for request updates.
func RequestsChannel(userID string) string {
	return "requests-" + userID
}

// MessageReadPayload is the body of EventMessageRead.
type MessageReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// NewPostPayload is the body of EventNewPost.
type NewPostPayload struct {
	Post model.ForumPost `json:"post"`
}

// NewReplyPayload is the body of EventNewReply.
type NewReplyPayload struct {
	PostID string           `json:"postId"`
	Reply  model.ForumReply `json:"reply"`
}
