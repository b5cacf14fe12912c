package model

import "time"

// Conversation is a chat between participants (wire shape of the
// conversations endpoint).
type Conversation struct {
	ID           string    `json:"_id"`
	Participants []Sender  `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
