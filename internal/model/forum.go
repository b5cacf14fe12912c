package model

import "time"

// ForumPost is a top-level forum entry ("authorId" embeds the author like
// "senderId" does for messages).
type ForumPost struct {
	ID         string       `json:"_id"`
	ForumID    string       `json:"forumId,omitempty"`
	Title      string       `json:"title,omitempty"`
	Content    string       `json:"content"`
	Author     Sender       `json:"authorId"`
	IsPinned   bool         `json:"isPinned"`
	Replies    []ForumReply `json:"replies"`
	ReplyCount int          `json:"replyCount"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// ForumReply is a reply attached to a post.
type ForumReply struct {
	ID        string    `json:"_id"`
	Content   string    `json:"content"`
	Author    Sender    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasReply reports whether the post already contains a reply with the given id.
func (p *ForumPost) HasReply(id string) bool {
	for _, r := range p.Replies {
		if r.ID == id {
			return true
		}
	}
	return false
}
