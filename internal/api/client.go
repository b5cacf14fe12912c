// Package api is the typed HTTP client for the messages backend. All
// endpoints answer the {success, data} envelope; any non-2xx status or
// success=false is an error to the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quizz-issima/realtime/internal/model"
)

const requestTimeout = 15 * time.Second

// Identity is attached to every request so the backend knows the sender.
// Session handling itself is out of scope here.
type Identity struct {
	UserID   string
	UserName string
}

type Client struct {
	baseURL    string
	identity   Identity
	httpClient *http.Client
}

// NewClient creates a client for baseURL ("http://host:port").
func NewClient(baseURL string, identity Identity) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		identity: identity,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// envelope is the response wrapper of every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api %s %s: marshal: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Id", c.identity.UserID)
	req.Header.Set("X-User-Name", c.identity.UserName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("api %s %s: decode (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("api %s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("api %s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Messages fetches the full recent message list of a conversation,
// oldest-first. Used for the initial load and every poll tick.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &msgs)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (model.Message, error) {
	var msg model.Message
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages", body, &msg)
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// MarkRead marks the conversation as read by the current user.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/read", nil, nil)
}

// Conversations lists the current user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation starts a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string) (model.Conversation, error) {
	var conv model.Conversation
	body := map[string][]string{"participants": participantIDs}
	err := c.do(ctx, http.MethodPost, "/api/conversations", body, &conv)
	if err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

// ForumPosts fetches the post list of a forum, newest-first.
func (c *Client) ForumPosts(ctx context.Context, forumID string) ([]model.ForumPost, error) {
	var posts []model.ForumPost
	err := c.do(ctx, http.MethodGet, "/api/forums/"+forumID+"/posts", nil, &posts)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// CreateForumPost publishes a new post and returns the server copy.
func (c *Client) CreateForumPost(ctx context.Context, forumID, title, content string) (model.ForumPost, error) {
	var post model.ForumPost
	body := map[string]string{"title": title, "content": content}
	err := c.do(ctx, http.MethodPost, "/api/forums/"+forumID+"/posts", body, &post)
	if err != nil {
		return model.ForumPost{}, err
	}
	return post, nil
}

// CreateForumReply attaches a reply to a post and returns the server copy.
func (c *Client) CreateForumReply(ctx context.Context, forumID, postID, content string) (model.ForumReply, error) {
	var reply model.ForumReply
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPost, "/api/forums/"+forumID+"/posts/"+postID+"/replies", body, &reply)
	if err != nil {
		return model.ForumReply{}, err
	}
	return reply, nil
}
