package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/quizz-issima/realtime/internal/api"
	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/pushwire"
	"github.com/quizz-issima/realtime/internal/realtime"
)

// ForumFeed keeps a forum's post list live: new posts prepend, new replies
// attach to their post. Same discipline as the message reconciler — merges
// are deduplicated by id, so a push for a post the user just created (and
// already holds from the create response) is a no-op.
type ForumFeed struct {
	forumID string
	client  *api.Client
	conn    *realtime.Connection

	mu    sync.Mutex
	posts []model.ForumPost

	postSub  *realtime.Subscription
	replySub *realtime.Subscription
	onUpdate func()
	active   atomic.Bool
}

// NewForumFeed creates a feed for forumID. onUpdate may be nil.
func NewForumFeed(conn *realtime.Connection, client *api.Client, forumID string, onUpdate func()) *ForumFeed {
	return &ForumFeed{
		forumID:  forumID,
		client:   client,
		conn:     conn,
		onUpdate: onUpdate,
	}
}

// Start fetches the post list and binds the forum channel events.
func (f *ForumFeed) Start(ctx context.Context) error {
	f.active.Store(true)

	posts, err := f.client.ForumPosts(ctx, f.forumID)
	if err != nil {
		logger.Errorf("forum %s: initial load: %v", f.forumID, err)
	} else {
		f.mu.Lock()
		f.posts = posts
		f.mu.Unlock()
		f.notify()
	}

	channel := pushwire.ForumChannel(f.forumID)
	f.postSub = f.conn.Subscribe(channel, pushwire.EventNewPost, f.handleNewPost)
	f.replySub = f.conn.Subscribe(channel, pushwire.EventNewReply, f.handleNewReply)
	return nil
}

// Posts returns a snapshot of the current post list, newest-first.
func (f *ForumFeed) Posts() []model.ForumPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ForumPost, len(f.posts))
	copy(out, f.posts)
	return out
}

// Close releases both channel bindings; late events are no-ops.
func (f *ForumFeed) Close() {
	if !f.active.CompareAndSwap(true, false) {
		return
	}
	if f.postSub != nil {
		f.postSub.Unsubscribe()
	}
	if f.replySub != nil {
		f.replySub.Unsubscribe()
	}
}

func (f *ForumFeed) handleNewPost(data json.RawMessage) {
	if !f.active.Load() {
		return
	}
	var p pushwire.NewPostPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Errorf("forum %s: bad new-post payload: %v", f.forumID, err)
		return
	}
	f.mu.Lock()
	for _, post := range f.posts {
		if post.ID == p.Post.ID {
			f.mu.Unlock()
			return
		}
	}
	f.posts = append([]model.ForumPost{p.Post}, f.posts...)
	f.mu.Unlock()
	f.notify()
}

func (f *ForumFeed) handleNewReply(data json.RawMessage) {
	if !f.active.Load() {
		return
	}
	var p pushwire.NewReplyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logger.Errorf("forum %s: bad new-reply payload: %v", f.forumID, err)
		return
	}
	f.mu.Lock()
	changed := false
	for i := range f.posts {
		if f.posts[i].ID != p.PostID {
			continue
		}
		if !f.posts[i].HasReply(p.Reply.ID) {
			f.posts[i].Replies = append(f.posts[i].Replies, p.Reply)
			f.posts[i].ReplyCount++
			changed = true
		}
		break
	}
	f.mu.Unlock()
	if changed {
		f.notify()
	}
}

func (f *ForumFeed) notify() {
	if f.onUpdate != nil && f.active.Load() {
		f.onUpdate()
	}
}
