// Package memory — in-memory реализация хранилищ для режима -dev и тестов
// (без внешней БД).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // conversationID -> oldest-first
	posts         map[string][]*model.ForumPost
	postIndex     map[string]*model.ForumPost
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]*model.Message),
		posts:         make(map[string][]*model.ForumPost),
		postIndex:     make(map[string]*model.ForumPost),
	}
}

func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, 8)
	for _, conv := range s.conversations {
		for _, p := range conv.Participants {
			if p.ID == userID {
				cp := *conv
				if msgs := s.messages[conv.ID]; len(msgs) > 0 {
					last := *msgs[len(msgs)-1]
					cp.LastMessage = &last
				}
				out = append(out, cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false, store.ErrNotFound
	}
	for _, p := range conv.Participants {
		if p.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		cp.ReadBy = append([]string(nil), m.ReadBy...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		m.MarkReadBy(userID)
	}
	return nil
}

func (s *Store) CreatePost(ctx context.Context, post *model.ForumPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *post
	cp.Replies = append([]model.ForumReply(nil), post.Replies...)
	// Новые посты в начало (newest-first, как отдаёт API форумов).
	s.posts[post.ForumID] = append([]*model.ForumPost{&cp}, s.posts[post.ForumID]...)
	s.postIndex[post.ID] = &cp
	return nil
}

func (s *Store) AddReply(ctx context.Context, postID string, reply *model.ForumReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.postIndex[postID]
	if !ok {
		return store.ErrNotFound
	}
	post.Replies = append(post.Replies, *reply)
	post.ReplyCount = len(post.Replies)
	return nil
}

func (s *Store) ListPosts(ctx context.Context, forumID string) ([]model.ForumPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	posts := s.posts[forumID]
	out := make([]model.ForumPost, 0, len(posts))
	for _, p := range posts {
		cp := *p
		cp.Replies = append([]model.ForumReply(nil), p.Replies...)
		out = append(out, cp)
	}
	return out, nil
}
