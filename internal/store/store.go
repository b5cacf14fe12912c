// Package store определяет хранилища бэкенда сообщений.
// Реализации: postgres.Store (pgx) и memory.Store (для -dev и тестов).
package store

import (
	"context"
	"errors"

	"github.com/quizz-issima/realtime/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ConversationStore — доступ к беседам и их участникам.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// MessageStore — доступ к сообщениям беседы.
type MessageStore interface {
	// AppendMessage сохраняет новое сообщение (id уже присвоен сервером).
	AppendMessage(ctx context.Context, msg *model.Message) error
	// ListMessages возвращает последние limit сообщений беседы, oldest-first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// MarkRead добавляет userID в readBy всех сообщений беседы.
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// ForumStore — доступ к постам форумов.
type ForumStore interface {
	CreatePost(ctx context.Context, post *model.ForumPost) error
	AddReply(ctx context.Context, postID string, reply *model.ForumReply) error
	ListPosts(ctx context.Context, forumID string) ([]model.ForumPost, error)
}

// Store объединяет все хранилища (обе реализации покрывают весь набор).
type Store interface {
	ConversationStore
	MessageStore
	ForumStore
}
