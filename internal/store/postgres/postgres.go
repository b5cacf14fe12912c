// Package postgres — pgx-реализация хранилищ для бэкенда сообщений.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	defer logger.DeferLogDuration("pg.CreateConversation", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg.CreateConversation begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, created_at) VALUES ($1, $2)`,
		conv.ID, conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.CreateConversation: %w", err)
	}
	for _, p := range conv.Participants {
		_, err = tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, user_name, user_image)
			 VALUES ($1, $2, $3, $4)`,
			conv.ID, p.ID, p.Name, p.Image,
		)
		if err != nil {
			return fmt.Errorf("pg.CreateConversation participant: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("pg.GetConversation", time.Now())()
	conv := &model.Conversation{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg.GetConversation: %w", err)
	}
	conv.Participants, err = s.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("pg.ListConversations", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.created_at
		 FROM conversations c
		 JOIN conversation_participants p ON p.conversation_id = c.id
		 WHERE p.user_id = $1
		 ORDER BY c.created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.ListConversations query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 8)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.ListConversations scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.ListConversations rows: %w", err)
	}

	for i := range convs {
		if convs[i].Participants, err = s.participants(ctx, convs[i].ID); err != nil {
			return nil, err
		}
		last, err := s.lastMessage(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = last
	}
	return convs, nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
		 )`, conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pg.IsParticipant: %w", err)
	}
	return exists, nil
}

func (s *Store) participants(ctx context.Context, conversationID string) ([]model.Sender, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, user_name, user_image
		 FROM conversation_participants WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.participants query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Sender, 0, 2)
	for rows.Next() {
		var p model.Sender
		if err := rows.Scan(&p.ID, &p.Name, &p.Image); err != nil {
			return nil, fmt.Errorf("pg.participants scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	defer logger.DeferLogDuration("pg.AppendMessage", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_image, content, type, read_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID.String(), msg.ConversationID, msg.Sender.ID, msg.Sender.Name, msg.Sender.Image,
		msg.Content, msg.Type, msg.ReadBy, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("pg.ListMessages", time.Now())()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, sender_image, content, type, read_by, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.ListMessages query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.ListMessages rows: %w", err)
	}
	// Запрос отдаёт newest-first (для LIMIT); клиенту нужен oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) lastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, sender_image, content, type, read_by, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, conversationID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("pg.MarkRead", time.Now())()
	_, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET read_by = array_append(read_by, $2)
		 WHERE conversation_id = $1 AND NOT ($2 = ANY(read_by))`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("pg.MarkRead: %w", err)
	}
	return nil
}

func (s *Store) CreatePost(ctx context.Context, post *model.ForumPost) error {
	defer logger.DeferLogDuration("pg.CreatePost", time.Now())()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forum_posts (id, forum_id, title, content, author_id, author_name, author_image, is_pinned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		post.ID, post.ForumID, post.Title, post.Content,
		post.Author.ID, post.Author.Name, post.Author.Image, post.IsPinned, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.CreatePost: %w", err)
	}
	return nil
}

func (s *Store) AddReply(ctx context.Context, postID string, reply *model.ForumReply) error {
	defer logger.DeferLogDuration("pg.AddReply", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO forum_replies (id, post_id, content, author_id, author_name, author_image, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE EXISTS (SELECT 1 FROM forum_posts WHERE id = $2)`,
		reply.ID, postID, reply.Content, reply.Author.ID, reply.Author.Name, reply.Author.Image, reply.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.AddReply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPosts(ctx context.Context, forumID string) ([]model.ForumPost, error) {
	defer logger.DeferLogDuration("pg.ListPosts", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, forum_id, title, content, author_id, author_name, author_image, is_pinned, created_at
		 FROM forum_posts
		 WHERE forum_id = $1
		 ORDER BY created_at DESC`, forumID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.ListPosts query: %w", err)
	}
	defer rows.Close()

	posts := make([]model.ForumPost, 0, 16)
	for rows.Next() {
		var p model.ForumPost
		if err := rows.Scan(&p.ID, &p.ForumID, &p.Title, &p.Content,
			&p.Author.ID, &p.Author.Name, &p.Author.Image, &p.IsPinned, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.ListPosts scan: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg.ListPosts rows: %w", err)
	}

	for i := range posts {
		if posts[i].Replies, err = s.replies(ctx, posts[i].ID); err != nil {
			return nil, err
		}
		posts[i].ReplyCount = len(posts[i].Replies)
	}
	return posts, nil
}

func (s *Store) replies(ctx context.Context, postID string) ([]model.ForumReply, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, author_id, author_name, author_image, created_at
		 FROM forum_replies
		 WHERE post_id = $1
		 ORDER BY created_at`, postID,
	)
	if err != nil {
		return nil, fmt.Errorf("pg.replies query: %w", err)
	}
	defer rows.Close()

	out := make([]model.ForumReply, 0, 4)
	for rows.Next() {
		var r model.ForumReply
		if err := rows.Scan(&r.ID, &r.Content, &r.Author.ID, &r.Author.Name, &r.Author.Image, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg.replies scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanMessage читает одну строку messages (row или rows — общий интерфейс Scan).
func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	var id string
	err := row.Scan(&id, &m.ConversationID, &m.Sender.ID, &m.Sender.Name, &m.Sender.Image,
		&m.Content, &m.Type, &m.ReadBy, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("pg.scanMessage: %w", err)
	}
	m.ID = model.ServerID(id)
	return m, nil
}
