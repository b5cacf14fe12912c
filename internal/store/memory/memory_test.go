package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/store"
)

func newConversation(t *testing.T, s *Store, id string, users ...string) {
	t.Helper()
	participants := make([]model.Sender, 0, len(users))
	for _, u := range users {
		participants = append(participants, model.Sender{ID: u})
	}
	require.NoError(t, s.CreateConversation(context.Background(), &model.Conversation{
		ID:           id,
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}))
}

func TestConversationLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	newConversation(t, s, "c1", "u1", "u2")

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, conv.Participants, 2)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.CreateConversation(ctx, &model.Conversation{ID: "c1"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	ok, err := s.IsParticipant(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsParticipant(ctx, "c1", "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListConversationsFiltersByUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	newConversation(t, s, "c1", "u1", "u2")
	newConversation(t, s, "c2", "u2", "u3")

	convs, err := s.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)

	convs, err = s.ListConversations(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestMessagesOldestFirstWithLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	newConversation(t, s, "c1", "u1", "u2")

	base := time.Now().UTC()
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMessage(ctx, &model.Message{
			ID:             model.ServerID(content),
			ConversationID: "c1",
			Sender:         model.Sender{ID: "u1"},
			Content:        content,
			ReadBy:         []string{"u1"},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)

	msgs, err = s.ListMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestMarkReadAddsUserOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	newConversation(t, s, "c1", "u1", "u2")
	require.NoError(t, s.AppendMessage(ctx, &model.Message{
		ID:             model.ServerID("m1"),
		ConversationID: "c1",
		Sender:         model.Sender{ID: "u1"},
		ReadBy:         []string{"u1"},
		CreatedAt:      time.Now().UTC(),
	}))

	require.NoError(t, s.MarkRead(ctx, "c1", "u2"))
	require.NoError(t, s.MarkRead(ctx, "c1", "u2"))

	msgs, err := s.ListMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, msgs[0].ReadBy)
}

func TestListMessagesReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	newConversation(t, s, "c1", "u1")
	require.NoError(t, s.AppendMessage(ctx, &model.Message{
		ID:             model.ServerID("m1"),
		ConversationID: "c1",
		ReadBy:         []string{"u1"},
		CreatedAt:      time.Now().UTC(),
	}))

	msgs, _ := s.ListMessages(ctx, "c1", 0)
	msgs[0].ReadBy = append(msgs[0].ReadBy, "intruder")

	fresh, _ := s.ListMessages(ctx, "c1", 0)
	assert.NotContains(t, fresh[0].ReadBy, "intruder")
}

func TestForumPostsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"p1", "p2"} {
		require.NoError(t, s.CreatePost(ctx, &model.ForumPost{
			ID:        id,
			ForumID:   "f1",
			Content:   id,
			Author:    model.Sender{ID: "u1"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	posts, err := s.ListPosts(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)
	assert.Equal(t, "p1", posts[1].ID)
}

func TestAddReply(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreatePost(ctx, &model.ForumPost{
		ID: "p1", ForumID: "f1", Content: "post", Author: model.Sender{ID: "u1"}, CreatedAt: time.Now().UTC(),
	}))

	err := s.AddReply(ctx, "missing", &model.ForumReply{ID: "r1"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.AddReply(ctx, "p1", &model.ForumReply{
		ID: "r1", Content: "reply", Author: model.Sender{ID: "u2"}, CreatedAt: time.Now().UTC(),
	}))

	posts, err := s.ListPosts(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, 1, posts[0].ReplyCount)
	require.Len(t, posts[0].Replies, 1)
	assert.Equal(t, "r1", posts[0].Replies[0].ID)
}
