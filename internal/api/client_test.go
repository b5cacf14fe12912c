package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizz-issima/realtime/internal/model"
)

func TestClientSendsIdentityHeaders(t *testing.T) {
	var gotID, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-User-Id")
		gotName = r.Header.Get("X-User-Name")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": []model.Message{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1", UserName: "Alice"})
	_, err := c.Messages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", gotID)
	assert.Equal(t, "Alice", gotName)
}

func TestClientUnwrapsEnvelope(t *testing.T) {
	msgs := []model.Message{
		{
			ID:        model.ServerID("m1"),
			Sender:    model.Sender{ID: "u2", Name: "Bob"},
			Content:   "hi",
			ReadBy:    []string{"u2"},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Type:      model.MessageTypeText,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": msgs})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1"})
	got, err := c.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID.String())
	assert.Equal(t, "hi", got[0].Content)
}

func TestClientSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": model.Message{
			ID:      model.ServerID("m9"),
			Content: body["content"],
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1"})
	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID.String())
}

func TestClientSuccessFalseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "not a participant"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1"})
	_, err := c.Messages(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a participant")
}

func TestClientNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "forbidden"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1"})
	err := c.MarkRead(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClientContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{UserID: "u1"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Messages(ctx, "c1")
	require.Error(t, err)
}
