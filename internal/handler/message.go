package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/middleware"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/pushserver"
	"github.com/quizz-issima/realtime/internal/pushwire"
	"github.com/quizz-issima/realtime/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	maxContentLength    = 4000
)

// MessageHandler обслуживает сообщения бесед: выборка для polling-клиентов
// и запись с публикацией push-события.
type MessageHandler struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	hub           *pushserver.Hub
}

func NewMessageHandler(conversations store.ConversationStore, messages store.MessageStore, hub *pushserver.Hub) *MessageHandler {
	return &MessageHandler{conversations: conversations, messages: messages, hub: hub}
}

// GetMessages отдаёт последние сообщения беседы, oldest-first.
// GET /api/conversations/{conversationID}/messages?limit=50
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.GetMessages", time.Now())()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.conversations.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("get messages conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	limit := queryInt(r, "limit", defaultMessageLimit)
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	msgs, err := h.messages.ListMessages(r.Context(), conversationID, limit)
	if err != nil {
		logger.Errorf("list messages conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage сохраняет сообщение, присваивает серверный id и публикует
// new-message в канал беседы. Отвечает подтверждённой копией (201).
// POST /api/conversations/{conversationID}/messages
func (h *MessageHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.PostMessage", time.Now())()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(r.Context())

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if len(content) > maxContentLength {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	ok, err := h.conversations.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("post message conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	msg := model.Message{
		ID:             model.ServerID(uuid.New().String()),
		ConversationID: conversationID,
		Sender: model.Sender{
			ID:   userID,
			Name: middleware.GetUserName(r.Context()),
		},
		Content: content,
		// Отправитель всегда считается прочитавшим своё сообщение.
		ReadBy:    []string{userID},
		CreatedAt: time.Now().UTC(),
		Type:      model.MessageTypeText,
	}
	if err := h.messages.AppendMessage(r.Context(), &msg); err != nil {
		logger.Errorf("save message conversation=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	h.hub.Publish(r.Context(), pushwire.ConversationChannel(conversationID), pushwire.EventNewMessage, msg)
	writeData(w, http.StatusCreated, msg)
}

// MarkRead добавляет пользователя в readBy всех сообщений беседы и публикует
// message-read.
// POST /api/conversations/{conversationID}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.MarkRead", time.Now())()
	conversationID := chi.URLParam(r, "conversationID")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.conversations.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("mark read conversation=%s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	if err := h.messages.MarkRead(r.Context(), conversationID, userID); err != nil {
		logger.Errorf("mark read conversation=%s user=%s: %v", conversationID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.hub.Publish(r.Context(), pushwire.ConversationChannel(conversationID), pushwire.EventMessageRead,
		pushwire.MessageReadPayload{ConversationID: conversationID, UserID: userID})
	writeData(w, http.StatusOK, nil)
}
