package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/middleware"
	"github.com/quizz-issima/realtime/internal/model"
	"github.com/quizz-issima/realtime/internal/store"
)

// ConversationHandler обслуживает список бесед и их создание.
type ConversationHandler struct {
	conversations store.ConversationStore
}

func NewConversationHandler(conversations store.ConversationStore) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// List отдаёт беседы текущего пользователя.
// GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.ListConversations", time.Now())()
	userID := middleware.GetUserID(r.Context())

	convs, err := h.conversations.ListConversations(r.Context(), userID)
	if err != nil {
		logger.Errorf("list conversations user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, convs)
}

type createConversationRequest struct {
	Participants []string `json:"participants"`
}

// Create создаёт беседу. Текущий пользователь добавляется к участникам,
// если его нет в списке.
// POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.CreateConversation", time.Now())()
	userID := middleware.GetUserID(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "participants required")
		return
	}

	participants := make([]model.Sender, 0, len(req.Participants)+1)
	seen := make(map[string]struct{}, len(req.Participants)+1)
	for _, id := range append(req.Participants, userID) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		p := model.Sender{ID: id}
		if id == userID {
			p.Name = middleware.GetUserName(r.Context())
		}
		participants = append(participants, p)
	}

	conv := model.Conversation{
		ID:           uuid.New().String(),
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.conversations.CreateConversation(r.Context(), &conv); err != nil {
		logger.Errorf("create conversation user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	writeData(w, http.StatusCreated, conv)
}
