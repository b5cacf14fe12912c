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

// ForumHandler обслуживает посты форумов и ответы на них.
type ForumHandler struct {
	forums store.ForumStore
	hub    *pushserver.Hub
}

func NewForumHandler(forums store.ForumStore, hub *pushserver.Hub) *ForumHandler {
	return &ForumHandler{forums: forums, hub: hub}
}

// ListPosts отдаёт посты форума, newest-first, с ответами.
// GET /api/forums/{forumID}/posts
func (h *ForumHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.ListPosts", time.Now())()
	forumID := chi.URLParam(r, "forumID")

	posts, err := h.forums.ListPosts(r.Context(), forumID)
	if err != nil {
		logger.Errorf("list posts forum=%s: %v", forumID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeData(w, http.StatusOK, posts)
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CreatePost сохраняет пост и публикует new-post в канал форума.
// POST /api/forums/{forumID}/posts
func (h *ForumHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.CreatePost", time.Now())()
	forumID := chi.URLParam(r, "forumID")
	userID := middleware.GetUserID(r.Context())

	var req createPostRequest
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

	post := model.ForumPost{
		ID:      uuid.New().String(),
		ForumID: forumID,
		Title:   strings.TrimSpace(req.Title),
		Content: content,
		Author: model.Sender{
			ID:   userID,
			Name: middleware.GetUserName(r.Context()),
		},
		Replies:   []model.ForumReply{},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.forums.CreatePost(r.Context(), &post); err != nil {
		logger.Errorf("create post forum=%s user=%s: %v", forumID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	h.hub.Publish(r.Context(), pushwire.ForumChannel(forumID), pushwire.EventNewPost,
		pushwire.NewPostPayload{Post: post})
	writeData(w, http.StatusCreated, post)
}

type createReplyRequest struct {
	Content string `json:"content"`
}

// CreateReply добавляет ответ к посту и публикует new-reply.
// POST /api/forums/{forumID}/posts/{postID}/replies
func (h *ForumHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.CreateReply", time.Now())()
	forumID := chi.URLParam(r, "forumID")
	postID := chi.URLParam(r, "postID")
	userID := middleware.GetUserID(r.Context())

	var req createReplyRequest
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

	reply := model.ForumReply{
		ID:      uuid.New().String(),
		Content: content,
		Author: model.Sender{
			ID:   userID,
			Name: middleware.GetUserName(r.Context()),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.forums.AddReply(r.Context(), postID, &reply); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		logger.Errorf("create reply post=%s user=%s: %v", postID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create reply")
		return
	}

	h.hub.Publish(r.Context(), pushwire.ForumChannel(forumID), pushwire.EventNewReply,
		pushwire.NewReplyPayload{PostID: postID, Reply: reply})
	writeData(w, http.StatusCreated, reply)
}
