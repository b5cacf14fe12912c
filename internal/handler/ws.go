package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/pushserver"
)

// WSHandler апгрейдит соединения push-транспорта и регистрирует их в хабе.
type WSHandler struct {
	hub            *pushserver.Hub
	appKey         string
	allowedOrigins string
}

// NewWSHandler создаёт обработчик push-эндпоинта. appKey — ключ приложения
// (клиент передаёт его как ?key=); allowedOrigins — как в CORS (через запятую или "*").
func NewWSHandler(hub *pushserver.Hub, appKey, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, appKey: appKey, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.appKey != "" && r.URL.Query().Get("key") != h.appKey {
		http.Error(w, "invalid app key", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("push upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := pushserver.NewClient(h.hub, conn, uuid.New().String())
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
