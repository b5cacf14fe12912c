package handler

import (
	"net/http"

	"github.com/quizz-issima/realtime/internal/config"
)

// PushConfigHandler отдаёт клиентам параметры push-транспорта.
// Пустой ответ означает polling-only режим.
type PushConfigHandler struct {
	cfg config.PushConfig
}

func NewPushConfigHandler(cfg config.PushConfig) *PushConfigHandler {
	return &PushConfigHandler{cfg: cfg}
}

type pushConfigResponse struct {
	Endpoint string `json:"endpoint,omitempty"`
	Key      string `json:"key,omitempty"`
	Cluster  string `json:"cluster,omitempty"`
}

// Get — GET /api/config/push
func (h *PushConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, pushConfigResponse{
		Endpoint: h.cfg.Endpoint,
		Key:      h.cfg.Key,
		Cluster:  h.cfg.Cluster,
	})
}
