package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/observability"
	"github.com/cheongchun/ai-core/internal/service/personalize"
	"github.com/cheongchun/ai-core/internal/service/session"
	"github.com/cheongchun/ai-core/pkg/utils"
)

// Handler streams a single answer as Server-Sent Events using the same
// events as the WebSocket protocol.
type Handler struct {
	streamer     session.Streamer
	prompts      session.PromptSource
	historyLimit int
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// New creates a stream handler.
func New(streamer session.Streamer, prompts session.PromptSource, historyLimit int, logger *zap.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		streamer:     streamer,
		prompts:      prompts,
		historyLimit: historyLimit,
		logger:       logger.Named("stream"),
		metrics:      metrics,
	}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

type streamRequest struct {
	Message string         `json:"message" validate:"required"`
	UserID  string         `json:"user_id" validate:"required"`
	History []chat.Message `json:"history"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req streamRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity := personalize.Identity{UserID: req.UserID}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		identity.Token = strings.TrimSpace(token)
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	coordinator := session.NewCoordinator(session.CoordinatorConfig{
		SessionID: uuid.NewString(),
		Identity:  identity,
		Streamer:  h.streamer,
		Prompts:   h.prompts,
		Sink: func(event chat.StreamEvent) error {
			return utils.SendSSEChunk(w, flusher, event)
		},
		HistoryLimit: h.historyLimit,
		Logger:       h.logger,
		Metrics:      h.metrics,
	})
	defer coordinator.Close()

	err := coordinator.HandleMessage(r.Context(), session.Inbound{Message: req.Message, History: req.History})
	if err != nil && !errors.Is(err, session.ErrTransport) && r.Context().Err() == nil {
		h.logger.Warn("stream request failed", zap.String("user_id", req.UserID), zap.Error(err))
	}
}
