package chat

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/service/ai"
	chatService "github.com/cheongchun/ai-core/internal/service/chat"
	"github.com/cheongchun/ai-core/internal/service/personalize"
	"github.com/cheongchun/ai-core/pkg/utils"
)

// failureMessage is returned when a chat turn cannot be processed.
const failureMessage = "채팅 처리 중 오류가 발생했습니다."

// Completer answers a single chat turn. It always returns text; provider
// failures and a missing model come back as ai.Apology.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) string
}

// PromptSource renders the personalized system prompt.
type PromptSource interface {
	SystemPrompt(ctx context.Context, id personalize.Identity) string
}

// Handler serves the non-streaming chat endpoint.
type Handler struct {
	chatSvc   *chatService.Service
	completer Completer
	prompts   PromptSource
	logger    *zap.Logger
}

// New creates the chat handler.
func New(chatSvc *chatService.Service, completer Completer, prompts PromptSource, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		completer: completer,
		prompts:   prompts,
		logger:    logger.Named("chat"),
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatRequest struct {
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id" validate:"required"`
}

type chatResponse struct {
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	session, err := h.chatSvc.EnsureSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		h.logger.Error("ensure session failed", zap.Error(err))
		utils.RespondDetail(w, http.StatusInternalServerError, failureMessage)
		return
	}

	history, err := h.chatSvc.LoadTranscript(ctx, req.UserID, session.ID)
	if err != nil {
		h.logger.Error("load transcript failed", zap.String("session_id", session.ID), zap.Error(err))
		utils.RespondDetail(w, http.StatusInternalServerError, failureMessage)
		return
	}

	system := h.prompts.SystemPrompt(ctx, personalize.Identity{UserID: req.UserID})
	reply := h.completer.Complete(ctx, ai.Request{
		SystemPrompt: system,
		History:      history,
		Message:      req.Message,
	})

	h.remember(ctx, req.UserID, session.ID, chat.UserMessage(req.Message))
	h.remember(ctx, req.UserID, session.ID, chat.AssistantMessage(reply))

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Message:   reply,
		SessionID: session.ID,
		Timestamp: time.Now(),
	})
}

func (h *Handler) remember(ctx context.Context, userID, sessionID string, msg chat.Message) {
	msg.SessionID = sessionID
	if err := h.chatSvc.SaveMessage(ctx, userID, msg); err != nil {
		h.logger.Warn("failed to save message", zap.String("session_id", sessionID), zap.Error(err))
	}
}
