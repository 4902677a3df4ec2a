// Package conversation serves conversation analysis and the profile backend
// proxy endpoints.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/service/backend"
	convService "github.com/cheongchun/ai-core/internal/service/conversation"
	"github.com/cheongchun/ai-core/pkg/utils"
)

const (
	summaryFailurePrefix = "대화 요약 생성 중 오류가 발생했습니다: "
	defaultHistoryLimit  = 10
	maxHistoryLimit      = 100
)

// Service is the conversation finalizer.
type Service interface {
	Summarize(ctx context.Context, req convService.SummaryRequest) (convService.SummaryResponse, error)
	Finalize(ctx context.Context, userID string, messages []chat.Message, duration time.Duration) convService.Outcome
}

// Backend is the slice of the profile backend proxied by this handler.
type Backend interface {
	GetProfile(ctx context.Context, token string) (*profile.Profile, error)
	UpdateProfile(ctx context.Context, token string, update backend.ProfileUpdate) error
	GetHistory(ctx context.Context, userID string, limit int) ([]backend.HistoryEntry, error)
}

// Handler serves the conversation routes.
type Handler struct {
	svc     Service
	backend Backend
	logger  *zap.Logger
}

// New creates the handler.
func New(svc Service, backend Backend, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, backend: backend, logger: logger.Named("conversation")}
}

// RegisterRoutes mounts the routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversation/summary", h.handleSummary)
	r.Post("/conversation/analyze", h.handleAnalyze)
	r.Get("/conversation/history/{userID}", h.handleHistory)
	r.Get("/profile", h.handleGetProfile)
	r.Put("/profile", h.handleUpdateProfile)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req convService.SummaryRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.Summarize(r.Context(), req)
	if err != nil {
		h.logger.Error("summary failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		utils.RespondDetail(w, http.StatusInternalServerError, summaryFailurePrefix+err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	UserID          json.Number    `json:"user_id" validate:"required"`
	Messages        []chat.Message `json:"messages" validate:"required,min=1,dive"`
	DurationMinutes int            `json:"duration_minutes" validate:"gte=0"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome := h.svc.Finalize(r.Context(), req.UserID.String(), req.Messages, time.Duration(req.DurationMinutes)*time.Minute)
	if errors.Is(r.Context().Err(), context.Canceled) {
		return
	}
	utils.RespondJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.backend.GetHistory(r.Context(), userID, limit)
	if err != nil {
		h.respondBackendError(w, "history", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	p, err := h.backend.GetProfile(r.Context(), token)
	if err != nil {
		h.respondBackendError(w, "profile", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var update backend.ProfileUpdate
	if err := utils.DecodeJSON(r, &update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.backend.UpdateProfile(r.Context(), token, update); err != nil {
		h.respondBackendError(w, "profile update", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *Handler) respondBackendError(w http.ResponseWriter, what string, err error) {
	h.logger.Warn("backend call failed", zap.String("call", what), zap.Error(err))
	if errors.Is(err, backend.ErrNotConfigured) {
		utils.RespondError(w, http.StatusServiceUnavailable, "profile backend not configured")
		return
	}
	utils.RespondError(w, http.StatusBadGateway, what+" unavailable")
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
