// Package ws serves the duplex streaming chat protocol over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/observability"
	"github.com/cheongchun/ai-core/internal/service/auth"
	"github.com/cheongchun/ai-core/internal/service/conversation"
	"github.com/cheongchun/ai-core/internal/service/personalize"
	"github.com/cheongchun/ai-core/internal/service/session"
	"github.com/cheongchun/ai-core/pkg/utils"
)

const (
	readDeadline   = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeDeadline  = 10 * time.Second
	maxFrameBytes  = 64 << 10
	finalizeBudget = 2 * time.Minute
)

// Finalizer persists a finished conversation.
type Finalizer interface {
	Finalize(ctx context.Context, userID string, messages []chat.Message, duration time.Duration) conversation.Outcome
}

// Deps wires the handler.
type Deps struct {
	Registry  *session.Registry
	Streamer  session.Streamer
	Prompts   session.PromptSource
	Verifier  auth.TokenVerifier
	Finalizer Finalizer
	Session   config.SessionConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Handler upgrades chat connections and runs one coordinator per session.
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
	logger   *zap.Logger

	finalizing sync.WaitGroup
}

// New creates the handler.
func New(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: deps.Logger.Named("ws"),
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{userID}", h.handleChat)
}

// Wait blocks until background conversation saves have finished.
func (h *Handler) Wait() {
	h.finalizing.Wait()
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user id is required")
		return
	}

	identity := h.identify(r, userID)

	var conn *websocket.Conn
	sess, err := h.deps.Registry.Register(userID, func() (session.Conn, error) {
		c, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		conn = c
		return c, nil
	})
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		h.logger.Warn("refusing connection, registry full", zap.String("user_id", userID))
		utils.RespondError(w, http.StatusServiceUnavailable, "too many active sessions")
		return
	case err != nil:
		// the upgrader has already answered the client
		h.logger.Info("websocket handshake failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer h.deps.Registry.Unregister(sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := session.NewCoordinator(session.CoordinatorConfig{
		SessionID: sess.ID,
		Identity:  identity,
		Streamer:  h.deps.Streamer,
		Prompts:   h.deps.Prompts,
		Sink: func(event chat.StreamEvent) error {
			return h.deps.Registry.Send(sess.ID, event)
		},
		HistoryLimit: h.deps.Session.HistoryLimit,
		Logger:       h.logger,
		Metrics:      h.deps.Metrics,
	})

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	go h.pingLoop(ctx, conn)
	frames := h.readLoop(ctx, cancel, conn, sess.ID)

	for raw := range frames {
		if err := sess.Wait(ctx); err != nil {
			break
		}

		var in session.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			if err := coordinator.RejectFrame(err); err != nil {
				break
			}
			continue
		}

		if err := coordinator.HandleMessage(ctx, in); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				break
			}
			if errors.Is(err, session.ErrTransport) || errors.Is(err, session.ErrClosed) || ctx.Err() != nil {
				h.logger.Debug("session ended while streaming", zap.String("session_id", sess.ID), zap.Error(err))
				break
			}
			h.logger.Warn("handling message failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	history := coordinator.Close()
	if h.deps.Session.AnalyzeOnDisconnect && h.deps.Finalizer != nil && len(history) > 0 {
		h.finalize(userID, sess.ID, history, coordinator.Duration())
	}
}

// readLoop pumps inbound text frames into a channel until the peer goes
// away. Leaving the loop cancels the session context.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string) <-chan []byte {
	frames := make(chan []byte, 4)

	go func() {
		defer close(frames)
		defer cancel()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					h.logger.Info("websocket read error", zap.String("session_id", sessionID), zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

			if kind != websocket.TextMessage {
				data = nil
			}

			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) finalize(userID, sessionID string, history []chat.Message, duration time.Duration) {
	h.finalizing.Add(1)
	go func() {
		defer h.finalizing.Done()

		ctx, cancel := context.WithTimeout(context.Background(), finalizeBudget)
		defer cancel()

		outcome := h.deps.Finalizer.Finalize(ctx, userID, history, duration)
		if !outcome.Saved {
			h.logger.Info("conversation not saved", zap.String("session_id", sessionID), zap.String("reason", outcome.Error))
		}
	}()
}

// identify decides which token, if any, may be forwarded for profile
// lookups. A token that fails verification is dropped and the user id alone
// is used. The verified subject is not compared with the path user id: the
// backend signs tokens with the username, not the numeric id.
func (h *Handler) identify(r *http.Request, userID string) personalize.Identity {
	id := personalize.Identity{UserID: userID}

	token := tokenFromRequest(r)
	if token == "" {
		return id
	}
	if h.deps.Verifier == nil {
		id.Token = token
		return id
	}

	subject, err := h.deps.Verifier.Verify(r.Context(), token)
	if err != nil {
		h.logger.Info("ignoring unverified token", zap.String("user_id", userID), zap.Error(err))
		return id
	}
	h.logger.Debug("token verified", zap.String("user_id", userID), zap.String("subject", subject))

	id.Token = token
	return id
}

func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
