package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/handler/chat"
	"github.com/cheongchun/ai-core/internal/handler/conversation"
	"github.com/cheongchun/ai-core/internal/handler/stream"
	"github.com/cheongchun/ai-core/internal/handler/ws"
	middlewarePkg "github.com/cheongchun/ai-core/internal/middleware"
	"github.com/cheongchun/ai-core/pkg/utils"
)

// Handlers groups the route handlers mounted by NewRouter. A nil handler
// leaves its routes unmounted.
type Handlers struct {
	Chat         *chat.Handler
	Stream       *stream.Handler
	WebSocket    *ws.Handler
	Conversation *conversation.Handler
}

// NewRouter wires HTTP routes to the handlers.
func NewRouter(h Handlers, serverCfg config.ServerConfig, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.AllowedOrigins))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "AI Core - Senior Chatbot Service"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ai-core"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if h.WebSocket != nil {
		h.WebSocket.RegisterRoutes(r)
	}
	if h.Chat != nil {
		h.Chat.RegisterRoutes(r)
	}
	if h.Stream != nil {
		h.Stream.RegisterRoutes(r)
	}
	if h.Conversation != nil {
		h.Conversation.RegisterRoutes(r)
	}

	return r
}
