package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/handler"
	chatHandler "github.com/cheongchun/ai-core/internal/handler/chat"
	convHandler "github.com/cheongchun/ai-core/internal/handler/conversation"
	"github.com/cheongchun/ai-core/internal/handler/stream"
	"github.com/cheongchun/ai-core/internal/handler/ws"
	"github.com/cheongchun/ai-core/internal/observability"
	"github.com/cheongchun/ai-core/internal/service/ai"
	"github.com/cheongchun/ai-core/internal/service/analysis"
	"github.com/cheongchun/ai-core/internal/service/auth"
	"github.com/cheongchun/ai-core/internal/service/backend"
	"github.com/cheongchun/ai-core/internal/service/chat"
	"github.com/cheongchun/ai-core/internal/service/conversation"
	"github.com/cheongchun/ai-core/internal/service/personalize"
	"github.com/cheongchun/ai-core/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded, using process environment", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	backendClient := backend.New(cfg.Backend, logger, metrics)
	var (
		profiles personalize.Source
		claims   auth.ClaimsSource
	)
	if cfg.Backend.Enabled() {
		profiles = backendClient
		claims = backendClient
	} else {
		logger.Warn("SPRING_BACKEND_URL not set, personalization and persistence disabled")
	}
	resolver := personalize.NewResolver(profiles, ai.BasePrompt, logger)
	verifier := auth.NewVerifier(cfg.Auth, claims)

	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, continuing without AI", zap.String("provider", cfg.AI.Provider), zap.Error(err))
			chatModel = nil
		}
	} else {
		logger.Warn("llm credentials not configured, skipping AI initialization", zap.String("provider", cfg.AI.Provider))
	}

	var aiService *ai.Service
	if chatModel != nil {
		aiService, err = ai.NewService(ctx, chatModel, cfg.AI, logger)
		if err != nil {
			logger.Fatal("failed to initialize AI service", zap.Error(err))
		}
		logger.Info("AI service initialized", zap.String("provider", cfg.AI.Provider))
	}

	analyzer, err := analysis.NewAnalyzer(ctx, chatModel, analysis.Config{
		Model:       cfg.AI.AnalysisModel,
		MaxTokens:   cfg.AI.AnalysisMaxTokens,
		Temperature: &cfg.AI.Temperature,
	}, logger, metrics)
	if err != nil {
		logger.Fatal("failed to initialize conversation analyzer", zap.Error(err))
	}
	finalizer := conversation.NewService(analyzer, backendClient, logger)

	// without a model every chat turn is answered with the apology
	var assistant interface {
		chatHandler.Completer
		session.Streamer
	} = ai.Unavailable{}
	if aiService != nil {
		assistant = aiService
	}

	sessions := session.NewRegistry(cfg.Session, logger, metrics)
	wsHandler := ws.New(ws.Deps{
		Registry:  sessions,
		Streamer:  assistant,
		Prompts:   resolver,
		Verifier:  verifier,
		Finalizer: finalizer,
		Session:   cfg.Session,
		Logger:    logger,
		Metrics:   metrics,
	})

	handlers := handler.Handlers{
		Chat:         chatHandler.New(chat.NewService(cfg.Session), assistant, resolver, logger),
		Stream:       stream.New(assistant, resolver, cfg.Session.HistoryLimit, logger, metrics),
		WebSocket:    wsHandler,
		Conversation: convHandler.New(finalizer, backendClient, logger),
	}

	router := handler.NewRouter(handlers, cfg.Server, registry, logger)

	startServer(ctx, logger, cfg.Server, router)

	// hijacked websocket connections are not closed by Shutdown
	sessions.CloseAll()
	wsHandler.Wait()
}

func startServer(ctx context.Context, logger *zap.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("ai-core listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
