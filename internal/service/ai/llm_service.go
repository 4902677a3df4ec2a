package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/config"
	"github.com/cheongchun/ai-core/internal/model/chat"
)

const (
	// BasePrompt is the system prompt every personalization starts from.
	BasePrompt = "시니어용 AI 도우미입니다. 존댓말로 간결하고 따뜻하게 답변하며, 의료/법률 조언시 전문가 상담을 권유합니다."

	// Apology replaces any answer the provider failed to produce.
	Apology = "죄송합니다. 현재 응답을 생성할 수 없습니다. 잠시 후 다시 시도해주세요."

	// HistoryLimit is how many prior turns are sent to the provider.
	HistoryLimit = 10

	streamBuffer = 16
)

// Request is one chat turn sent to the provider.
type Request struct {
	SystemPrompt string
	History      []chat.Message
	Message      string

	// Zero values fall back to the client defaults.
	MaxTokens   int
	Temperature *float32
}

// Token is one element of a streamed answer. A token with Err set carries the
// apology text and is always the last one.
type Token struct {
	Content string
	Err     error
}

// Service wraps the chat model behind a prompt chain and owns the
// error-to-apology policy.
type Service struct {
	chain       compose.Runnable[map[string]any, *schema.Message]
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewService compiles the chat chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	return &Service{
		chain:       runnable,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      logger.Named("ai"),
	}, nil
}

// Complete returns the whole answer, or Apology if the provider fails.
func (s *Service) Complete(ctx context.Context, req Request) string {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(req), s.callOptions(req)...)
	if err != nil {
		s.logger.Error("chat completion failed", zap.Error(err))
		return Apology
	}
	if response == nil {
		return Apology
	}

	s.logger.Debug("chat completion generated", zap.Int("length", len(response.Content)))
	return response.Content
}

// Stream produces the answer incrementally. The channel is closed after the
// last token. A provider failure yields a single Apology token carrying the
// error. Cancelling ctx stops the producer and closes the provider stream.
func (s *Service) Stream(ctx context.Context, req Request) <-chan Token {
	out := make(chan Token, streamBuffer)

	go func() {
		defer close(out)

		stream, err := s.chain.Stream(ctx, s.buildChainInput(req), s.callOptions(req)...)
		if err != nil {
			s.fail(ctx, out, err)
			return
		}
		defer stream.Close()

		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if recvErr != nil {
				s.fail(ctx, out, recvErr)
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			if !send(ctx, out, Token{Content: chunk.Content}) {
				return
			}
		}
	}()

	return out
}

func (s *Service) fail(ctx context.Context, out chan<- Token, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Error("chat stream failed", zap.Error(err))
	send(ctx, out, Token{Content: Apology, Err: err})
}

func send(ctx context.Context, out chan<- Token, token Token) bool {
	select {
	case out <- token:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) callOptions(req Request) []compose.Option {
	maxTokens := s.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	temperature := s.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	return []compose.Option{
		compose.WithChatModelOption(model.WithMaxTokens(maxTokens), model.WithTemperature(temperature)),
	}
}

func (s *Service) buildChainInput(req Request) map[string]any {
	system := req.SystemPrompt
	if system == "" {
		system = BasePrompt
	}

	return map[string]any{
		"system":  system,
		"history": buildHistoryMessages(req.History),
		"query":   req.Message,
	}
}

// buildHistoryMessages keeps only the most recent HistoryLimit turns.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > HistoryLimit {
		startIdx = len(messages) - HistoryLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}

	return history
}
