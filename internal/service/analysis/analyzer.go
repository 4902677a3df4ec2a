// Package analysis produces the end-of-conversation report: a keyword scan of
// the user's words merged with a structured reading from the chat model.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cheongchun/ai-core/internal/analysis/keyword"
	result "github.com/cheongchun/ai-core/internal/model/analysis"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/observability"
)

// Outcome names which path produced the deep-stage fields.
type Outcome string

const (
	OutcomeModel           Outcome = "model"
	OutcomePatternFallback Outcome = "pattern_fallback"
	OutcomeModelFallback   Outcome = "model_fallback"
	OutcomeMinimalFallback Outcome = "minimal_fallback"
)

// Config tunes the deep stage.
type Config struct {
	// Model overrides the chat model name, empty keeps the provider default.
	Model     string
	MaxTokens int
	// Temperature nil means the default of 0.3; zero is a valid setting.
	Temperature *float32
}

const defaultTemperature float32 = 0.3

// Analyzer runs both analysis stages and merges their output.
type Analyzer struct {
	classifier compose.Runnable[map[string]any, *schema.Message]
	cfg        Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewAnalyzer creates an analyzer. With a nil chatModel the deep stage always
// falls back to its fixed defaults.
func NewAnalyzer(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger, metrics *observability.Metrics) (*Analyzer, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Temperature == nil {
		temperature := defaultTemperature
		cfg.Temperature = &temperature
	}

	a := &Analyzer{
		cfg:     cfg,
		logger:  logger.Named("analysis"),
		metrics: metrics,
		now:     time.Now,
	}

	if chatModel == nil {
		return a, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(analysisSystemPrompt),
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile analysis chain: %w", err)
	}

	a.classifier = runnable
	return a, nil
}

// Analyze reports on messages. Every field of the result is populated, even
// when the model is unavailable or its answer cannot be parsed.
func (a *Analyzer) Analyze(ctx context.Context, messages []chat.Message, p *profile.Profile) result.Result {
	text := keyword.UserText(messages)

	var (
		quick   keyword.Result
		deep    deepResult
		outcome Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() {
		quick = keyword.Scan(text)
	}))
	g.Go(guard(func() {
		deep, outcome = a.deepAnalysis(gctx, text, p)
	}))

	if err := g.Wait(); err != nil {
		a.logger.Error("conversation analysis failed", zap.Error(err))
		a.metrics.AnalysisFinished(string(OutcomeMinimalFallback))
		return a.minimalFallback(messages)
	}

	a.metrics.AnalysisFinished(string(outcome))
	return a.merge(quick, deep, messages, text)
}

func (a *Analyzer) merge(quick keyword.Result, deep deepResult, messages []chat.Message, text string) result.Result {
	merged := result.Result{
		MainTopics:          quick.MainTopics,
		HealthMentions:      quick.HealthMentions,
		ConcernsDiscussed:   quick.ConcernsDiscussed,
		DetectedCategories:  quick.DetectedCategories,
		MoodAnalysis:        deep.Mood,
		StressLevel:         deep.StressLevel,
		ConversationSummary: deep.Summary,
		KeyInsights:         deep.KeyInsights,
		AIRecommendations:   deep.Recommendations,
		SessionTitle:        deep.SessionTitle,
		AnalyzedAt:          a.now(),
		TotalMessages:       len(messages),
		ConversationLength:  utf8.RuneCountInString(text),
	}

	// 모델이 같은 필드를 돌려주면 모델 쪽을 따른다.
	if deep.MainTopics != nil {
		merged.MainTopics = deep.MainTopics
	}
	if deep.HealthMentions != nil {
		merged.HealthMentions = deep.HealthMentions
	}
	if deep.ConcernsDiscussed != nil {
		merged.ConcernsDiscussed = deep.ConcernsDiscussed
	}

	return merged
}

func (a *Analyzer) deepAnalysis(ctx context.Context, text string, p *profile.Profile) (deepResult, Outcome) {
	if a.classifier == nil {
		return modelFailureDefaults(), OutcomeModelFallback
	}

	opts := []model.Option{model.WithMaxTokens(a.cfg.MaxTokens), model.WithTemperature(*a.cfg.Temperature)}
	if a.cfg.Model != "" {
		opts = append(opts, model.WithModel(a.cfg.Model))
	}

	msg, err := a.classifier.Invoke(ctx, map[string]any{"prompt": buildAnalysisPrompt(text, p)}, compose.WithChatModelOption(opts...))
	if err != nil {
		a.logger.Warn("analysis model call failed, using defaults", zap.Error(err))
		return modelFailureDefaults(), OutcomeModelFallback
	}
	if msg == nil {
		return modelFailureDefaults(), OutcomeModelFallback
	}

	content := strings.TrimSpace(msg.Content)
	parsed, err := parseAnalysisOutput(content)
	if err != nil {
		a.logger.Warn("analysis output not valid json, extracting by pattern", zap.Error(err))
		return extractByPattern(content), OutcomePatternFallback
	}
	return parsed, OutcomeModel
}

func (a *Analyzer) minimalFallback(messages []chat.Message) result.Result {
	return result.Result{
		MainTopics:          []string{"일반대화"},
		HealthMentions:      []string{},
		ConcernsDiscussed:   []string{},
		DetectedCategories:  map[string][]string{},
		MoodAnalysis:        result.MoodNeutral,
		StressLevel:         result.DefaultStress,
		ConversationSummary: fmt.Sprintf("%d개의 메시지로 AI와 대화를 나누셨습니다.", len(messages)),
		KeyInsights:         []string{"AI 도우미와 유익한 시간을 보내셨습니다."},
		AIRecommendations:   []string{"규칙적인 대화를 통해 활기찬 하루를 만들어보세요."},
		SessionTitle:        "AI 채팅",
		AnalyzedAt:          a.now(),
		TotalMessages:       len(messages),
	}
}

// guard turns a panic inside fn into an error for the errgroup.
func guard(fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("analysis stage panicked: %v", r)
			}
		}()
		fn()
		return nil
	}
}
