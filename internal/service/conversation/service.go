// Package conversation finalizes finished conversations: it analyzes the
// transcript and persists the record to the profile backend.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	result "github.com/cheongchun/ai-core/internal/model/analysis"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/service/backend"
)

// ErrInvalidUser is returned when a user id is not a backend numeric id.
var ErrInvalidUser = errors.New("invalid user id")

// Analyzer produces an analysis of a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, messages []chat.Message, p *profile.Profile) result.Result
}

// Store is the slice of the profile backend used when finalizing.
type Store interface {
	GetInsights(ctx context.Context, userID string) (*profile.Insights, error)
	SaveConversation(ctx context.Context, record backend.ConversationRecord) (int64, error)
}

// Outcome is the result of Finalize.
type Outcome struct {
	ConversationID *int64        `json:"conversation_id"`
	Analysis       result.Result `json:"analysis"`
	Saved          bool          `json:"saved"`
	Error          string        `json:"error,omitempty"`
}

// SummaryRequest asks for an analysis of a free-text conversation.
type SummaryRequest struct {
	ConversationText string   `json:"conversation_text" validate:"required"`
	UserID           int64    `json:"user_id" validate:"required"`
	SessionTitle     string   `json:"session_title"`
	TotalMessages    int      `json:"total_messages" validate:"gte=0"`
	DurationMinutes  int      `json:"duration_minutes" validate:"gte=0"`
	Topics           []string `json:"topics"`
}

// SummaryResponse is the summary subset of an analysis.
type SummaryResponse struct {
	ConversationSummary string   `json:"conversation_summary"`
	KeyInsights         []string `json:"key_insights"`
	AIRecommendations   []string `json:"ai_recommendations"`
	MoodAnalysis        string   `json:"mood_analysis"`
	StressLevel         int      `json:"stress_level"`
	MainTopics          []string `json:"main_topics"`
	HealthMentions      []string `json:"health_mentions"`
}

// Service finalizes conversations.
type Service struct {
	analyzer Analyzer
	store    Store
	logger   *zap.Logger
}

// NewService wires the finalizer. store may be nil, in which case nothing
// is persisted.
func NewService(analyzer Analyzer, store Store, logger *zap.Logger) *Service {
	return &Service{
		analyzer: analyzer,
		store:    store,
		logger:   logger.Named("conversation"),
	}
}

// Finalize analyzes messages and saves the record for userID. Failures are
// reported in the outcome, never returned.
func (s *Service) Finalize(ctx context.Context, userID string, messages []chat.Message, duration time.Duration) Outcome {
	numericID, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return Outcome{Error: fmt.Errorf("%w: %q", ErrInvalidUser, userID).Error()}
	}

	analysis := s.analyzer.Analyze(ctx, messages, s.profileFromInsights(ctx, userID))

	if s.store == nil {
		return Outcome{Analysis: analysis, Error: backend.ErrNotConfigured.Error()}
	}

	transcript, err := json.Marshal(messages)
	if err != nil {
		return Outcome{Analysis: analysis, Error: err.Error()}
	}

	record := backend.ConversationRecord{
		UserID:              numericID,
		SessionTitle:        analysis.SessionTitle,
		TotalMessages:       len(messages),
		DurationMinutes:     int(duration / time.Minute),
		MessagesJSON:        string(transcript),
		MainTopics:          analysis.MainTopics,
		HealthMentions:      analysis.HealthMentions,
		ConcernsDiscussed:   analysis.ConcernsDiscussed,
		MoodAnalysis:        string(analysis.MoodAnalysis),
		StressLevel:         analysis.StressLevel,
		ConversationSummary: analysis.ConversationSummary,
		KeyInsights:         analysis.KeyInsights,
		AIRecommendations:   analysis.AIRecommendations,
	}

	id, err := s.store.SaveConversation(ctx, record)
	if err != nil {
		s.logger.Warn("saving conversation failed", zap.String("user_id", userID), zap.Error(err))
		return Outcome{Analysis: analysis, Error: err.Error()}
	}

	s.logger.Info("conversation saved",
		zap.String("user_id", userID),
		zap.Int64("conversation_id", id),
		zap.Int("messages", len(messages)),
	)
	return Outcome{ConversationID: &id, Analysis: analysis, Saved: true}
}

// Summarize analyzes a plain-text conversation without persisting it.
// Supplied topics are merged into the detected ones.
func (s *Service) Summarize(ctx context.Context, req SummaryRequest) (SummaryResponse, error) {
	if strings.TrimSpace(req.ConversationText) == "" {
		return SummaryResponse{}, errors.New("conversation text is empty")
	}

	messages := []chat.Message{chat.UserMessage(req.ConversationText)}
	analysis := s.analyzer.Analyze(ctx, messages, nil)
	if err := ctx.Err(); err != nil {
		return SummaryResponse{}, err
	}

	return SummaryResponse{
		ConversationSummary: analysis.ConversationSummary,
		KeyInsights:         analysis.KeyInsights,
		AIRecommendations:   analysis.AIRecommendations,
		MoodAnalysis:        string(analysis.MoodAnalysis),
		StressLevel:         analysis.StressLevel,
		MainTopics:          mergeTopics(analysis.MainTopics, req.Topics),
		HealthMentions:      analysis.HealthMentions,
	}, nil
}

func (s *Service) profileFromInsights(ctx context.Context, userID string) *profile.Profile {
	if s.store == nil {
		return nil
	}

	insights, err := s.store.GetInsights(ctx, userID)
	if err != nil {
		s.logger.Debug("insights unavailable for analysis", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if insights == nil {
		return nil
	}
	return &profile.Profile{Interests: insights.TopInterests}
}

func mergeTopics(detected, supplied []string) []string {
	merged := make([]string, 0, len(detected)+len(supplied))
	seen := make(map[string]struct{}, len(detected)+len(supplied))
	for _, list := range [][]string{detected, supplied} {
		for _, topic := range list {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			merged = append(merged, topic)
		}
	}
	return merged
}
