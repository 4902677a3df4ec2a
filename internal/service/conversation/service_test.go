package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	result "github.com/cheongchun/ai-core/internal/model/analysis"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/service/backend"
)

type stubAnalyzer struct {
	result      result.Result
	gotMessages []chat.Message
	gotProfile  *profile.Profile
}

func (a *stubAnalyzer) Analyze(_ context.Context, messages []chat.Message, p *profile.Profile) result.Result {
	a.gotMessages = messages
	a.gotProfile = p
	return a.result
}

type stubStore struct {
	insights    *profile.Insights
	insightsErr error
	saveID      int64
	saveErr     error
	saved       []backend.ConversationRecord
}

func (s *stubStore) GetInsights(context.Context, string) (*profile.Insights, error) {
	return s.insights, s.insightsErr
}

func (s *stubStore) SaveConversation(_ context.Context, record backend.ConversationRecord) (int64, error) {
	s.saved = append(s.saved, record)
	return s.saveID, s.saveErr
}

func sampleResult() result.Result {
	return result.Result{
		MainTopics:          []string{"건강"},
		HealthMentions:      []string{"혈압"},
		ConcernsDiscussed:   []string{},
		MoodAnalysis:        result.MoodConcerned,
		StressLevel:         6,
		ConversationSummary: "혈압 이야기를 나눴습니다.",
		KeyInsights:         []string{"건강 관심"},
		AIRecommendations:   []string{"산책"},
		SessionTitle:        "혈압 상담",
	}
}

func TestFinalizeSavesRecord(t *testing.T) {
	analyzer := &stubAnalyzer{result: sampleResult()}
	store := &stubStore{
		insights: &profile.Insights{TopInterests: []string{"등산", "바둑"}},
		saveID:   42,
	}
	svc := NewService(analyzer, store, zap.NewNop())

	messages := []chat.Message{
		chat.UserMessage("요즘 혈압이 높아요"),
		chat.AssistantMessage("병원에 가보시는 게 좋겠어요"),
	}
	out := svc.Finalize(context.Background(), "17", messages, 12*time.Minute+30*time.Second)

	require.True(t, out.Saved)
	require.NotNil(t, out.ConversationID)
	assert.Equal(t, int64(42), *out.ConversationID)
	assert.Empty(t, out.Error)

	require.NotNil(t, analyzer.gotProfile)
	assert.Equal(t, []string{"등산", "바둑"}, analyzer.gotProfile.Interests)

	require.Len(t, store.saved, 1)
	record := store.saved[0]
	assert.Equal(t, int64(17), record.UserID)
	assert.Equal(t, "혈압 상담", record.SessionTitle)
	assert.Equal(t, 2, record.TotalMessages)
	assert.Equal(t, 12, record.DurationMinutes)
	assert.Equal(t, "concerned", record.MoodAnalysis)
	assert.Equal(t, 6, record.StressLevel)

	var transcript []chat.Message
	require.NoError(t, json.Unmarshal([]byte(record.MessagesJSON), &transcript))
	assert.Equal(t, "요즘 혈압이 높아요", transcript[0].Content)
}

func TestFinalizeReportsSaveFailure(t *testing.T) {
	store := &stubStore{
		insightsErr: backend.ErrUnavailable,
		saveErr:     backend.ErrUnavailable,
	}
	analyzer := &stubAnalyzer{result: sampleResult()}
	svc := NewService(analyzer, store, zap.NewNop())

	out := svc.Finalize(context.Background(), "17", []chat.Message{chat.UserMessage("안녕")}, 0)

	assert.False(t, out.Saved)
	assert.Nil(t, out.ConversationID)
	assert.Contains(t, out.Error, "backend unavailable")
	assert.Equal(t, "혈압 상담", out.Analysis.SessionTitle)
	assert.Nil(t, analyzer.gotProfile)
}

func TestFinalizeRejectsNonNumericUser(t *testing.T) {
	store := &stubStore{}
	svc := NewService(&stubAnalyzer{}, store, zap.NewNop())

	out := svc.Finalize(context.Background(), "guest", nil, 0)

	assert.False(t, out.Saved)
	assert.Contains(t, out.Error, ErrInvalidUser.Error())
	assert.Empty(t, store.saved)
}

func TestSummarizeMergesTopics(t *testing.T) {
	analyzer := &stubAnalyzer{result: sampleResult()}
	svc := NewService(analyzer, nil, zap.NewNop())

	resp, err := svc.Summarize(context.Background(), SummaryRequest{
		ConversationText: "혈압 약을 먹고 있어요",
		UserID:           3,
		Topics:           []string{"건강", "약물", " "},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"건강", "약물"}, resp.MainTopics)
	assert.Equal(t, "concerned", resp.MoodAnalysis)
	assert.Equal(t, "혈압 이야기를 나눴습니다.", resp.ConversationSummary)
	require.Len(t, analyzer.gotMessages, 1)
	assert.Equal(t, chat.RoleUser, analyzer.gotMessages[0].Role)
}

func TestSummarizeEmptyText(t *testing.T) {
	svc := NewService(&stubAnalyzer{}, nil, zap.NewNop())

	_, err := svc.Summarize(context.Background(), SummaryRequest{ConversationText: "  "})
	assert.Error(t, err)
}

func TestSummarizeCancelled(t *testing.T) {
	svc := NewService(&stubAnalyzer{result: sampleResult()}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Summarize(ctx, SummaryRequest{ConversationText: "안녕하세요"})
	assert.True(t, errors.Is(err, context.Canceled))
}
