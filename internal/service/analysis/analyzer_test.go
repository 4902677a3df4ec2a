package analysis

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cheongchun/ai-core/internal/llmtest"
	result "github.com/cheongchun/ai-core/internal/model/analysis"
	"github.com/cheongchun/ai-core/internal/model/chat"
	"github.com/cheongchun/ai-core/internal/model/profile"
	"github.com/cheongchun/ai-core/internal/observability"
)

var conversation = []chat.Message{
	chat.UserMessage("요즘 무릎이 아파서 병원에 다녀왔어요"),
	chat.AssistantMessage("많이 불편하셨겠어요. 의사 선생님은 뭐라고 하셨나요?"),
	chat.UserMessage("손자가 걱정을 많이 해요"),
}

func newTestAnalyzer(t *testing.T, fake *llmtest.ChatModel) (*Analyzer, *observability.Metrics) {
	t.Helper()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var a *Analyzer
	var err error
	if fake == nil {
		a, err = NewAnalyzer(context.Background(), nil, Config{}, zap.NewNop(), metrics)
	} else {
		a, err = NewAnalyzer(context.Background(), fake, Config{}, zap.NewNop(), metrics)
	}
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a, metrics
}

func assertFullyPopulated(t *testing.T, r result.Result) {
	t.Helper()
	assert.NotNil(t, r.MainTopics)
	assert.NotNil(t, r.HealthMentions)
	assert.NotNil(t, r.ConcernsDiscussed)
	assert.NotEmpty(t, r.MoodAnalysis)
	assert.GreaterOrEqual(t, r.StressLevel, result.MinStress)
	assert.LessOrEqual(t, r.StressLevel, result.MaxStress)
	assert.NotEmpty(t, r.ConversationSummary)
	assert.NotEmpty(t, r.KeyInsights)
	assert.NotEmpty(t, r.AIRecommendations)
	assert.NotEmpty(t, r.SessionTitle)
	assert.False(t, r.AnalyzedAt.IsZero())
}

func TestAnalyzeMergesBothStages(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{
		"conversation_summary": "무릎 통증과 가족 이야기를 나눴습니다.",
		"mood_analysis": "concerned",
		"stress_level": 6,
		"key_insights": ["무릎 통증이 있습니다"],
		"ai_recommendations": ["가벼운 스트레칭을 해보세요"],
		"session_title": "무릎 건강"
	}`}
	a, metrics := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assert.Equal(t, []string{"건강", "가족"}, r.MainTopics)
	assert.Equal(t, []string{"병원", "무릎"}, r.HealthMentions)
	assert.Equal(t, []string{"걱정"}, r.ConcernsDiscussed)
	assert.Equal(t, "무릎 통증과 가족 이야기를 나눴습니다.", r.ConversationSummary)
	assert.Equal(t, result.MoodConcerned, r.MoodAnalysis)
	assert.Equal(t, 6, r.StressLevel)
	assert.Equal(t, "무릎 건강", r.SessionTitle)
	assert.Equal(t, 3, r.TotalMessages)
	assert.Equal(t, len([]rune(conversation[0].Content+" "+conversation[2].Content)), r.ConversationLength)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("model")), 0)
}

func TestAnalyzeAcceptsFencedJSON(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: "```json\n{\"conversation_summary\": \"요약\", \"mood_analysis\": \"positive\", \"stress_level\": \"3\"}\n```"}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assert.Equal(t, "요약", r.ConversationSummary)
	assert.Equal(t, result.MoodPositive, r.MoodAnalysis)
	assert.Equal(t, 3, r.StressLevel)
	assert.Equal(t, []string{"AI와 좋은 대화 시간을 가지셨습니다."}, r.KeyInsights)
	assert.Equal(t, "AI 대화", r.SessionTitle)
}

func TestAnalyzeMalformedOutputUsesPatternExtraction(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `결과: "conversation_summary": "산책 이야기를 나눴어요", "mood_analysis": "sad", 그리고 {깨진`}
	a, metrics := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assertFullyPopulated(t, r)
	assert.Equal(t, "산책 이야기를 나눴어요", r.ConversationSummary)
	assert.Equal(t, result.MoodSad, r.MoodAnalysis)
	assert.Equal(t, 5, r.StressLevel)
	assert.Equal(t, []string{"AI와 좋은 대화 시간을 가지셨습니다."}, r.KeyInsights)
	assert.Equal(t, []string{"꾸준한 대화를 통해 건강한 일상을 유지하세요."}, r.AIRecommendations)
	assert.Equal(t, "AI 대화", r.SessionTitle)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("pattern_fallback")), 0)
}

func TestAnalyzeUnparsableWithoutPatternsGetsDefaults(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: "분석할 수 없습니다"}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assertFullyPopulated(t, r)
	assert.Equal(t, "유익한 대화를 나누셨습니다.", r.ConversationSummary)
	assert.Equal(t, result.MoodNeutral, r.MoodAnalysis)
}

func TestAnalyzeModelFailureUsesFixedDefaults(t *testing.T) {
	fake := &llmtest.ChatModel{Err: errors.New("quota exceeded")}
	a, metrics := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assertFullyPopulated(t, r)
	assert.Equal(t, "대화 분석이 완료되었습니다.", r.ConversationSummary)
	assert.Equal(t, []string{"AI와 유익한 대화를 나누셨습니다."}, r.KeyInsights)
	assert.Equal(t, []string{"건강한 생활습관을 유지하세요."}, r.AIRecommendations)
	assert.Equal(t, []string{"건강", "가족"}, r.MainTopics)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("model_fallback")), 0)
}

func TestAnalyzeWithoutModel(t *testing.T) {
	a, _ := newTestAnalyzer(t, nil)

	r := a.Analyze(context.Background(), conversation, nil)

	assertFullyPopulated(t, r)
	assert.Equal(t, "대화 분석이 완료되었습니다.", r.ConversationSummary)
}

func TestAnalyzeNormalisesMoodAndStress(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{"mood_analysis": "ecstatic", "stress_level": 15}`}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assert.Equal(t, result.MoodNeutral, r.MoodAnalysis)
	assert.Equal(t, 10, r.StressLevel)
}

func TestAnalyzePatternFallbackNormalisesMood(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `"conversation_summary": "손자 이야기", "mood_analysis": " Positive ", {깨진`}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assert.Equal(t, result.MoodPositive, r.MoodAnalysis)
}

func TestStressLevelRejectsNonFinite(t *testing.T) {
	for _, raw := range []string{`"NaN"`, `"Inf"`, `"-Inf"`, `"+Inf"`} {
		var s stressLevel
		assert.Error(t, s.UnmarshalJSON([]byte(raw)), raw)
	}

	var s stressLevel
	require.NoError(t, s.UnmarshalJSON([]byte(`"6.5"`)))
	assert.Equal(t, stressLevel(7), s)
	require.NoError(t, s.UnmarshalJSON([]byte(`1e300`)))
	assert.Equal(t, stressLevel(math.MaxInt32), s)
}

func TestAnalyzeNonFiniteStressUsesPatternDefaults(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{"conversation_summary": "요약", "mood_analysis": "sad", "stress_level": "NaN"}`}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assertFullyPopulated(t, r)
	assert.Equal(t, result.DefaultStress, r.StressLevel)
	assert.Equal(t, result.MoodSad, r.MoodAnalysis)
}

func TestAnalyzeModelTopicsWinOnCollision(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{"main_topics": ["가족 건강"], "conversation_summary": "요약"}`}
	a, _ := newTestAnalyzer(t, fake)

	r := a.Analyze(context.Background(), conversation, nil)

	assert.Equal(t, []string{"가족 건강"}, r.MainTopics)
	assert.Equal(t, []string{"병원", "무릎"}, r.HealthMentions)
}

func TestAnalyzePromptCarriesProfileAndTruncatedText(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{}`}
	a, _ := newTestAnalyzer(t, fake)

	long := strings.Repeat("가", 2500)
	a.Analyze(context.Background(), []chat.Message{chat.UserMessage(long)}, &profile.Profile{Interests: []string{"바둑", "등산"}})

	input := fake.LastInput()
	require.Len(t, input, 2)
	assert.Equal(t, analysisSystemPrompt, input[0].Content)
	userPrompt := input[1].Content
	assert.Contains(t, userPrompt, "사용자 정보: 나이대 시니어, 관심사: 바둑, 등산")
	assert.Contains(t, userPrompt, strings.Repeat("가", 2000))
	assert.NotContains(t, userPrompt, strings.Repeat("가", 2001))
	assert.Contains(t, userPrompt, `"session_title"`)

	opts := fake.LastOptions()
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, 800, *opts.MaxTokens)
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.3, *opts.Temperature, 0.0001)
}

func TestAnalyzeHonoursZeroTemperature(t *testing.T) {
	fake := &llmtest.ChatModel{Reply: `{}`}
	zero := float32(0)
	a, err := NewAnalyzer(context.Background(), fake, Config{Temperature: &zero}, zap.NewNop(), nil)
	require.NoError(t, err)

	a.Analyze(context.Background(), conversation, nil)

	opts := fake.LastOptions()
	require.NotNil(t, opts.Temperature)
	assert.Zero(t, *opts.Temperature)
}

func TestMinimalFallback(t *testing.T) {
	a, _ := newTestAnalyzer(t, nil)

	r := a.minimalFallback(conversation)

	assertFullyPopulated(t, r)
	assert.Equal(t, []string{"일반대화"}, r.MainTopics)
	assert.Equal(t, "3개의 메시지로 AI와 대화를 나누셨습니다.", r.ConversationSummary)
	assert.Equal(t, "AI 채팅", r.SessionTitle)
	assert.Equal(t, 3, r.TotalMessages)
}

func TestGuardConvertsPanicToError(t *testing.T) {
	err := guard(func() { panic("boom") })()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.NoError(t, guard(func() {})())
}
