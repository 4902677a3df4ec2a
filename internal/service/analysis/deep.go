package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	result "github.com/cheongchun/ai-core/internal/model/analysis"
	"github.com/cheongchun/ai-core/internal/model/profile"
)

const (
	maxPromptRunes = 2000

	defaultSessionTitle = "AI 대화"
	defaultAgeGroup     = "시니어"
)

const analysisSystemPrompt = "당신은 시니어 대화를 분석하는 전문가입니다. JSON 형식으로만 응답하세요."

const analysisInstructions = `다음 JSON 형식으로 분석 결과를 제공해주세요:
{
    "conversation_summary": "대화의 핵심 내용을 2-3문장으로 요약",
    "mood_analysis": "positive/neutral/concerned/sad 중 하나",
    "stress_level": 1-10 사이의 숫자,
    "key_insights": ["인사이트1", "인사이트2", "인사이트3"],
    "ai_recommendations": ["추천사항1", "추천사항2", "추천사항3"],
    "session_title": "이 대화의 제목을 10자 이내로"
}

응답은 반드시 유효한 JSON 형식이어야 합니다.`

var (
	summaryPattern = regexp.MustCompile(`"conversation_summary":\s*"([^"]+)"`)
	moodPattern    = regexp.MustCompile(`"mood_analysis":\s*"([^"]+)"`)
)

// deepResult is the model-stage contribution to an analysis.
type deepResult struct {
	Summary         string
	Mood            result.Mood
	StressLevel     int
	KeyInsights     []string
	Recommendations []string
	SessionTitle    string

	// Set only when the model volunteers keyword-stage fields.
	MainTopics        []string
	HealthMentions    []string
	ConcernsDiscussed []string
}

type analysisPayload struct {
	ConversationSummary string      `json:"conversation_summary"`
	MoodAnalysis        string      `json:"mood_analysis"`
	StressLevel         stressLevel `json:"stress_level"`
	KeyInsights         []string    `json:"key_insights"`
	AIRecommendations   []string    `json:"ai_recommendations"`
	SessionTitle        string      `json:"session_title"`
	MainTopics          []string    `json:"main_topics"`
	HealthMentions      []string    `json:"health_mentions"`
	ConcernsDiscussed   []string    `json:"concerns_discussed"`
}

// stressLevel accepts a JSON number or a numeric string.
type stressLevel int

func (s *stressLevel) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("stress_level %q is not a number", raw)
	}
	// bounded before the conversion; the 1-10 clamp happens later
	val = math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(val)))
	*s = stressLevel(int(val))
	return nil
}

func buildAnalysisPrompt(text string, p *profile.Profile) string {
	var b strings.Builder
	b.WriteString("다음은 시니어와 AI의 대화 내용입니다. 이 대화를 분석해주세요.\n\n")

	if p != nil {
		ageGroup := p.AgeGroup
		if ageGroup == "" {
			ageGroup = defaultAgeGroup
		}
		fmt.Fprintf(&b, "사용자 정보: 나이대 %s, 관심사: %s\n\n", ageGroup, strings.Join(p.Interests, ", "))
	}

	b.WriteString("대화 내용:\n")
	b.WriteString(truncateRunes(text, maxPromptRunes))
	b.WriteString("\n\n")
	b.WriteString(analysisInstructions)
	return b.String()
}

// parseAnalysisOutput decodes the JSON object in content and default-fills
// anything the model left out.
func parseAnalysisOutput(content string) (deepResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return deepResult{}, errors.New("missing json object")
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return deepResult{}, err
	}

	deep := deepResult{
		Summary:           payload.ConversationSummary,
		Mood:              normalizeMood(payload.MoodAnalysis),
		StressLevel:       int(payload.StressLevel),
		KeyInsights:       payload.KeyInsights,
		Recommendations:   payload.AIRecommendations,
		SessionTitle:      strings.TrimSpace(payload.SessionTitle),
		MainTopics:        payload.MainTopics,
		HealthMentions:    payload.HealthMentions,
		ConcernsDiscussed: payload.ConcernsDiscussed,
	}
	return fillPatternDefaults(deep), nil
}

// extractByPattern salvages the summary and mood from malformed output.
func extractByPattern(content string) deepResult {
	var deep deepResult
	if m := summaryPattern.FindStringSubmatch(content); m != nil {
		deep.Summary = m[1]
	}
	if m := moodPattern.FindStringSubmatch(content); m != nil {
		deep.Mood = normalizeMood(m[1])
	}
	return fillPatternDefaults(deep)
}

func normalizeMood(raw string) result.Mood {
	return result.ParseMood(strings.ToLower(strings.TrimSpace(raw)))
}

func fillPatternDefaults(deep deepResult) deepResult {
	if deep.Summary == "" {
		deep.Summary = "유익한 대화를 나누셨습니다."
	}
	deep.Mood = result.ParseMood(string(deep.Mood))
	if deep.StressLevel == 0 {
		deep.StressLevel = result.DefaultStress
	}
	deep.StressLevel = result.ClampStress(deep.StressLevel)
	if len(deep.KeyInsights) == 0 {
		deep.KeyInsights = []string{"AI와 좋은 대화 시간을 가지셨습니다."}
	}
	if len(deep.Recommendations) == 0 {
		deep.Recommendations = []string{"꾸준한 대화를 통해 건강한 일상을 유지하세요."}
	}
	if deep.SessionTitle == "" {
		deep.SessionTitle = defaultSessionTitle
	}
	return deep
}

func modelFailureDefaults() deepResult {
	return deepResult{
		Summary:         "대화 분석이 완료되었습니다.",
		Mood:            result.MoodNeutral,
		StressLevel:     result.DefaultStress,
		KeyInsights:     []string{"AI와 유익한 대화를 나누셨습니다."},
		Recommendations: []string{"건강한 생활습관을 유지하세요."},
		SessionTitle:    defaultSessionTitle,
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
