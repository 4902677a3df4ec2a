package analysis

import "time"

// Mood is the coarse emotional reading of a conversation.
type Mood string

const (
	MoodPositive  Mood = "positive"
	MoodNeutral   Mood = "neutral"
	MoodConcerned Mood = "concerned"
	MoodSad       Mood = "sad"
)

// ParseMood maps free text onto a known mood, falling back to neutral.
func ParseMood(raw string) Mood {
	switch m := Mood(raw); m {
	case MoodPositive, MoodNeutral, MoodConcerned, MoodSad:
		return m
	default:
		return MoodNeutral
	}
}

// Stress bounds.
const (
	MinStress     = 1
	MaxStress     = 10
	DefaultStress = 5
)

// ClampStress keeps a stress level inside [MinStress, MaxStress].
func ClampStress(level int) int {
	if level < MinStress {
		return MinStress
	}
	if level > MaxStress {
		return MaxStress
	}
	return level
}

// Result is the merged output of the keyword and deep analysis stages.
// All fields are populated, even on the fallback paths.
type Result struct {
	MainTopics          []string            `json:"main_topics"`
	HealthMentions      []string            `json:"health_mentions"`
	ConcernsDiscussed   []string            `json:"concerns_discussed"`
	DetectedCategories  map[string][]string `json:"detected_categories"`
	MoodAnalysis        Mood                `json:"mood_analysis"`
	StressLevel         int                 `json:"stress_level"`
	ConversationSummary string              `json:"conversation_summary"`
	KeyInsights         []string            `json:"key_insights"`
	AIRecommendations   []string            `json:"ai_recommendations"`
	SessionTitle        string              `json:"session_title"`
	AnalyzedAt          time.Time           `json:"analyzed_at"`
	TotalMessages       int                 `json:"total_messages"`
	ConversationLength  int                 `json:"conversation_length"`
}
