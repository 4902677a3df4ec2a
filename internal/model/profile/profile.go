package profile

// Conversation styles understood by the personalizer. Anything other than
// StyleCasual is treated as formal.
const (
	StyleFormal = "formal"
	StyleCasual = "casual"
)

// AgeGroupOldest triggers the slower, simpler explanation instructions.
const AgeGroupOldest = "75+"

// Profile is the sparse per-user record served by the profile backend.
// Every field may be absent.
type Profile struct {
	UserID             *int64         `json:"userId,omitempty"`
	Name               string         `json:"name,omitempty"`
	AgeGroup           string         `json:"ageGroup,omitempty"`
	HealthProfile      *HealthProfile `json:"healthProfile,omitempty"`
	Interests          []string       `json:"interests,omitempty"`
	ConversationStyle  string         `json:"conversationStyle,omitempty"`
	TotalConversations *int           `json:"totalConversations,omitempty"`
	LastSummary        string         `json:"lastSummary,omitempty"`
}

// HealthProfile holds the health section of a profile.
type HealthProfile struct {
	Concerns []string `json:"concerns,omitempty"`
}

// HealthConcerns returns the concerns list, nil when no health profile exists.
func (p *Profile) HealthConcerns() []string {
	if p == nil || p.HealthProfile == nil {
		return nil
	}
	return p.HealthProfile.Concerns
}

// Insights is the aggregate behaviour summary computed by the backend.
type Insights struct {
	UserID                       *int64   `json:"userId,omitempty"`
	TotalConversations           *int     `json:"totalConversations,omitempty"`
	TopInterests                 []string `json:"topInterests,omitempty"`
	FrequentHealthTopics         []string `json:"frequentHealthTopics,omitempty"`
	RecentConcerns               []string `json:"recentConcerns,omitempty"`
	OverallMoodTrend             string   `json:"overallMoodTrend,omitempty"`
	AverageStressLevel           *float64 `json:"averageStressLevel,omitempty"`
	RecommendedConversationStyle string   `json:"recommendedConversationStyle,omitempty"`
	LastSummary                  string   `json:"lastSummary,omitempty"`
}
