// Package personalize turns a user's profile or behaviour insights into the
// system prompt handed to the chat model.
package personalize

import (
	"strings"

	"github.com/cheongchun/ai-core/internal/model/profile"
)

const (
	profileHeader  = "\n\n=== 사용자 맞춤 정보 ===\n"
	insightsHeader = "\n\n=== 사용자 패턴 분석 ===\n"

	topInsightItems = 3

	highStress = 7
	lowStress  = 3
)

// Build appends personalization context to basePrompt. A profile takes
// precedence over insights; the two blocks are never combined. With neither,
// basePrompt is returned unchanged.
func Build(basePrompt string, p *profile.Profile, insights *profile.Insights) string {
	switch {
	case p != nil:
		return basePrompt + profileContext(p)
	case insights != nil:
		return basePrompt + insightsContext(insights)
	default:
		return basePrompt
	}
}

func profileContext(p *profile.Profile) string {
	var b strings.Builder
	b.WriteString(profileHeader)

	if p.AgeGroup != "" {
		b.WriteString("사용자 나이대: " + p.AgeGroup + "\n")
		if strings.Contains(p.AgeGroup, profile.AgeGroupOldest) {
			b.WriteString("- 더욱 천천히, 자세히 설명해주세요\n")
			b.WriteString("- 기술적 용어는 특히 쉽게 풀어서 설명해주세요\n")
		}
	}

	if concerns := p.HealthConcerns(); len(concerns) > 0 {
		b.WriteString("- 주요 건강 관심사: " + strings.Join(concerns, ", ") + "\n")
	}

	if len(p.Interests) > 0 {
		b.WriteString("- 관심 분야: " + strings.Join(p.Interests, ", ") + "\n")
		b.WriteString("- 이러한 관심사와 연관된 대화를 선호하실 수 있습니다\n")
	}

	if p.ConversationStyle == profile.StyleCasual {
		b.WriteString("- 좀 더 편안하고 친근한 대화를 선호합니다\n")
	} else {
		b.WriteString("- 정중하고 공손한 대화를 선호합니다\n")
	}

	if p.LastSummary != "" {
		b.WriteString("- 최근 대화 요약: " + p.LastSummary + "\n")
	}

	return b.String()
}

func insightsContext(in *profile.Insights) string {
	var b strings.Builder
	b.WriteString(insightsHeader)

	if len(in.TopInterests) > 0 {
		b.WriteString("자주 대화하는 주제: " + strings.Join(head(in.TopInterests, topInsightItems), ", ") + "\n")
	}

	if len(in.FrequentHealthTopics) > 0 {
		b.WriteString("건강 관련 주요 관심사: " + strings.Join(head(in.FrequentHealthTopics, topInsightItems), ", ") + "\n")
	}

	// 값이 없으면 중간값 5로 본다.
	stress := 5.0
	if in.AverageStressLevel != nil {
		stress = *in.AverageStressLevel
	}
	switch {
	case stress >= highStress:
		b.WriteString("- 최근 스트레스 수준이 높으니 더욱 위로하는 톤으로 대화해주세요\n")
	case stress <= lowStress:
		b.WriteString("- 평온한 상태이니 편안한 대화를 이어가주세요\n")
	}

	if in.RecommendedConversationStyle != "" {
		b.WriteString("- 추천 대화 방식: " + in.RecommendedConversationStyle + "\n")
	}

	return b.String()
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
