// Package keyword implements the offline stage of conversation analysis: a
// substring scan of the user's words against fixed Korean keyword sets.
package keyword

import (
	"strings"

	"github.com/cheongchun/ai-core/internal/model/chat"
)

// Category is a topic bucket recognised by the scanner.
type Category string

const (
	Health     Category = "health"
	Family     Category = "family"
	Hobby      Category = "hobby"
	Technology Category = "technology"
)

// categoryOrder fixes the order topics are reported in.
var categoryOrder = []Category{Health, Family, Hobby, Technology}

// topicLabels are the user-facing topic names stored with a conversation.
var topicLabels = map[Category]string{
	Health:     "건강",
	Family:     "가족",
	Hobby:      "취미",
	Technology: "기술",
}

var keywordBuckets = map[Category][]string{
	Health: {
		"건강", "혈압", "당뇨", "콜레스테롤", "운동", "다이어트", "약물", "병원", "의사",
		"검진", "아픈", "통증", "두통", "허리", "무릎", "관절", "소화", "식이요법",
		"영양", "비타민", "수면", "잠", "피로", "스트레스", "우울", "불안",
	},
	Family: {
		"가족", "자녀", "손자", "손녀", "배우자", "남편", "아내", "딸", "아들",
		"며느리", "사위", "친구", "이웃", "외로움", "그리움", "만남",
	},
	Hobby: {
		"취미", "독서", "산책", "등산", "요리", "원예", "화초", "텃밭", "여행",
		"드라마", "영화", "음악", "노래", "춤", "바둑", "장기", "카드게임",
	},
	Technology: {
		"스마트폰", "컴퓨터", "인터넷", "카카오톡", "문자", "전화", "앱", "유튜브",
		"온라인", "배송", "온라인쇼핑", "인터넷뱅킹", "키오스크",
	},
}

var concernKeywords = []string{"걱정", "불안", "외로운", "힘들다", "아프다", "우울", "스트레스"}

// Result is the keyword-stage contribution to an analysis.
type Result struct {
	MainTopics         []string
	HealthMentions     []string
	ConcernsDiscussed  []string
	DetectedCategories map[string][]string
}

// Scan matches text against every keyword set. It is pure: the same text
// always yields the same result. Slices are never nil.
func Scan(text string) Result {
	result := Result{
		MainTopics:         []string{},
		HealthMentions:     []string{},
		ConcernsDiscussed:  []string{},
		DetectedCategories: map[string][]string{},
	}

	for _, category := range categoryOrder {
		matched := matchAll(text, keywordBuckets[category])
		if len(matched) == 0 {
			continue
		}

		result.DetectedCategories[string(category)] = matched
		result.MainTopics = append(result.MainTopics, topicLabels[category])
		if category == Health {
			result.HealthMentions = append(result.HealthMentions, matched...)
		}
	}

	result.ConcernsDiscussed = append(result.ConcernsDiscussed, matchAll(text, concernKeywords)...)
	return result
}

// UserText joins the content of every user message with a single space.
// Assistant and system turns are ignored.
func UserText(messages []chat.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, " ")
}

func matchAll(text string, keywords []string) []string {
	var matched []string
	for _, word := range keywords {
		if strings.Contains(text, word) {
			matched = append(matched, word)
		}
	}
	return matched
}
