package memory

import (
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// greetings are everyday pleasantries that never warrant a memory on their
// own. Matched as substrings against short messages only.
var greetings = []string{
	"hello", "hi", "bye", "thanks", "thank you",
	"good morning", "good night",
	"你好", "再见", "谢谢", "早上好", "晚上好", "早安", "晚安",
}

// categoryKeywords maps each event category to its trigger keywords for the
// rule classifier.
var categoryKeywords = map[string][]string{
	types.CategoryBirthday: {
		"birthday", "born",
		"生日", "出生",
	},
	types.CategoryPreference: {
		"favorite", "prefer", "i like", "i hate", "i love",
		"喜欢", "不喜欢", "爱好", "兴趣", "喜好",
	},
	types.CategoryGoal: {
		"goal", "plan", "i want to", "hoping to",
		"目标", "计划", "打算", "想要", "希望",
	},
	types.CategoryLifeEvent: {
		"graduated", "new job", "married", "moving", "moved", "diagnosed",
		"毕业", "结婚", "搬家", "生病", "恋爱",
	},
	types.CategoryEmotion: {
		"sad", "anxious", "stressed", "worried", "scared",
		"难过", "开心", "焦虑", "压力", "担心", "害怕",
	},
	types.CategoryRelationship: {
		"friend", "my parents", "my kids", "boyfriend", "girlfriend",
		"朋友", "家人", "父母", "孩子", "男朋友", "女朋友",
	},
}

// ruleOrder fixes the category evaluation order so a message matching two
// families always classifies the same way. More specific categories come
// first.
var ruleOrder = []string{
	types.CategoryBirthday,
	types.CategoryLifeEvent,
	types.CategoryGoal,
	types.CategoryPreference,
	types.CategoryRelationship,
	types.CategoryEmotion,
}

const (
	shortGreetingLimit = 20
	ruleSummaryLimit   = 100
)

// classifyWithRules is the deterministic classifier used when no model is
// available or its reply was unusable. Matches grade at medium importance;
// the summary is the leading slice of the user's own words.
func classifyWithRules(userText string) types.Classification {
	lower := strings.ToLower(userText)

	if len([]rune(userText)) < shortGreetingLimit && containsAny(lower, greetings) {
		return types.Classification{IsImportant: false}
	}

	for _, category := range ruleOrder {
		matched := matchingKeywords(lower, categoryKeywords[category])
		if len(matched) == 0 {
			continue
		}
		return types.Classification{
			IsImportant: true,
			Importance:  types.ImportanceMedium,
			Category:    category,
			Summary:     truncateRunes(userText, ruleSummaryLimit),
			Keywords:    matched,
		}
	}

	return types.Classification{IsImportant: false}
}

func containsAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

func matchingKeywords(content string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
