package summary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the keyword families the rule-based summarizer matches
// against. Keywords are matched as lowercase substrings, which also works
// for CJK text where word boundaries are not space-delimited.
type Lexicon struct {
	Topics   map[string][]string `yaml:"topics"`
	Emotions EmotionLexicon      `yaml:"emotions"`
	Needs    map[string][]string `yaml:"needs"`
}

type EmotionLexicon struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
	Neutral  []string `yaml:"neutral"`
}

// DefaultLexicon returns the built-in keyword families, covering English and
// Chinese terms for everyday conversation.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Topics: map[string][]string{
			"work": {
				"work", "job", "overtime", "coworker", "boss", "project", "deadline", "office",
				"工作", "加班", "同事", "老板", "项目", "任务", "职场",
			},
			"study": {
				"study", "exam", "homework", "class", "teacher", "school", "grades",
				"学习", "考试", "作业", "课程", "老师", "学校", "成绩",
			},
			"romance": {
				"crush", "love", "dating", "breakup", "single", "confess",
				"喜欢", "爱", "恋爱", "分手", "单身", "暗恋", "表白",
			},
			"family": {
				"family", "parents", "mom", "dad", "home",
				"家人", "父母", "妈妈", "爸爸", "回家",
			},
			"health": {
				"health", "sick", "hospital", "cold", "headache", "doctor",
				"健康", "生病", "医院", "感冒", "头痛", "身体",
			},
			"hobbies": {
				"hobby", "game", "movie", "music", "sports", "travel", "reading",
				"爱好", "游戏", "电影", "音乐", "运动", "旅游", "看书",
			},
			"daily life": {
				"dinner", "sleep", "shopping", "going out", "resting",
				"吃饭", "睡觉", "购物", "出门", "在家", "休息",
			},
		},
		Emotions: EmotionLexicon{
			Positive: []string{
				"happy", "glad", "great", "love", "awesome", "excited", "satisfied",
				"开心", "高兴", "快乐", "喜欢", "棒", "不错", "满意",
			},
			Negative: []string{
				"sad", "anxious", "stress", "tired", "annoyed", "lonely", "lost", "worried",
				"难过", "伤心", "焦虑", "压力", "累", "烦", "失落", "孤独", "迷茫", "担心",
			},
			Neutral: []string{
				"okay", "fine", "alright",
				"还好", "一般", "还行",
			},
		},
		Needs: map[string][]string{
			"venting": {
				"need to talk", "let me tell you", "listen to me",
				"想说", "想聊", "听我说", "告诉你",
			},
			"advice": {
				"what should i do", "advice", "opinion", "suggest",
				"怎么办", "建议", "意见", "看法",
			},
			"companionship": {
				"stay with me", "are you there", "keep me company",
				"陪我", "陪着", "在吗", "聊天",
			},
			"understanding": {
				"understand me", "you get me",
				"理解", "懂我", "明白",
			},
			"encouragement": {
				"encourage", "support", "cheer", "believe in me",
				"鼓励", "支持", "加油", "相信",
			},
		},
	}
}

// LoadLexicon reads a YAML lexicon from path. Missing families fall back to
// the defaults, so a file can override just one section.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	var loaded Lexicon
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}

	lex := DefaultLexicon()
	if len(loaded.Topics) > 0 {
		lex.Topics = loaded.Topics
	}
	if len(loaded.Emotions.Positive) > 0 || len(loaded.Emotions.Negative) > 0 || len(loaded.Emotions.Neutral) > 0 {
		lex.Emotions = loaded.Emotions
	}
	if len(loaded.Needs) > 0 {
		lex.Needs = loaded.Needs
	}
	return lex, nil
}
