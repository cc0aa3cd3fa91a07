package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"
)

// Record 是一条只读的问答知识。
type Record struct {
	ID       string `json:"id,omitempty" yaml:"id"`
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Store 定义知识库检索接口：任一关键词作为子串出现在问题或答案中即命中，最多返回 limit 条。
type Store interface {
	Search(ctx context.Context, keywords []string, limit int) ([]Record, error)
}

// Match 是带得分的检索结果。
type Match struct {
	Record Record
	Score  int
}

// Keywords 按空白切分文本，丢弃长度不超过 1 个字符的词。重复词保留，重排时按出现次数累计得分。
func Keywords(text string) []string {
	fields := strings.Fields(text)
	keywords := make([]string, 0, len(fields))
	for _, field := range fields {
		if utf8.RuneCountInString(field) <= 1 {
			continue
		}
		keywords = append(keywords, field)
	}
	return keywords
}

// Score 计算关键词重叠分：问题中出现 +2，答案中出现 +1，不区分大小写。
func Score(record Record, keywords []string) int {
	question := strings.ToLower(record.Question)
	answer := strings.ToLower(record.Answer)
	score := 0
	for _, keyword := range keywords {
		k := strings.ToLower(keyword)
		if k == "" {
			continue
		}
		if strings.Contains(question, k) {
			score += 2
		}
		if strings.Contains(answer, k) {
			score++
		}
	}
	return score
}

// Rank 按得分降序排列候选，同分保持原顺序，返回前 top 条。
func Rank(records []Record, keywords []string, top int) []Match {
	matches := make([]Match, len(records))
	for i, record := range records {
		matches[i] = Match{Record: record, Score: Score(record, keywords)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if top > 0 && len(matches) > top {
		matches = matches[:top]
	}
	return matches
}

// Matches 判断记录是否命中任一关键词，供各存储实现复用。
func Matches(record Record, keywords []string) bool {
	question := strings.ToLower(record.Question)
	answer := strings.ToLower(record.Answer)
	for _, keyword := range keywords {
		k := strings.ToLower(strings.TrimSpace(keyword))
		if k == "" {
			continue
		}
		if strings.Contains(question, k) || strings.Contains(answer, k) {
			return true
		}
	}
	return false
}
