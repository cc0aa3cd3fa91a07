package assistant

import (
	"strings"

	"github.com/meaningfill/class-sub000/internal/knowledge"
	"github.com/meaningfill/class-sub000/internal/session"
)

// assembleContext 依次拼接人设、知识摘录、完整目录和最近的对话轮次。
func (a *Assistant) assembleContext(excerpts []knowledge.Match, history []session.Turn) string {
	sections := []string{a.persona}

	if len(excerpts) > 0 {
		var b strings.Builder
		b.WriteString("[참고 지식]")
		for _, match := range excerpts {
			b.WriteString("\nQ: ")
			b.WriteString(match.Record.Question)
			b.WriteString("\nA: ")
			b.WriteString(match.Record.Answer)
		}
		sections = append(sections, b.String())
	}

	if rendered := a.snapshot.Render(); rendered != "" {
		sections = append(sections, rendered)
	}

	if window := trailing(history, a.historyWindow); len(window) > 0 {
		var b strings.Builder
		b.WriteString("[대화 기록]")
		for _, turn := range window {
			b.WriteString("\n")
			b.WriteString(speaker(turn.Role))
			b.WriteString(": ")
			b.WriteString(turn.Content)
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

func trailing(history []session.Turn, n int) []session.Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func speaker(role session.Role) string {
	if role == session.RoleAssistant {
		return "상담원"
	}
	return "고객"
}
