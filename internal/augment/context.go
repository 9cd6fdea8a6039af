package augment

import (
	"fmt"
	"strings"
	"time"

	"github.com/easeaico/roza/internal/types"
)

const emptyContext = "暂无历史对话记录"

// ContextResult is the outcome of the context stage.
type ContextResult struct {
	Text  string
	Count int
	Main  string
}

// RecentHistory returns the last n entries, or none when n <= 0.
func RecentHistory(entries []types.HistoryEntry, n int) []types.HistoryEntry {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if n > len(entries) {
		n = len(entries)
	}
	return entries[len(entries)-n:]
}

// FormatHistory renders entries one per line as
// {2023年12月26日14时37分30秒:name说query；你对此的反应是response}.
func FormatHistory(entries []types.HistoryEntry, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		when := "未知时间"
		if !e.CreatedAt.IsZero() {
			t := e.CreatedAt.In(loc)
			when = fmt.Sprintf("%d年%d月%d日%d时%d分%d秒", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
		}
		name := e.UserName
		if name == "" {
			name = "对方"
		}
		lines = append(lines, fmt.Sprintf("{%s:%s说%s；你对此的反应是%s}", when, name, e.UserQuery, e.Response()))
	}
	return strings.Join(lines, "\n")
}

// ContextPrompt appends the last poolSize exchanges to main. With no history
// the prompt is returned unchanged.
func ContextPrompt(doc *types.UserDocument, poolSize int, loc *time.Location, main string) ContextResult {
	recent := RecentHistory(doc.HistoryEntries, poolSize)
	if len(recent) == 0 {
		return ContextResult{Text: emptyContext, Main: main}
	}
	text := FormatHistory(recent, loc)
	return ContextResult{
		Text:  text,
		Count: len(recent),
		Main:  fmt.Sprintf("%s\n历史对话上下文：\n%s\n", main, text),
	}
}
