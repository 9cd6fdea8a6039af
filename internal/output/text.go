// Package output post-processes model responses: control markup is stripped
// from free text and structured payloads are validated field by field.
package output

import (
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/easeaico/roza/internal/types"
)

// Review results.
const (
	ReviewPass = "pass"
	ReviewWarn = "warn"
)

// WarnMarker in raw model text asks for moderation review.
const WarnMarker = "[warn]"

var (
	thinkSpan    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	toolCallSpan = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`)

	danglingClosers = []string{"</think>", "</tool_call>"}
)

// Cleaned is the user-facing text and its moderation verdict.
type Cleaned struct {
	SystemOutput string `json:"system_output"`
	ReviewResult string `json:"review_result"`
}

// Clean removes <think> and <tool_call> spans from raw. An unmatched closing
// tag truncates the text there. Empty results are replaced by a reply from
// fallback.
func Clean(raw string, fallback types.MessagePool, rnd *rand.Rand) Cleaned {
	out := Cleaned{SystemOutput: StripMarkup(raw), ReviewResult: ReviewPass}
	if out.SystemOutput == "" {
		out.SystemOutput = fallback.Pick(rnd, "")
	}
	if strings.Contains(raw, WarnMarker) {
		out.ReviewResult = ReviewWarn
	}
	return out
}

// StripMarkup is Clean without the fallback.
func StripMarkup(text string) string {
	text = thinkSpan.ReplaceAllString(text, "")
	text = toolCallSpan.ReplaceAllString(text, "")
	for _, closer := range danglingClosers {
		if i := strings.Index(text, closer); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
