package augment

import (
	"fmt"
	"strings"

	"github.com/easeaico/roza/internal/types"
)

const emptyPersona = "暂无用户画像信息"

// PersonaText renders the non-empty persona fields in a fixed order.
func PersonaText(p types.PersonaAttributes) string {
	fields := []struct {
		label string
		value string
	}{
		{"基本信息", p.BasicInfo},
		{"生活习惯", p.LivingHabits},
		{"心理特征", p.PsychologicalTraits},
		{"兴趣偏好", p.InterestsPreferences},
		{"反感点", p.Dislikes},
		{"对AI的期望", p.AIExpectations},
		{"希望记住的信息", p.MemoryPoints},
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.value != "" {
			parts = append(parts, f.label+": "+f.value)
		}
	}
	if len(parts) == 0 {
		return emptyPersona
	}
	return strings.Join(parts, "；")
}

// PersonaResult is the outcome of the persona stage.
type PersonaResult struct {
	Text string
	Main string
}

// PersonaPrompt appends the user's profile to main.
func PersonaPrompt(doc *types.UserDocument, main string) PersonaResult {
	text := PersonaText(doc.PersonaAttributes)
	return PersonaResult{Text: text, Main: fmt.Sprintf("%s\n用户画像：%s\n", main, text)}
}
