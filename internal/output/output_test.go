package output

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/types"
)

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  你好  ", "你好"},
		{"think span", "<think>嗯\n想想</think>你好", "你好"},
		{"multiple spans", "<think>a</think>前<tool_call>{}</tool_call>后<think>b</think>", "前后"},
		{"dangling think", "正文</think>残留", "正文"},
		{"dangling tool call", "正文</tool_call>残留", "正文"},
		{"unclosed open tag kept", "<think>没有结束", "<think>没有结束"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkup(tt.in))
		})
	}
}

func TestStripMarkupIdempotent(t *testing.T) {
	once := StripMarkup("<think>x</think> 回复 ")
	assert.Equal(t, once, StripMarkup(once))
}

func TestCleanFallback(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	got := Clean("<think>only thoughts</think>", types.MessagePool{"走神了"}, rnd)
	assert.Equal(t, Cleaned{SystemOutput: "走神了", ReviewResult: ReviewPass}, got)

	got = Clean("", nil, rnd)
	assert.Equal(t, "", got.SystemOutput)
}

func TestCleanWarnMarker(t *testing.T) {
	got := Clean("[warn]<think>x</think>别这样", nil, nil)
	assert.Equal(t, ReviewWarn, got.ReviewResult)
	assert.Equal(t, "[warn]别这样", got.SystemOutput)
}

func TestValidateStructured(t *testing.T) {
	got := ValidateStructured(map[string]any{"output": map[string]any{
		"text":             "你好",
		"think_output":     "想了想",
		"image_info":       []any{"一只猫"},
		"timer":            float64(30),
		"scheduled_events": "提醒喝水",
	}})
	timer := 30.0
	want := Structured{
		Text:            "你好",
		ThinkOutput:     "想了想",
		ImageInfo:       []string{"一只猫"},
		Timer:           &timer,
		ScheduledEvents: "提醒喝水",
		IsValid:         true,
		Errors:          []FieldError{},
		Warnings:        []FieldWarning{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateStructuredMissingText(t *testing.T) {
	got := ValidateStructured(map[string]any{"output": map[string]any{
		"think_output": "t",
		"leap_events":  "稍后提醒",
	}})
	assert.False(t, got.IsValid)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "text", got.Errors[0].Field)
	assert.Equal(t, "", got.Text)
	assert.Equal(t, "t", got.ThinkOutput)
	assert.Equal(t, "稍后提醒", got.LeapEvents)
}

func TestValidateStructuredFromString(t *testing.T) {
	got := ValidateStructured(map[string]any{
		"output": `模型说: {":text": "嗨", "think_output": "", "mood": "good"} 结束`,
	})
	assert.True(t, got.IsValid)
	assert.Equal(t, "嗨", got.Text)
	assert.Equal(t, []FieldWarning{{Field: "mood", Message: "未知字段 'mood'"}}, got.Warnings)
}

func TestValidateStructuredExactKeyWins(t *testing.T) {
	got := ValidateStructured(map[string]any{"output": map[string]any{
		":text": "variant", "text": "exact", "think_output": "",
	}})
	assert.Equal(t, "exact", got.Text)
}

func TestValidateStructuredBadFields(t *testing.T) {
	got := ValidateStructured(map[string]any{"output": map[string]any{
		"text":         42.0,
		"think_output": "ok",
		"image_info":   []any{"a", 1.0},
		"timer":        -5.0,
	}})
	assert.False(t, got.IsValid)
	fields := make([]string, 0, len(got.Errors))
	for _, e := range got.Errors {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"text", "image_info", "timer"}, fields)
	assert.Equal(t, "期望类型为 string, 实际为 number", got.Errors[0].Message)
	assert.Equal(t, "image_info[1]必须是字符串类型, 实际为 number", got.Errors[1].Message)
	assert.Equal(t, "timer必须为非负数, 实际为 -5", got.Errors[2].Message)
	assert.Equal(t, "", got.Text)
	assert.Empty(t, got.ImageInfo)
	assert.Nil(t, got.Timer)
	assert.Equal(t, "ok", got.ThinkOutput)
}

func TestValidateStructuredNoOutput(t *testing.T) {
	for _, payload := range []map[string]any{
		{},
		{"output": "not json"},
		{"output": 12.0},
	} {
		got := ValidateStructured(payload)
		assert.False(t, got.IsValid)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, "output", got.Errors[0].Field)
	}
}
