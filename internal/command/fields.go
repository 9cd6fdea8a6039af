package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/easeaico/roza/internal/types"
)

// Data types addressable by commands.
const (
	TypeFavor     = "favor"
	TypeUsage     = "usage"
	TypeMemory    = "memory"
	TypeContext   = "context"
	TypePersona   = "persona"
	TypeBlacklist = "blacklist"
)

type valueKind int

const (
	kindInt valueKind = iota
	kindBool
	kindString
	kindTime
	kindContainer
)

type fieldSpec struct {
	path  string
	kind  valueKind
	reset func(now time.Time) any
}

func (f fieldSpec) leaf() string {
	return leaf(f.path)
}

type typeSpec struct {
	fields     []fieldSpec
	rankFields []string
	// clear is the type-level reset; nil means the type has its own clear.
	clear      func(now time.Time) map[string]any
	crossGroup func(types.CrossGroupFlags) bool
}

func zeroInt(time.Time) any { return 0 }

func emptyString(time.Time) any { return "" }

func stamp(now time.Time) any { return now }

func intField(path string) fieldSpec {
	return fieldSpec{path: path, kind: kindInt, reset: zeroInt}
}

func stringField(path string) fieldSpec {
	return fieldSpec{path: path, kind: kindString, reset: emptyString}
}

func defaultBlockStats(now time.Time) any {
	return types.BlockStats{BlockStatus: true, LastOperateTime: now}
}

var typeSpecs = map[string]typeSpec{
	TypeFavor: {
		fields:     []fieldSpec{intField("favor_value"), intField("last_favor_change")},
		rankFields: []string{"favor_value", "last_favor_change"},
		clear: func(time.Time) map[string]any {
			return map[string]any{"favor_value": 0, "last_favor_change": 0}
		},
		crossGroup: func(f types.CrossGroupFlags) bool { return f.Favor },
	},
	TypeUsage: {
		fields: []fieldSpec{
			intField("daily_usage_count"),
			{path: "total_usage", kind: kindContainer, reset: func(time.Time) any { return types.TotalUsage{} }},
			intField("total_usage.total_chat_count"),
			intField("total_usage.total_tokens"),
			intField("total_usage.total_prompt_token"),
			intField("total_usage.total_output_token"),
		},
		rankFields: []string{
			"daily_usage_count",
			"total_usage.total_chat_count",
			"total_usage.total_tokens",
			"total_usage.total_prompt_token",
			"total_usage.total_output_token",
		},
		// Totals are only reset through an explicit field.
		clear: func(time.Time) map[string]any {
			return map[string]any{"daily_usage_count": 0}
		},
		crossGroup: func(f types.CrossGroupFlags) bool { return f.UsageLimit },
	},
	TypeMemory: {
		fields: []fieldSpec{
			{path: "long_term_memory", kind: kindContainer, reset: func(time.Time) any { return []types.MemoryEntry{} }},
		},
		rankFields: []string{"long_term_memory", "history_entries"},
		clear: func(time.Time) map[string]any {
			return map[string]any{"long_term_memory": []types.MemoryEntry{}}
		},
		crossGroup: func(types.CrossGroupFlags) bool { return false },
	},
	TypeContext: {
		fields: []fieldSpec{
			{path: "history_entries", kind: kindContainer, reset: func(time.Time) any { return []types.HistoryEntry{} }},
			intField("history_stats.total_histories"),
		},
		rankFields: []string{"history_entries"},
		crossGroup: func(types.CrossGroupFlags) bool { return false },
	},
	TypePersona: {
		fields: []fieldSpec{
			{path: "persona_attributes", kind: kindContainer, reset: func(time.Time) any { return types.PersonaAttributes{} }},
			stringField("persona_attributes.basic_info"),
			stringField("persona_attributes.living_habits"),
			stringField("persona_attributes.psychological_traits"),
			stringField("persona_attributes.interests_preferences"),
			stringField("persona_attributes.dislikes"),
			stringField("persona_attributes.ai_expectations"),
			stringField("persona_attributes.memory_points"),
		},
		clear: func(time.Time) map[string]any {
			return map[string]any{"persona_attributes": types.PersonaAttributes{}}
		},
		crossGroup: func(f types.CrossGroupFlags) bool { return f.Persona },
	},
	TypeBlacklist: {
		fields: []fieldSpec{
			{path: "block_stats", kind: kindContainer, reset: defaultBlockStats},
			{path: "block_stats.block_status", kind: kindBool, reset: func(time.Time) any { return true }},
			intField("block_stats.block_count"),
			{path: "block_stats.last_operate_time", kind: kindTime, reset: stamp},
		},
		rankFields: []string{"block_stats.block_count"},
		clear: func(now time.Time) map[string]any {
			return map[string]any{"block_stats": defaultBlockStats(now)}
		},
		crossGroup: func(f types.CrossGroupFlags) bool { return f.Blacklist },
	},
}

// rankTypes lists the rankable types in help order.
var rankTypes = []string{TypeFavor, TypeUsage, TypeMemory, TypeContext, TypeBlacklist}

func leaf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// resolvePath matches field against candidates exactly, then by leaf name.
func resolvePath(candidates []string, field string) (string, bool) {
	if field == "" {
		return "", false
	}
	for _, c := range candidates {
		if c == field {
			return c, true
		}
	}
	want := leaf(field)
	for _, c := range candidates {
		if leaf(c) == want {
			return c, true
		}
	}
	return "", false
}

func (t typeSpec) field(name string) (fieldSpec, bool) {
	paths := make([]string, len(t.fields))
	for i, f := range t.fields {
		paths[i] = f.path
	}
	path, ok := resolvePath(paths, name)
	if !ok {
		return fieldSpec{}, false
	}
	for _, f := range t.fields {
		if f.path == path {
			return f, true
		}
	}
	return fieldSpec{}, false
}

func (t typeSpec) rankField(name string) (string, bool) {
	return resolvePath(t.rankFields, name)
}

// coerce converts a raw parameter to the field's stored type.
func (f fieldSpec) coerce(raw string) (any, error) {
	switch f.kind {
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s必须是整数，得到: %s", f.leaf(), raw)
		}
		return n, nil
	case kindBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%s必须是布尔值", f.leaf())
	case kindTime:
		raw = strings.TrimSpace(raw)
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		if sec, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Unix(0, int64(sec*float64(time.Second))), nil
		}
		return nil, fmt.Errorf("%s必须是时间，得到: %s", f.leaf(), raw)
	case kindContainer:
		return nil, errPreciseField
	}
	return raw, nil
}
