package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/easeaico/roza/internal/utils"
)

// Structured is the flattened, well-typed view of a structured model reply.
// Fields that fail validation hold their empty value and are listed in Errors.
type Structured struct {
	Text            string         `json:"text"`
	ThinkOutput     string         `json:"think_output"`
	ImageInfo       []string       `json:"image_info"`
	Timer           *float64       `json:"timer"`
	ScheduledEvents string         `json:"scheduled_events"`
	LeapEvents      string         `json:"leap_events"`
	IsValid         bool           `json:"is_valid"`
	Errors          []FieldError   `json:"validation_errors"`
	Warnings        []FieldWarning `json:"validation_warnings"`
}

// FieldError describes a field that was missing or malformed.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// FieldWarning flags a key that is not part of the schema.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type fieldDef struct {
	name     string
	required bool
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

var zero = 0.0

// fields is ordered so that key normalization is deterministic.
var fields = mustResolve([]*fieldDef{
	{name: "text", required: true, schema: &jsonschema.Schema{Type: "string"}},
	{name: "think_output", required: true, schema: &jsonschema.Schema{Type: "string"}},
	{name: "image_info", schema: &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}},
	{name: "timer", schema: &jsonschema.Schema{Type: "number", Minimum: &zero}},
	{name: "scheduled_events", schema: &jsonschema.Schema{Type: "string"}},
	{name: "leap_events", schema: &jsonschema.Schema{Type: "string"}},
})

func mustResolve(defs []*fieldDef) []*fieldDef {
	for _, d := range defs {
		rs, err := d.schema.Resolve(nil)
		if err != nil {
			panic(fmt.Sprintf("output: invalid schema for %s: %v", d.name, err))
		}
		d.resolved = rs
	}
	return defs
}

func knownField(key string) bool {
	for _, f := range fields {
		if f.name == key {
			return true
		}
	}
	return false
}

// ValidateStructured validates payload["output"], which may be an object or
// a JSON string holding one.
func ValidateStructured(payload map[string]any) Structured {
	out := Structured{ImageInfo: []string{}, IsValid: true, Errors: []FieldError{}, Warnings: []FieldWarning{}}

	data, ok := extract(payload["output"])
	if !ok {
		out.addError("output", "输入格式错误,无法找到 output 字段", nil)
		return out
	}

	for _, f := range fields {
		value, present := data[f.name]
		if !present || value == nil {
			if f.required {
				out.addError(f.name, fmt.Sprintf("必填字段 '%s' 缺失", f.name), nil)
			}
			continue
		}
		if err := f.resolved.Validate(value); err != nil {
			out.addError(f.name, describe(f.name, value), value)
			continue
		}
		out.assign(f.name, value)
	}

	unknown := make([]string, 0)
	for key := range data {
		if !knownField(key) {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		out.Warnings = append(out.Warnings, FieldWarning{Field: key, Message: fmt.Sprintf("未知字段 '%s'", key)})
	}
	return out
}

func (s *Structured) addError(field, msg string, value any) {
	s.IsValid = false
	s.Errors = append(s.Errors, FieldError{Field: field, Message: msg, Value: value})
}

func (s *Structured) assign(field string, value any) {
	switch field {
	case "text":
		s.Text = value.(string)
	case "think_output":
		s.ThinkOutput = value.(string)
	case "image_info":
		switch items := value.(type) {
		case []string:
			s.ImageInfo = append(s.ImageInfo, items...)
		case []any:
			for _, item := range items {
				s.ImageInfo = append(s.ImageInfo, item.(string))
			}
		}
	case "timer":
		n, _ := utils.Number(value)
		s.Timer = &n
	case "scheduled_events":
		s.ScheduledEvents = value.(string)
	case "leap_events":
		s.LeapEvents = value.(string)
	}
}

// extract returns the output object with normalized keys. Strings are
// parsed as JSON, falling back to the outermost braces when the model
// wrapped the object in prose.
func extract(raw any) (map[string]any, bool) {
	var obj map[string]any
	switch v := raw.(type) {
	case map[string]any:
		obj = v
	case string:
		parsed, err := parseObject(v)
		if err != nil {
			return nil, false
		}
		obj = parsed
	default:
		return nil, false
	}
	return normalizeKeys(obj), true
}

func parseObject(s string) (map[string]any, error) {
	clean := strings.TrimSpace(s)
	var obj map[string]any
	if err := json.Unmarshal([]byte(clean), &obj); err == nil && obj != nil {
		return obj, nil
	}
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("failed to parse structured output: no object found")
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse structured output: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("failed to parse structured output: null object")
	}
	return obj, nil
}

// normalizeKeys maps variants such as ":text" onto the field they contain.
// An exact key always wins over a variant.
func normalizeKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if knownField(k) {
			out[k] = obj[k]
			continue
		}
		name := k
		for _, f := range fields {
			if strings.Contains(k, f.name) {
				name = f.name
				break
			}
		}
		if _, exact := obj[name]; exact && name != k {
			continue
		}
		if _, taken := out[name]; !taken {
			out[name] = obj[k]
		}
	}
	return out
}

func describe(field string, value any) string {
	switch field {
	case "timer":
		if _, isBool := value.(bool); isBool {
			return fmt.Sprintf("timer必须是数字类型, 实际为 %s", jsonType(value))
		}
		if n, ok := utils.Number(value); ok {
			return fmt.Sprintf("timer必须为非负数, 实际为 %v", n)
		}
		return fmt.Sprintf("timer必须是数字类型, 实际为 %s", jsonType(value))
	case "image_info":
		items, ok := value.([]any)
		if !ok {
			return fmt.Sprintf("image_info必须是数组类型, 实际为 %s", jsonType(value))
		}
		for i, item := range items {
			if _, ok := item.(string); !ok {
				return fmt.Sprintf("image_info[%d]必须是字符串类型, 实际为 %s", i, jsonType(item))
			}
		}
	}
	return fmt.Sprintf("期望类型为 string, 实际为 %s", jsonType(value))
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
