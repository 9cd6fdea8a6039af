package types

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"gopkg.in/yaml.v3"
)

// Flag is a switch stored as "enable"/"disable", a bool or 0/1. Anything else is off.
type Flag bool

// ParseFlag normalizes a raw configuration value.
func ParseFlag(v any) Flag {
	switch val := v.(type) {
	case Flag:
		return val
	case bool:
		return Flag(val)
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "enable", "enabled", "true", "1", "on", "yes":
			return true
		}
		return false
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	}
	return false
}

// Enabled is a readable alias for the bool value.
func (f Flag) Enabled() bool {
	return bool(f)
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode flag: %w", err)
	}
	*f = ParseFlag(raw)
	return nil
}

func (f Flag) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(bool(f))
}

func (f *Flag) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw, err := decodeBSONScalar(t, data)
	if err != nil {
		return err
	}
	*f = ParseFlag(raw)
	return nil
}

func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode flag: %w", err)
	}
	*f = ParseFlag(raw)
	return nil
}

// Param is a numeric configuration value that may be stored as a string.
type Param string

// Int converts the parameter, returning def when it is blank or malformed.
func (p Param) Int(def int) int {
	return SafeInt(string(p), def)
}

// SafeInt parses s as an integer, accepting float notation, and falls back to def.
func SafeInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return def
}

func paramFrom(v any) Param {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return Param(val)
	case float64:
		return Param(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		if val {
			return "1"
		}
		return "0"
	}
	return Param(fmt.Sprint(v))
}

func (p *Param) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode parameter: %w", err)
	}
	*p = paramFrom(raw)
	return nil
}

func (p *Param) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw, err := decodeBSONScalar(t, data)
	if err != nil {
		return err
	}
	*p = paramFrom(raw)
	return nil
}

func (p *Param) UnmarshalYAML(node *yaml.Node) error {
	*p = Param(node.Value)
	return nil
}

// MessagePool is a configured reply that may be a single string or a list to pick from.
type MessagePool []string

// Pick returns a random non-empty entry, or fallback if the pool has none.
func (p MessagePool) Pick(rnd *rand.Rand, fallback string) string {
	candidates := make([]string, 0, len(p))
	for _, msg := range p {
		if strings.TrimSpace(msg) != "" {
			candidates = append(candidates, msg)
		}
	}
	switch len(candidates) {
	case 0:
		return fallback
	case 1:
		return candidates[0]
	}
	if rnd == nil {
		return candidates[rand.IntN(len(candidates))]
	}
	return candidates[rnd.IntN(len(candidates))]
}

// First returns the first entry or "".
func (p MessagePool) First() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Contains reports whether s equals any entry.
func (p MessagePool) Contains(s string) bool {
	for _, msg := range p {
		if msg == s {
			return true
		}
	}
	return false
}

func poolFrom(v any) MessagePool {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return MessagePool{val}
	case []any:
		pool := make(MessagePool, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			pool = append(pool, fmt.Sprint(item))
		}
		return pool
	case bson.A:
		return poolFrom([]any(val))
	}
	return MessagePool{fmt.Sprint(v)}
}

func (p MessagePool) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(p))
}

func (p *MessagePool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode message pool: %w", err)
	}
	*p = poolFrom(raw)
	return nil
}

func (p MessagePool) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if p == nil {
		return bson.MarshalValue(bson.A{})
	}
	return bson.MarshalValue([]string(p))
}

func (p *MessagePool) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Array:
		var items []any
		if err := bson.UnmarshalValue(t, data, &items); err != nil {
			return fmt.Errorf("failed to decode message pool: %w", err)
		}
		*p = poolFrom(items)
		return nil
	}
	raw, err := decodeBSONScalar(t, data)
	if err != nil {
		return err
	}
	*p = poolFrom(raw)
	return nil
}

func (p *MessagePool) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode message pool: %w", err)
	}
	*p = poolFrom(raw)
	return nil
}

func decodeBSONScalar(t bsontype.Type, data []byte) (any, error) {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		return nil, nil
	case bsontype.String:
		var s string
		if err := bson.UnmarshalValue(t, data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode string value: %w", err)
		}
		return s, nil
	case bsontype.Boolean:
		var b bool
		if err := bson.UnmarshalValue(t, data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bool value: %w", err)
		}
		return b, nil
	case bsontype.Int32, bsontype.Int64, bsontype.Double:
		var f float64
		if err := bson.UnmarshalValue(t, data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode numeric value: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported bson type %s", t)
}
