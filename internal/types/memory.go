package types

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// MemoryEntry is one long-term memory. Older documents stored memories as bare
// strings; those decode with Legacy set and encode back to a string.
type MemoryEntry struct {
	UserInput         string `bson:"user_input" json:"user_input"`
	MemoryDescription string `bson:"memory_description" json:"memory_description"`
	HitCount          int    `bson:"hit_count" json:"hit_count"`
	Legacy            bool   `bson:"-" json:"-"`
}

// memoryEntryFields has the same layout without the custom codecs.
type memoryEntryFields MemoryEntry

func legacyMemory(text string) MemoryEntry {
	return MemoryEntry{UserInput: text, MemoryDescription: text, Legacy: true}
}

// MatchText is the text compared against a query during retrieval.
func (m MemoryEntry) MatchText() string {
	return m.UserInput
}

func (m MemoryEntry) MarshalJSON() ([]byte, error) {
	if m.Legacy {
		return json.Marshal(m.MemoryDescription)
	}
	return json.Marshal(memoryEntryFields(m))
}

func (m *MemoryEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("failed to decode legacy memory: %w", err)
		}
		*m = legacyMemory(text)
		return nil
	}
	var fields memoryEntryFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to decode memory entry: %w", err)
	}
	*m = MemoryEntry(fields)
	return nil
}

func (m MemoryEntry) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if m.Legacy {
		return bson.MarshalValue(m.MemoryDescription)
	}
	return bson.MarshalValue(memoryEntryFields(m))
}

func (m *MemoryEntry) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.String {
		var text string
		if err := bson.UnmarshalValue(t, data, &text); err != nil {
			return fmt.Errorf("failed to decode legacy memory: %w", err)
		}
		*m = legacyMemory(text)
		return nil
	}
	var fields memoryEntryFields
	if err := bson.UnmarshalValue(t, data, &fields); err != nil {
		return fmt.Errorf("failed to decode memory entry: %w", err)
	}
	*m = MemoryEntry(fields)
	return nil
}

func mapString(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
