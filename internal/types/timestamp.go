package types

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// timestampLayouts are tried in order. Layouts without a zone read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// ParseTimestamp reads the string forms older writers stored: RFC3339 and
// zone-less ISO-8601 such as "2024-06-01T12:00:00.123456". Empty is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

var (
	documentTimeFields = []string{"created_at", "updated_at"}
	blockTimeFields    = []string{"last_operate_time"}
	historyTimeFields  = []string{"created_at"}
)

// normalizeBSONTimes rewrites string values under keys as BSON datetimes.
func normalizeBSONTimes(data []byte, keys []string) ([]byte, error) {
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc := make(bson.D, 0, len(elems))
	changed := false
	for _, e := range elems {
		key, v := e.Key(), e.Value()
		if v.Type == bsontype.String && slices.Contains(keys, key) {
			t, err := ParseTimestamp(v.StringValue())
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
			doc = append(doc, bson.E{Key: key, Value: t})
			changed = true
			continue
		}
		doc = append(doc, bson.E{Key: key, Value: v})
	}
	if !changed {
		return data, nil
	}
	return bson.Marshal(doc)
}

// normalizeJSONTimes rewrites string values under keys as RFC3339.
func normalizeJSONTimes(data []byte, keys []string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return data, nil
	}
	changed := false
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || len(raw) == 0 || raw[0] != '"' {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
			continue
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		if fields[key], err = json.Marshal(t); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(fields)
}

type (
	userDocumentFields UserDocument
	blockStatsFields   BlockStats
	historyEntryFields HistoryEntry
)

func (d *UserDocument) UnmarshalBSON(data []byte) error {
	data, err := normalizeBSONTimes(data, documentTimeFields)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, (*userDocumentFields)(d))
}

func (d *UserDocument) UnmarshalJSON(data []byte) error {
	data, err := normalizeJSONTimes(data, documentTimeFields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, (*userDocumentFields)(d))
}

func (b *BlockStats) UnmarshalBSON(data []byte) error {
	data, err := normalizeBSONTimes(data, blockTimeFields)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, (*blockStatsFields)(b))
}

func (b *BlockStats) UnmarshalJSON(data []byte) error {
	data, err := normalizeJSONTimes(data, blockTimeFields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, (*blockStatsFields)(b))
}

func (h *HistoryEntry) UnmarshalBSON(data []byte) error {
	data, err := normalizeBSONTimes(data, historyTimeFields)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, (*historyEntryFields)(h))
}

func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	data, err := normalizeJSONTimes(data, historyTimeFields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, (*historyEntryFields)(h))
}
