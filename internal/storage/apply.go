package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/easeaico/roza/internal/types"
	"github.com/easeaico/roza/internal/utils"
)

// applyUpdate evaluates an Update against doc for backends that do not speak
// update operators natively. It reports whether the document changed.
func applyUpdate(doc *types.UserDocument, update Update) (bool, error) {
	m, err := utils.ToMap(doc)
	if err != nil {
		return false, err
	}
	before, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot document: %w", err)
	}

	for path, value := range update.Set {
		safe, err := utils.JSONSafe(value)
		if err != nil {
			return false, err
		}
		if err := utils.SetPath(m, path, safe); err != nil {
			return false, err
		}
	}
	for path, delta := range update.Inc {
		cur, _ := utils.GetPath(m, path)
		n, _ := utils.Number(cur)
		if err := utils.SetPath(m, path, n+float64(delta)); err != nil {
			return false, err
		}
	}
	for path, value := range update.Push {
		safe, err := utils.JSONSafe(value)
		if err != nil {
			return false, err
		}
		cur, _ := utils.GetPath(m, path)
		list, _ := cur.([]any)
		if err := utils.SetPath(m, path, append(list, safe)); err != nil {
			return false, err
		}
	}

	after, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot document: %w", err)
	}
	var next types.UserDocument
	if err := json.Unmarshal(after, &next); err != nil {
		return false, fmt.Errorf("failed to decode updated document: %w", err)
	}
	*doc = next
	return !bytes.Equal(before, after), nil
}

func cloneDocument(doc *types.UserDocument) (*types.UserDocument, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}
	var out types.UserDocument
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}
	return &out, nil
}
