package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

var (
	now = time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)
	key = types.Key{BotID: "bot", GroupID: "g1", UserID: "u1"}
)

func TestQueryWithImages(t *testing.T) {
	assert.Equal(t, "看", QueryWithImages("看", nil))
	assert.Equal(t, "看[用户发送了2张图片，第1张:猫 第2张:狗]", QueryWithImages("看", []string{"猫", "狗"}))
}

func TestRecordCreatesAndAccumulates(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := NewRecorder(store, nil).WithClock(func() time.Time { return now })

	entry := Entry{
		Key:       key,
		UserName:  "小明",
		UserQuery: "早",
		Output:    map[string]any{"response": "早呀"},
		ImageInfo: []string{"一张自拍"},
		Usage:     TokenUsage{TotalTokens: 30, PromptTokens: 20, CompletionTokens: 10},
	}
	res, err := rec.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.TotalHistories)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Contains(t, res.HistoryEntry, `"user_query":"早[用户发送了1张图片，第1张:一张自拍]"`)

	res, err = rec.Record(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHistories)
	assert.Equal(t, types.TotalUsage{TotalChatCount: 2, TotalTokens: 60, TotalPromptToken: 40, TotalOutputToken: 20}, res.TotalUsage)

	doc, err := store.FindOne(context.Background(), storage.KeyFilter(key))
	require.NoError(t, err)
	require.Len(t, doc.HistoryEntries, 2)
	assert.Equal(t, "早呀", doc.HistoryEntries[1].Response())
	assert.True(t, doc.UpdatedAt.Equal(now))
}

func TestRecordSkipsErrorOutput(t *testing.T) {
	store := storage.NewMemoryStore()
	res, err := NewRecorder(store, nil).Record(context.Background(), Entry{
		Key:         key,
		Output:      map[string]any{"error": "刚才走神了"},
		ErrorOutput: types.MessagePool{"刚才走神了"},
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "{}", res.HistoryEntry)

	_, err = store.FindOne(context.Background(), storage.KeyFilter(key))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
