package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/types"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, store DocumentStore, keys ...types.Key) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, store.Insert(context.Background(), types.NewUserDocument(key, testNow)))
	}
}

func exerciseDocumentStore(t *testing.T, store DocumentStore) {
	ctx := context.Background()
	k1 := types.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	k2 := types.Key{BotID: "b", GroupID: "g2", UserID: "u"}
	k3 := types.Key{BotID: "b", GroupID: "g1", UserID: "v"}
	seed(t, store, k1, k2, k3)

	err := store.Insert(ctx, types.NewUserDocument(k1, testNow))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = store.FindOne(ctx, KeyFilter(types.Key{BotID: "b", GroupID: "g9", UserID: "u"}))
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := store.Find(ctx, Filter{BotID: "b", UserID: "u"}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = store.Find(ctx, Filter{BotID: "b", UserID: "u", ExcludeGroups: []string{"g1"}}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "g2", docs[0].GroupID)

	res, err := store.UpdateOne(ctx, k1, Update{
		Set:  map[string]any{"favor_value": 12, "block_stats.block_count": 2},
		Inc:  map[string]int64{"total_usage.total_tokens": 30, "history_stats.total_histories": 1},
		Push: map[string]any{"history_entries": types.HistoryEntry{UserName: "n", UserQuery: "q", Output: map[string]any{"response": "r"}, CreatedAt: testNow}},
	})
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

	doc, err := store.FindOne(ctx, KeyFilter(k1))
	require.NoError(t, err)
	assert.Equal(t, 12, doc.FavorValue)
	assert.Equal(t, 2, doc.BlockStats.BlockCount)
	assert.True(t, doc.BlockStats.BlockStatus)
	assert.Equal(t, 30, doc.TotalUsage.TotalTokens)
	assert.Equal(t, 1, doc.HistoryStats.TotalHistories)
	require.Len(t, doc.HistoryEntries, 1)
	assert.Equal(t, "r", doc.HistoryEntries[0].Response())
	assert.True(t, doc.HistoryEntries[0].CreatedAt.Equal(testNow))

	res, err = store.UpdateOne(ctx, k1, SetFields(map[string]any{"favor_value": 12}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 1, Modified: 0}, res)

	res, err = store.UpdateMany(ctx, Filter{BotID: "b", UserID: "u"}, SetFields(map[string]any{"persona_attributes.living_habits": "早睡"}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Matched: 2, Modified: 2}, res)

	other, err := store.FindOne(ctx, KeyFilter(k3))
	require.NoError(t, err)
	assert.Empty(t, other.PersonaAttributes.LivingHabits)

	res, err = store.UpdateOne(ctx, types.Key{BotID: "x", GroupID: "y", UserID: "z"}, SetFields(map[string]any{"favor_value": 1}))
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{}, res)
}

func exerciseConfigStore(t *testing.T, store ConfigStore) {
	ctx := context.Background()
	_, err := store.GetBotConfig(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	bot := &types.BotConfig{BotID: "b", BotName: "Roza", AdminUsers: []string{"a"}, OverusageOutput: types.MessagePool{"x", "y"}}
	require.NoError(t, store.SaveBotConfig(ctx, bot))
	bot.BotName = "Rosa"
	require.NoError(t, store.SaveBotConfig(ctx, bot))

	got, err := store.GetBotConfig(ctx, "b")
	require.NoError(t, err)
	if diff := cmp.Diff(bot, got); diff != "" {
		t.Fatalf("bot config mismatch (-want +got):\n%s", diff)
	}

	group := &types.GroupConfig{BotID: "b", GroupID: "g", FavorSystem: true, UsageLimit: "20"}
	require.NoError(t, store.SaveGroupConfig(ctx, group))
	gotGroup, err := store.GetGroupConfig(ctx, "b", "g")
	require.NoError(t, err)
	assert.True(t, gotGroup.FavorSystem.Enabled())
	assert.Equal(t, 20, gotGroup.UsageLimit.Int(0))

	list, err := store.ListBotConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Rosa", list[0].BotName)

	_, err = store.GetGroupConfig(ctx, "b", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseDocumentStore(t, store)
	exerciseConfigStore(t, store.Configs())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := types.Key{BotID: "b", GroupID: "g", UserID: "u"}
	seed(t, store, key)

	doc, err := store.FindOne(ctx, KeyFilter(key))
	require.NoError(t, err)
	doc.FavorValue = 99

	again, err := store.FindOne(ctx, KeyFilter(key))
	require.NoError(t, err)
	assert.Equal(t, 0, again.FavorValue)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "roza.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })
	require.NoError(t, s.AutoMigrate(ctx))

	exerciseDocumentStore(t, s.Documents())
	exerciseConfigStore(t, s.Configs())

	require.NoError(t, s.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_user_documents_user ON user_documents (user_id)"))
	assert.Error(t, s.Exec(ctx, "SELECT * FROM missing_table"))
}

func TestFilterMatches(t *testing.T) {
	key := types.Key{BotID: "b", GroupID: "g", UserID: "u"}
	assert.True(t, Filter{}.Matches(key))
	assert.True(t, Filter{BotID: "b", UserID: "u"}.Matches(key))
	assert.False(t, Filter{BotID: "b", ExcludeGroups: []string{"g"}}.Matches(key))
	assert.False(t, Filter{GroupID: "h"}.Matches(key))
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore(context.Background(), Options{Driver: "redis"})
	assert.Error(t, err)
}
