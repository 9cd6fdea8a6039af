package gate

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

var (
	key = types.Key{BotID: "b", GroupID: "g", UserID: "u"}
	t0  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func seedDoc(t *testing.T, store *storage.MemoryStore, mutate func(*types.UserDocument)) *types.UserDocument {
	t.Helper()
	doc := types.NewUserDocument(key, t0)
	if mutate != nil {
		mutate(doc)
	}
	require.NoError(t, store.Insert(context.Background(), doc))
	return doc
}

func stored(t *testing.T, store *storage.MemoryStore, k types.Key) *types.UserDocument {
	t.Helper()
	doc, err := store.FindOne(context.Background(), storage.KeyFilter(k))
	require.NoError(t, err)
	return doc
}

var blacklistPolicy = BlacklistPolicy{Enabled: true, WarnLifespan: 300 * time.Second, BlockLifespan: 60 * time.Second}

func TestSkip(t *testing.T) {
	assert.True(t, Skip(false, true, false))
	assert.True(t, Skip(true, false, true))
	assert.False(t, Skip(true, true, true))
	assert.False(t, Skip(true, false, false))
}

func TestBlacklistStillBlocked(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: false, BlockCount: 3, LastOperateTime: t0}
	})

	res, err := NewBlacklist(store, nil).Check(context.Background(), doc, blacklistPolicy, false, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, StatusBlock, res.Status)
	assert.Equal(t, "不想理你，30秒后再来吧", res.Message)
}

func TestBlacklistBlockExpires(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: false, BlockCount: 3, LastOperateTime: t0}
	})

	res, err := NewBlacklist(store, nil).Check(context.Background(), doc, blacklistPolicy, false, t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, StatusBlock, res.Status, "status reported as it was before the check")

	got := stored(t, store, key)
	assert.True(t, got.BlockStats.BlockStatus)
	assert.Equal(t, 3, got.BlockStats.BlockCount)
	assert.True(t, got.BlockStats.LastOperateTime.Equal(t0))
}

func TestBlacklistWarningsDecay(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: true, BlockCount: 2, LastOperateTime: t0}
	})
	bl := NewBlacklist(store, nil)

	res, err := bl.Check(context.Background(), doc, blacklistPolicy, false, t0.Add(100*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, stored(t, store, key).BlockStats.BlockCount)

	_, err = bl.Check(context.Background(), doc, blacklistPolicy, false, t0.Add(300*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, stored(t, store, key).BlockStats.BlockCount)
}

func TestBlacklistAdminExempt(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: false, LastOperateTime: t0}
	})
	res, err := NewBlacklist(store, nil).Check(context.Background(), doc, blacklistPolicy, true, t0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, StatusPass, res.Status)
}

func TestRecordViolationEscalates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, nil)
	bl := NewBlacklist(store, nil)
	policy := ViolationPolicy{WarnCount: 3, WarnLifespan: 300 * time.Second}

	// the fresh document was stamped at t0, so the first offence counts from there
	v, err := bl.RecordViolation(ctx, doc, policy, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Violation{Allowed: true, Count: 1, Message: WarnMarker, Updated: true, Matched: 1, Modified: 1}, v)

	v, err = bl.RecordViolation(ctx, doc, policy, t0.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, v.Count)
	assert.Equal(t, WarnMarker, v.Message)

	v, err = bl.RecordViolation(ctx, doc, policy, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, 3, v.Count)
	assert.Equal(t, DefaultBlockMessage, v.Message)

	got := stored(t, store, key)
	assert.True(t, got.BlockStats.Blocked())
	assert.True(t, got.BlockStats.LastOperateTime.Equal(t0.Add(30*time.Second)))

	v, err = bl.RecordViolation(ctx, doc, policy, t0.Add(40*time.Second))
	require.NoError(t, err)
	assert.False(t, v.Updated)
}

func TestRecordViolationResetsAfterWarnLifespan(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: true, BlockCount: 2, LastOperateTime: t0}
	})
	v, err := NewBlacklist(store, nil).RecordViolation(context.Background(), doc, ViolationPolicy{}, t0.Add(301*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, v.Count)
	assert.True(t, v.Allowed)
}

func TestRecordViolationCrossGroup(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: true, BlockCount: 2, LastOperateTime: t0}
	})
	other := types.Key{BotID: "b", GroupID: "g2", UserID: "u"}
	require.NoError(t, store.Insert(ctx, types.NewUserDocument(other, t0)))

	v, err := NewBlacklist(store, nil).RecordViolation(ctx, doc, ViolationPolicy{WarnCount: 3, CrossGroup: true}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Matched)
	assert.True(t, stored(t, store, other).BlockStats.Blocked())
}

func TestCheckInputLength(t *testing.T) {
	res := CheckInputLength("你好世界", 4, nil, nil)
	assert.False(t, res.Allowed)
	assert.Equal(t, DefaultOverinputMessage, res.Message)
	assert.Equal(t, 4, res.Length)

	assert.True(t, CheckInputLength("你好", 4, nil, nil).Allowed)
	assert.True(t, CheckInputLength("很长很长很长", 0, nil, nil).Allowed)

	res = CheckInputLength("abcd", 2, types.MessagePool{"太长了"}, nil)
	assert.Equal(t, "太长了", res.Message)
}

func TestUsageSequence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, nil)
	usage := NewUsage(store, time.UTC, rand.New(rand.NewPCG(1, 1)), nil)
	policy := UsagePolicy{Enabled: true, Limit: 2}
	today := DateOf(t0)

	for i, want := range []int{1, 2, 3} {
		res, err := usage.Check(ctx, doc, doc.UpdatedAt, policy, false, today, t0)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, want, res.Current)
	}

	res, err := usage.Check(ctx, doc, doc.UpdatedAt, policy, false, today, t0)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, DefaultOverusageMessage, res.Message)
	assert.Equal(t, 3, stored(t, store, key).DailyUsageCount)
}

func TestUsageNewDayResets(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, func(d *types.UserDocument) { d.DailyUsageCount = 50 })
	usage := NewUsage(store, time.UTC, nil, nil)

	next := t0.Add(24 * time.Hour)
	res, err := usage.Check(context.Background(), doc, doc.UpdatedAt, UsagePolicy{Enabled: true, Limit: 5}, false, DateOf(next), next)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, "20240602", res.Date)
}

func TestUsageClockSkew(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, nil)
	usage := NewUsage(store, time.UTC, nil, nil)

	res, err := usage.Check(context.Background(), doc, doc.UpdatedAt, UsagePolicy{Enabled: true, Limit: 5}, false, Date{2024, 5, 31}, t0)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ClockSkewMessage, res.Message)
}

func TestUsageUsesLocation(t *testing.T) {
	store := storage.NewMemoryStore()
	// 20:00 UTC on June 1st is already June 2nd in UTC+8
	doc := seedDoc(t, store, func(d *types.UserDocument) {
		d.UpdatedAt = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
		d.DailyUsageCount = 4
	})
	usage := NewUsage(store, time.FixedZone("CST", 8*3600), nil, nil)

	res, err := usage.Check(context.Background(), doc, doc.UpdatedAt, UsagePolicy{Enabled: true, Limit: 10}, false, Date{2024, 6, 2}, t0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Current)
}

func TestUsageSkippedForAdmin(t *testing.T) {
	store := storage.NewMemoryStore()
	doc := seedDoc(t, store, nil)
	res, err := NewUsage(store, nil, nil, nil).Check(context.Background(), doc, doc.UpdatedAt, UsagePolicy{Enabled: true, Limit: 0}, true, DateOf(t0), t0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Current)
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, "20240305", ParseDate("2024", "3", "5").String())
	assert.Equal(t, "19700101", ParseDate("x", "13", "1").String())
}
