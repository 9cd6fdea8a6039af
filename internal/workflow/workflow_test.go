package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/gate"
	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

var (
	now  = time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)
	key  = types.Key{BotID: "bot", GroupID: "g1", UserID: "u1"}
	base = Request{Key: key, UserQuery: "do you like cats", MainPrompt: "MAIN", Now: now, Today: gate.DateOf(now)}
)

func seed(t *testing.T, store *storage.MemoryStore, mutate func(*types.UserDocument)) {
	t.Helper()
	doc := types.NewUserDocument(key, now.Add(-time.Hour))
	if mutate != nil {
		mutate(doc)
	}
	require.NoError(t, store.Insert(context.Background(), doc))
}

func TestStateOrder(t *testing.T) {
	var seen []string
	for s := StateBlacklistCheck; !s.Terminal(); s = s.next() {
		seen = append(seen, s.String())
	}
	assert.Equal(t, []string{
		"blacklist_check", "input_length_check", "usage_limit_check",
		"favor_prompt", "persona_prompt", "context_prompt", "memory_prompt",
	}, seen)
	assert.Equal(t, 7, StateMemoryPrompt.Step())
	assert.Equal(t, 0, StateFinish.Step())
}

func TestRunAllDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), base)
	require.NoError(t, err)

	want := &Result{
		StopReason:    StopFinish,
		StopMessage:   " ",
		StepStoppedAt: 7,
		MainPrompt:    "MAIN",
		BlockStatus:   gate.StatusPass,
		BlockMessage:  " ",
		InputLength:   16,
		UsageDate:     "20241005",
		HitMemories:   "[]",
	}
	if diff := cmp.Diff(want, res, cmpopts.IgnoreFields(Result{}, "RequestID")); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, res.RequestID)

	_, err = store.FindOne(context.Background(), storage.KeyFilter(key))
	require.NoError(t, err, "first touch creates the document")
}

func TestRunBlocked(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: false, BlockCount: 3, LastOperateTime: now.Add(-30 * time.Second)}
	})

	req := base
	req.Blacklist = gate.BlacklistPolicy{Enabled: true, BlockLifespan: time.Minute}
	req.FavorEnabled = true
	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopBlock, res.StopReason)
	assert.Equal(t, 1, res.StepStoppedAt)
	assert.Equal(t, "不想理你，30秒后再来吧", res.StopMessage)
	assert.Equal(t, gate.StatusBlock, res.BlockStatus)
	assert.Equal(t, "MAIN", res.MainPrompt)
	assert.Equal(t, " ", res.FavorPrompt)
	assert.Equal(t, " ", res.HitMemories)
	assert.Equal(t, 0, res.InputLength)
}

func TestRunBlockExpired(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, func(d *types.UserDocument) {
		d.BlockStats = types.BlockStats{BlockStatus: false, BlockCount: 3, LastOperateTime: now.Add(-61 * time.Second)}
	})

	req := base
	req.Blacklist = gate.BlacklistPolicy{Enabled: true, BlockLifespan: time.Minute}
	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StopFinish, res.StopReason)
	assert.Equal(t, gate.StatusBlock, res.BlockStatus)

	doc, err := store.FindOne(context.Background(), storage.KeyFilter(key))
	require.NoError(t, err)
	assert.True(t, doc.BlockStats.BlockStatus)
}

func TestRunInputTooLong(t *testing.T) {
	store := storage.NewMemoryStore()
	req := base
	req.UserQuery = "你好呀"
	req.MaxInputSize = 3
	req.OverinputOutput = types.MessagePool{"太长啦"}

	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StopInputTooLong, res.StopReason)
	assert.Equal(t, 2, res.StepStoppedAt)
	assert.Equal(t, "太长啦", res.StopMessage)
	assert.Equal(t, 3, res.InputLength)
	assert.Equal(t, 3, res.MaxLength)
	assert.Equal(t, " ", res.UsageDate)
}

func TestRunOverusage(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, func(d *types.UserDocument) { d.DailyUsageCount = 4 })

	req := base
	req.Usage = gate.UsagePolicy{Enabled: true, Limit: 3, Replies: types.MessagePool{"明天再来"}}
	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StopOverusage, res.StopReason)
	assert.Equal(t, 3, res.StepStoppedAt)
	assert.Equal(t, "明天再来", res.StopMessage)
	assert.Equal(t, 4, res.CurrentUsage)
	assert.Equal(t, 3, res.UsageLimit)
	assert.Equal(t, "20241005", res.UsageDate)
	assert.Equal(t, "MAIN", res.MainPrompt)
}

func TestRunAdminSkipsUsage(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, func(d *types.UserDocument) { d.DailyUsageCount = 40 })

	req := base
	req.IsAdmin = true
	req.Usage = gate.UsagePolicy{Enabled: true, Limit: 3}
	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StopFinish, res.StopReason)
	assert.Equal(t, 0, res.CurrentUsage)
}

func TestRunAugmentation(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, func(d *types.UserDocument) {
		d.FavorValue = 5
		d.PersonaAttributes.BasicInfo = "学生"
		d.HistoryEntries = []types.HistoryEntry{
			{UserName: "小明", UserQuery: "早", Output: map[string]any{"response": "早呀"}, CreatedAt: now.Add(-time.Minute)},
		}
		d.LongTermMemory = []types.MemoryEntry{{UserInput: "i like cats", MemoryDescription: "用户喜欢猫"}}
	})

	req := base
	req.Usage = gate.UsagePolicy{Enabled: true, Limit: 10}
	req.FavorEnabled = true
	req.FavorPrompts = []string{"low", "mid", "high"}
	req.FavorSplitPoints = []int{0, 10}
	req.PersonaEnabled = true
	req.ContextEnabled = true
	req.ContextPoolSize = 5
	req.MemoryEnabled = true
	req.MemoryRetrievalNumber = 5

	res, err := New(store, time.UTC, nil, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StopFinish, res.StopReason)
	assert.Equal(t, 1, res.CurrentUsage)
	assert.Equal(t, 5, res.FavorValue)
	assert.Equal(t, "mid", res.FavorPrompt)
	assert.Equal(t, "基本信息: 学生", res.Persona)
	assert.Equal(t, 1, res.ContextCount)
	assert.Equal(t, "{2024年10月5日11时59分0秒:小明说早；你对此的反应是早呀}", res.Context)
	assert.Equal(t, `[{"user_input":"i like cats","memory_description":"用户喜欢猫","hit_count":1}]`, res.HitMemories)

	wantPrompt := "MAIN十分重要！mid。\n" +
		"\n用户画像：基本信息: 学生\n" +
		"\n历史对话上下文：\n{2024年10月5日11时59分0秒:小明说早；你对此的反应是早呀}\n" +
		"\n\n相关记忆：\n用户喜欢猫\n"
	assert.Equal(t, wantPrompt, res.MainPrompt)
}

func TestRequestFromSettings(t *testing.T) {
	s := &config.Settings{
		BotID:                 "bot",
		GroupID:               "g1",
		UserID:                "u1",
		IsUserAdmin:           true,
		BlacklistSystem:       true,
		WarnLifespan:          "300",
		BlockLifespan:         "60.5",
		MaxInputSize:          "abc",
		UsageLimitSystem:      true,
		UsageLimit:            "20",
		FavorCrossGroup:       true,
		ContextSystem:         true,
		ContextPoolSize:       "",
		MemorySystem:          true,
		MemoryRetrievalNumber: "",
		OverusageOutput:       types.MessagePool{"bye"},
	}
	req := RequestFromSettings(s, "q", "p", now, gate.DateOf(now))
	assert.Equal(t, key, req.Key)
	assert.True(t, req.IsAdmin)
	assert.True(t, req.CrossGroup.Favor)
	assert.Equal(t, 300*time.Second, req.Blacklist.WarnLifespan)
	assert.Equal(t, 60*time.Second, req.Blacklist.BlockLifespan)
	assert.Equal(t, 0, req.MaxInputSize)
	assert.Equal(t, 20, req.Usage.Limit)
	assert.Equal(t, types.MessagePool{"bye"}, req.Usage.Replies)
	assert.Equal(t, 0, req.ContextPoolSize)
	assert.Equal(t, 5, req.MemoryRetrievalNumber)
}
