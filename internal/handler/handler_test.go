package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/roza/internal/command"
	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/gate"
	"github.com/easeaico/roza/internal/history"
	"github.com/easeaico/roza/internal/output"
	"github.com/easeaico/roza/internal/preprocess"
	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
	"github.com/easeaico/roza/internal/workflow"
)

var now = time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)

func newHandler(t *testing.T) (*Handler, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	bot := config.DefaultBotConfig("bot")
	bot.AdminUsers = []string{"admin"}
	bot.ErrorOutput = types.MessagePool{"走神了"}
	require.NoError(t, store.Configs().SaveBotConfig(context.Background(), bot))

	h := New(store, store.Configs(), Options{Location: time.UTC}, nil).WithClock(func() time.Time { return now })
	return h, store
}

func dispatch(t *testing.T, h *Handler, node string, input any) Response {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	resp, err := h.Dispatch(context.Background(), Request{Node: node, Input: raw})
	require.NoError(t, err)
	assert.Equal(t, node, resp.Node)
	return resp
}

func TestNodes(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, []string{
		"blacklist", "command", "config", "favor", "history",
		"llm_output", "preprocess", "structured_output", "workflow",
	}, h.Nodes())
}

func TestDispatchUnknownNode(t *testing.T) {
	h, _ := newHandler(t)
	resp, err := h.Dispatch(context.Background(), Request{Node: "nope"})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Contains(t, resp.Error, "nope")
}

func TestDispatchRecoversPanic(t *testing.T) {
	h, _ := newHandler(t)
	h.Register("boom", func(context.Context, json.RawMessage) (any, error) { panic("kaboom") })
	resp, err := h.Dispatch(context.Background(), Request{Node: "boom"})
	require.Error(t, err)
	assert.Contains(t, resp.Error, "kaboom")
}

func TestConfigNodeRequiresBot(t *testing.T) {
	h, _ := newHandler(t)
	_, err := h.Dispatch(context.Background(), Request{Node: "config", Input: json.RawMessage(`{}`)})
	assert.True(t, errors.Is(err, errMissingBot))
}

func TestConfigNode(t *testing.T) {
	h, _ := newHandler(t)
	resp := dispatch(t, h, "config", map[string]string{"bot_id": "bot", "user_id": "admin"})
	s, ok := resp.Output.(*config.Settings)
	require.True(t, ok)
	assert.True(t, s.IsPrivateChat)
	assert.True(t, s.IsUserAdmin)
	assert.Equal(t, config.PrivateChatGroupID, s.GroupID)
}

func TestPreprocessNode(t *testing.T) {
	h, _ := newHandler(t)
	resp := dispatch(t, h, "preprocess", map[string]any{"bot_id": "bot", "group_id": "g1", "user_query": "/Roza.get.favor"})
	out, ok := resp.Output.(preprocess.Output)
	require.True(t, ok)
	assert.Equal(t, preprocess.KindCommand, out.Command)
	assert.Equal(t, "20241005", out.Year+out.Month+out.Day)
}

func TestWorkflowNode(t *testing.T) {
	h, _ := newHandler(t)
	resp := dispatch(t, h, "workflow", map[string]string{
		"bot_id": "bot", "group_id": "g1", "user_id": "u1",
		"user_query": "hi", "main_prompt": "MAIN",
		"year": "2024", "month": "10", "day": "5",
	})
	res, ok := resp.Output.(*workflow.Result)
	require.True(t, ok)
	assert.Equal(t, workflow.StopFinish, res.StopReason)
	assert.Equal(t, "20241005", res.UsageDate)
}

func TestCommandNode(t *testing.T) {
	h, store := newHandler(t)
	require.NoError(t, store.Insert(context.Background(),
		types.NewUserDocument(types.Key{BotID: "bot", GroupID: "g1", UserID: "u1"}, now)))

	resp := dispatch(t, h, "command", map[string]string{
		"bot_id": "bot", "group_id": "g1", "user_id": "admin",
		"user_query": "/Roza.set.favor.favor_value u1 8",
	})
	res, ok := resp.Output.(*command.Result)
	require.True(t, ok)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.ModifiedCount)

	resp = dispatch(t, h, "command", map[string]string{
		"bot_id": "bot", "group_id": "g1", "user_id": "u1",
		"user_query": "/Roza.get.favor",
	})
	res = resp.Output.(*command.Result)
	assert.False(t, res.Success)
	assert.Equal(t, command.ErrPermission.Error(), res.Result)
}

func TestHistoryAndFavorNodes(t *testing.T) {
	h, store := newHandler(t)
	resp := dispatch(t, h, "history", map[string]any{
		"bot_id": "bot", "group_id": "g1", "user_id": "u1",
		"user_name": "小明", "user_query": "看",
		"output":      map[string]any{"response": "好"},
		"image_info":  map[string]any{"image_info": []string{"猫"}},
		"token_usage": map[string]int{"total_tokens": 5, "prompt_tokens": 3, "completion_tokens": 2},
	})
	rec, ok := resp.Output.(*history.Result)
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalHistories)
	assert.Equal(t, 5, rec.TotalUsage.TotalTokens)

	resp = dispatch(t, h, "favor", map[string]any{
		"bot_id": "bot", "group_id": "g1", "user_id": "u1", "favor_judge": "7", "favor_value": 10,
	})
	require.Empty(t, resp.Error)

	doc, err := store.FindOne(context.Background(), storage.KeyFilter(types.Key{BotID: "bot", GroupID: "g1", UserID: "u1"}))
	require.NoError(t, err)
	assert.Equal(t, "看[用户发送了1张图片，第1张:猫]", doc.HistoryEntries[0].UserQuery)
	assert.NotEqual(t, 0, doc.LastFavorChange)
}

func TestBlacklistNodeDisabled(t *testing.T) {
	h, _ := newHandler(t)
	resp := dispatch(t, h, "blacklist", map[string]string{"bot_id": "bot", "group_id": "g1", "user_id": "u1"})
	assert.Equal(t, violationOutput{NewBlockStatus: true, BlockMessage: " "}, resp.Output)
}

func TestBlacklistNodeBlocksOnThirdViolation(t *testing.T) {
	h, store := newHandler(t)
	group := config.DefaultGroupConfig("bot", "g1")
	group.BlacklistSystem = true
	require.NoError(t, store.Configs().SaveGroupConfig(context.Background(), group))

	id := map[string]string{"bot_id": "bot", "group_id": "g1", "user_id": "u1"}
	for i, want := range []violationOutput{
		{NewBlockStatus: true, BlockCount: 1, BlockMessage: gate.WarnMarker, MatchedCount: 1, ModifiedCount: 1},
		{NewBlockStatus: true, BlockCount: 2, BlockMessage: gate.WarnMarker, MatchedCount: 1, ModifiedCount: 1},
		{NewBlockStatus: false, BlockCount: 3, BlockMessage: gate.DefaultBlockMessage, MatchedCount: 1, ModifiedCount: 1},
	} {
		resp := dispatch(t, h, "blacklist", id)
		assert.Equal(t, want, resp.Output, "violation %d", i+1)
	}

	resp := dispatch(t, h, "blacklist", id)
	assert.Equal(t, violationOutput{BlockMessage: " "}, resp.Output)
}

func TestOutputNodes(t *testing.T) {
	h, _ := newHandler(t)
	resp := dispatch(t, h, "llm_output", map[string]string{"bot_id": "bot", "llm_output": "<think>x</think>"})
	assert.Equal(t, output.Cleaned{SystemOutput: "走神了", ReviewResult: output.ReviewPass}, resp.Output)

	resp = dispatch(t, h, "structured_output", map[string]any{"output": map[string]any{"think_output": "t"}})
	s, ok := resp.Output.(output.Structured)
	require.True(t, ok)
	assert.False(t, s.IsValid)
}

func TestLLMOutputReadsBotConfigOnly(t *testing.T) {
	h, store := newHandler(t)
	ctx := context.Background()

	resp := dispatch(t, h, "llm_output", map[string]string{"bot_id": "bot", "llm_output": ""})
	assert.Equal(t, "走神了", resp.Output.(output.Cleaned).SystemOutput)
	_, err := store.Configs().GetGroupConfig(ctx, "bot", config.PrivateChatGroupID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	resp = dispatch(t, h, "llm_output", map[string]string{"bot_id": "ghost", "llm_output": ""})
	assert.Equal(t, config.DefaultErrorReply, resp.Output.(output.Cleaned).SystemOutput)
	_, err = store.Configs().GetBotConfig(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImageDescriptions(t *testing.T) {
	assert.Nil(t, imageDescriptions(nil))
	assert.Equal(t, []string{"a", "1"}, imageDescriptions(json.RawMessage(`["a", 1]`)))
	assert.Equal(t, []string{"b"}, imageDescriptions(json.RawMessage(`{"image_info": ["b"]}`)))
	assert.Empty(t, imageDescriptions(json.RawMessage(`"text"`)))
}
