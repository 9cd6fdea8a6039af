package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

var errMissingBot = errors.New("bot_id is required")

type identity struct {
	BotID   string `json:"bot_id"`
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (h *Handler) settings(ctx context.Context, id identity) (*config.Settings, error) {
	if id.BotID == "" {
		return nil, errMissingBot
	}
	return h.resolver.Resolve(ctx, id.BotID, id.GroupID, id.UserID)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (h *Handler) preprocess(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[preprocess.Input](input)
	if err != nil {
		return nil, err
	}
	return h.preprocessor.Process(in, h.nowFunc()), nil
}

func (h *Handler) config(ctx context.Context, input json.RawMessage) (any, error) {
	id, err := decode[identity](input)
	if err != nil {
		return nil, err
	}
	return h.settings(ctx, id)
}

type workflowInput struct {
	identity
	UserQuery  string `json:"user_query"`
	MainPrompt string `json:"main_prompt"`
	Year       string `json:"year"`
	Month      string `json:"month"`
	Day        string `json:"day"`
}

func (h *Handler) workflow(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[workflowInput](input)
	if err != nil {
		return nil, err
	}
	s, err := h.settings(ctx, in.identity)
	if err != nil {
		return nil, err
	}
	now := h.nowFunc()
	today := gate.DateOf(now.In(h.loc))
	if in.Year != "" || in.Month != "" || in.Day != "" {
		today = gate.ParseDate(in.Year, in.Month, in.Day)
	}
	return h.orchestrator.Run(ctx, workflow.RequestFromSettings(s, in.UserQuery, in.MainPrompt, now, today))
}

type commandInput struct {
	identity
	UserQuery string `json:"user_query"`
}

func (h *Handler) command(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[commandInput](input)
	if err != nil {
		return nil, err
	}
	s, err := h.settings(ctx, in.identity)
	if err != nil {
		return nil, err
	}
	env := command.Env{
		BotID:           s.BotID,
		GroupID:         s.GroupID,
		IsAdmin:         s.IsUserAdmin,
		ContextPoolSize: s.ContextPoolSize.Int(0),
		CrossGroup:      s.CrossGroup(),
	}
	return h.interpreter.Execute(ctx, env, in.UserQuery)
}

type favorInput struct {
	identity
	Judgment   string `json:"favor_judge"`
	FavorValue int    `json:"favor_value"`
}

func (h *Handler) applyFavor(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[favorInput](input)
	if err != nil {
		return nil, err
	}
	s, err := h.settings(ctx, in.identity)
	if err != nil {
		return nil, err
	}
	return h.favor.ApplyJudgment(ctx, s.Key(), in.Judgment, in.FavorValue, s.FavorCrossGroup, h.nowFunc())
}

type violationOutput struct {
	NewBlockStatus bool   `json:"new_block_status"`
	BlockCount     int    `json:"block_count"`
	BlockMessage   string `json:"block_message"`
	MatchedCount   int64  `json:"matched_count"`
	ModifiedCount  int64  `json:"modified_count"`
}

func (h *Handler) recordViolation(ctx context.Context, input json.RawMessage) (any, error) {
	id, err := decode[identity](input)
	if err != nil {
		return nil, err
	}
	s, err := h.settings(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.BlacklistSystem {
		return violationOutput{NewBlockStatus: true, BlockMessage: " "}, nil
	}
	doc, err := h.lifecycle.Resolve(ctx, s.Key(), s.CrossGroup())
	if err != nil {
		return nil, err
	}
	v, err := h.blacklist.RecordViolation(ctx, doc, gate.ViolationPolicy{
		WarnCount:    s.WarnCount.Int(0),
		WarnLifespan: seconds(s.WarnLifespan.Int(0)),
		CrossGroup:   s.BlacklistCrossGroup,
	}, h.nowFunc())
	if err != nil {
		return nil, err
	}
	return violationOutput{
		NewBlockStatus: v.Allowed,
		BlockCount:     v.Count,
		BlockMessage:   v.Message,
		MatchedCount:   v.Matched,
		ModifiedCount:  v.Modified,
	}, nil
}

type historyInput struct {
	identity
	UserName   string             `json:"user_name"`
	UserQuery  string             `json:"user_query"`
	Output     map[string]any     `json:"output"`
	ImageInfo  json.RawMessage    `json:"image_info"`
	TokenUsage history.TokenUsage `json:"token_usage"`
}

func (h *Handler) recordHistory(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[historyInput](input)
	if err != nil {
		return nil, err
	}
	s, err := h.settings(ctx, in.identity)
	if err != nil {
		return nil, err
	}
	return h.recorder.Record(ctx, history.Entry{
		Key:         s.Key(),
		CrossGroup:  s.CrossGroup(),
		UserName:    in.UserName,
		UserQuery:   in.UserQuery,
		Output:      in.Output,
		ImageInfo:   imageDescriptions(in.ImageInfo),
		ErrorOutput: s.ErrorOutput,
		Usage:       in.TokenUsage,
	})
}

// imageDescriptions accepts either a list or {"image_info": [...]}.
func imageDescriptions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			ImageInfo []any `json:"image_info"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil
		}
		list = wrapped.ImageInfo
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}

type llmOutputInput struct {
	BotID       string            `json:"bot_id"`
	LLMOutput   string            `json:"llm_output"`
	ErrorOutput types.MessagePool `json:"error_output"`
}

func (h *Handler) llmOutput(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[llmOutputInput](input)
	if err != nil {
		return nil, err
	}
	fallback := in.ErrorOutput
	// bot config only, so no group config gets created here
	if len(fallback) == 0 && in.BotID != "" {
		bot, err := h.configs.GetBotConfig(ctx, in.BotID)
		switch {
		case err == nil:
			fallback = bot.ErrorOutput
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to load bot config: %w", err)
		}
	}
	if len(fallback) == 0 {
		fallback = types.MessagePool{config.DefaultErrorReply}
	}
	return output.Clean(in.LLMOutput, fallback, h.rnd), nil
}

func (h *Handler) structuredOutput(_ context.Context, input json.RawMessage) (any, error) {
	payload, err := decode[map[string]any](input)
	if err != nil {
		return nil, err
	}
	return output.ValidateStructured(payload), nil
}
