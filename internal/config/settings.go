package config

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

const (
	// PrivateChatGroupID stands in for the missing group of a private chat.
	PrivateChatGroupID = "0001"
	// DefaultGroupConfigID holds the shared config of every default group.
	DefaultGroupConfigID = "0000"

	chatModePrompt      = "你要在群聊内提供情感陪伴，与群聊成员互动，活跃群内气氛"
	knowledgeModePrompt = "你负责在群聊内根据知识库内容进行问题的答疑，不允许与群内成员闲聊"
)

// Settings is the flat, normalized view of one bot's config in one group for one user.
type Settings struct {
	BotID          string `json:"config_search_filter"`
	GroupID        string `json:"group_id"`
	ConfigGroupID  string `json:"config_group_id"`
	UserID         string `json:"user_id"`
	IsPrivateChat  bool   `json:"is_private_chat"`
	IsDefaultGroup bool   `json:"is_default_group"`
	IsUserAdmin    bool   `json:"is_user_admin"`

	BotName                 string            `json:"bot_name"`
	BotNickname             string            `json:"bot_nickname"`
	LLMModel                string            `json:"llm_model"`
	BasicInfo               string            `json:"basic_info"`
	ExpressionHabits        string            `json:"expression_habits"`
	ThinkRequirement        string            `json:"think_requirement"`
	ReplyInstruction        string            `json:"reply_instruction"`
	FunctionCallInstruction string            `json:"function_call_instruction"`
	OverusageOutput         types.MessagePool `json:"overusage_output"`
	OverinputOutput         types.MessagePool `json:"overinput_output"`
	ErrorOutput             types.MessagePool `json:"error_output"`
	FavorPrompts            []string          `json:"favor_prompts"`
	FavorSplitPoints        []int             `json:"favor_split_points"`

	GroupInfo     string `json:"group_info"`
	OperatingMode string `json:"operating_mode"`
	ModePrompt    string `json:"mode_prompt"`

	FavorSystem                 bool        `json:"favor_system"`
	FavorChangeDisplay          bool        `json:"favor_change_display"`
	FavorCrossGroup             bool        `json:"favor_cross_group"`
	PersonaSystem               bool        `json:"persona_system"`
	PersonaCrossGroup           bool        `json:"persona_cross_group"`
	UsageLimitSystem            bool        `json:"usage_limit_system"`
	UsageLimit                  types.Param `json:"usage_limit"`
	UsageLimitCrossGroup        bool        `json:"usage_limit_cross_group"`
	UsageRestrictAdminUsers     bool        `json:"usage_restrict_admin_users"`
	MaxInputSize                types.Param `json:"max_input_size"`
	MemorySystem                bool        `json:"memory_system"`
	MemoryRetrievalNumber       types.Param `json:"memory_retrieval_number"`
	CommonsenseSystem           bool        `json:"commonsense_system"`
	CommonsenseCrossGroup       bool        `json:"commonsense_cross_group"`
	ContextSystem               bool        `json:"context_system"`
	ContextPoolSize             types.Param `json:"context_pool_size"`
	BlacklistSystem             bool        `json:"blacklist_system"`
	WarnCount                   types.Param `json:"warn_count"`
	WarnLifespan                types.Param `json:"warn_lifespan"`
	BlockLifespan               types.Param `json:"block_lifespan"`
	BlacklistCrossGroup         bool        `json:"blacklist_cross_group"`
	BlacklistRestrictAdminUsers bool        `json:"blacklist_restrict_admin_users"`
	IndependentReviewSystem     bool        `json:"independent_review_system"`
}

// Key is the user document this request reads and writes.
func (s *Settings) Key() types.Key {
	return types.Key{BotID: s.BotID, GroupID: s.GroupID, UserID: s.UserID}
}

// CrossGroup collects the per-feature cross-group switches.
func (s *Settings) CrossGroup() types.CrossGroupFlags {
	return types.CrossGroupFlags{
		Favor:       s.FavorCrossGroup,
		Persona:     s.PersonaCrossGroup,
		UsageLimit:  s.UsageLimitCrossGroup,
		Blacklist:   s.BlacklistCrossGroup,
		Commonsense: s.CommonsenseCrossGroup,
	}
}

// ModePrompt describes the bot's job for an operating mode.
func ModePrompt(operatingMode string) string {
	if operatingMode == "chat" {
		return chatModePrompt
	}
	return knowledgeModePrompt
}

// FavorStages returns the favor prompts and split points of a bot. The flat
// favor_prompts/favor_split_points fields win; the staged favor_system is the fallback.
func FavorStages(bot *types.BotConfig) ([]string, []int) {
	if len(bot.FavorPrompts) > 0 || len(bot.FavorSplitPoints) > 0 {
		return slices.Clone(bot.FavorPrompts), slices.Clone(bot.FavorSplitPoints)
	}
	prompts := make([]string, 0, len(bot.FavorSystem.Stages))
	for _, stage := range bot.FavorSystem.Stages {
		prompts = append(prompts, stagePrompt(stage))
	}
	return prompts, slices.Clone(bot.FavorSystem.SplitPoints)
}

func stagePrompt(stage types.FavorStage) string {
	switch {
	case stage.Description != "" && stage.Behavior != "":
		return stage.Description + "。" + stage.Behavior
	case stage.Description != "":
		return stage.Description
	default:
		return stage.Behavior
	}
}

// DefaultBotConfig is the record created for an unknown bot.
func DefaultBotConfig(botID string) *types.BotConfig {
	return &types.BotConfig{
		BotID:         botID,
		AdminUsers:    []string{},
		DefaultGroups: []string{},
		FavorSystem:   types.FavorSystem{Stages: []types.FavorStage{}, SplitPoints: []int{}},
	}
}

// DefaultGroupConfig is the record created for an unknown group. Every feature is off.
func DefaultGroupConfig(botID, groupID string) *types.GroupConfig {
	return &types.GroupConfig{BotID: botID, GroupID: groupID}
}

// Resolver reads bot and group config and flattens them into Settings.
type Resolver struct {
	configs storage.ConfigStore
	logger  *zap.Logger
}

// NewResolver returns a Resolver over configs.
func NewResolver(configs storage.ConfigStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{configs: configs, logger: logger}
}

// Resolve loads the config for (botID, groupID) and the caller userID. Missing
// records are created with defaults. An empty groupID is a private chat.
func (r *Resolver) Resolve(ctx context.Context, botID, groupID, userID string) (*Settings, error) {
	bot, err := r.botConfig(ctx, botID)
	if err != nil {
		return nil, err
	}

	s := &Settings{BotID: botID, GroupID: groupID, UserID: userID}
	if groupID == "" {
		s.GroupID = PrivateChatGroupID
		s.IsPrivateChat = true
	} else if slices.Contains(bot.DefaultGroups, groupID) {
		s.IsDefaultGroup = true
	}
	s.ConfigGroupID = s.GroupID
	if s.IsDefaultGroup {
		s.ConfigGroupID = DefaultGroupConfigID
	}

	group, err := r.groupConfig(ctx, botID, s.ConfigGroupID)
	if err != nil {
		return nil, err
	}

	s.IsUserAdmin = slices.Contains(bot.AdminUsers, userID)
	applyBot(s, bot)
	applyGroup(s, group)
	return s, nil
}

func (r *Resolver) botConfig(ctx context.Context, botID string) (*types.BotConfig, error) {
	bot, err := r.configs.GetBotConfig(ctx, botID)
	if err == nil {
		return bot, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load bot config: %w", err)
	}
	bot = DefaultBotConfig(botID)
	if err := r.configs.SaveBotConfig(ctx, bot); err != nil {
		return nil, fmt.Errorf("failed to create default bot config: %w", err)
	}
	r.logger.Info("created default bot config", zap.String("bot_id", botID))
	return bot, nil
}

func (r *Resolver) groupConfig(ctx context.Context, botID, groupID string) (*types.GroupConfig, error) {
	group, err := r.configs.GetGroupConfig(ctx, botID, groupID)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load group config: %w", err)
	}
	group = DefaultGroupConfig(botID, groupID)
	if err := r.configs.SaveGroupConfig(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create default group config: %w", err)
	}
	r.logger.Info("created default group config", zap.String("bot_id", botID), zap.String("group_id", groupID))
	return group, nil
}

func applyBot(s *Settings, bot *types.BotConfig) {
	s.BotName = bot.BotName
	s.BotNickname = bot.BotNickname
	s.LLMModel = bot.LLMModel
	s.BasicInfo = bot.BasicInfo
	s.ExpressionHabits = bot.ExpressionHabits
	s.ThinkRequirement = bot.ThinkRequirement
	s.ReplyInstruction = bot.ReplyInstruction
	s.FunctionCallInstruction = bot.FunctionCallInstruction
	s.OverusageOutput = bot.OverusageOutput
	s.OverinputOutput = bot.OverinputOutput
	s.ErrorOutput = bot.ErrorOutput
	s.FavorPrompts, s.FavorSplitPoints = FavorStages(bot)
}

func applyGroup(s *Settings, g *types.GroupConfig) {
	s.GroupInfo = g.GroupInfo
	s.OperatingMode = g.OperatingMode
	s.ModePrompt = ModePrompt(g.OperatingMode)

	s.FavorSystem = g.FavorSystem.Enabled()
	s.FavorChangeDisplay = g.FavorChangeDisplay.Enabled()
	s.FavorCrossGroup = g.FavorCrossGroup.Enabled()
	s.PersonaSystem = g.PersonaSystem.Enabled()
	s.PersonaCrossGroup = g.PersonaCrossGroup.Enabled()
	s.UsageLimitSystem = g.UsageLimitSystem.Enabled()
	s.UsageLimit = g.UsageLimit
	s.UsageLimitCrossGroup = g.UsageLimitCrossGroup.Enabled()
	s.UsageRestrictAdminUsers = g.UsageRestrictAdminUsers.Enabled()
	s.MaxInputSize = g.MaxInputSize
	s.MemorySystem = g.MemorySystem.Enabled()
	s.MemoryRetrievalNumber = g.MemoryRetrievalNumber
	s.CommonsenseSystem = g.CommonsenseSystem.Enabled()
	s.CommonsenseCrossGroup = g.CommonsenseCrossGroup.Enabled()
	s.ContextSystem = g.ContextSystem.Enabled()
	s.ContextPoolSize = g.ContextPoolSize
	s.BlacklistSystem = g.BlacklistSystem.Enabled()
	s.WarnCount = g.WarnCount
	s.WarnLifespan = g.WarnLifespan
	s.BlockLifespan = g.BlockLifespan
	s.BlacklistCrossGroup = g.BlacklistCrossGroup.Enabled()
	s.BlacklistRestrictAdminUsers = g.BlacklistRestrictAdminUsers.Enabled()
	s.IndependentReviewSystem = g.IndependentReviewSystem.Enabled()
}
