package types

// FavorStage describes one favor band.
type FavorStage struct {
	Description string `bson:"description" json:"description" yaml:"description"`
	Behavior    string `bson:"behavior" json:"behavior" yaml:"behavior"`
}

// FavorSystem groups the staged favor prompts with their thresholds.
type FavorSystem struct {
	Stages      []FavorStage `bson:"stages" json:"stages" yaml:"stages"`
	SplitPoints []int        `bson:"split_points" json:"split_points" yaml:"split_points"`
}

// BotConfig is the per-bot configuration record.
type BotConfig struct {
	BotID                   string      `bson:"bot_id" json:"bot_id" yaml:"bot_id"`
	BotName                 string      `bson:"bot_name" json:"bot_name" yaml:"bot_name"`
	BotNickname             string      `bson:"bot_nickname" json:"bot_nickname" yaml:"bot_nickname"`
	LLMModel                string      `bson:"llm_model" json:"llm_model" yaml:"llm_model"`
	BasicInfo               string      `bson:"basic_info" json:"basic_info" yaml:"basic_info"`
	ExpressionHabits        string      `bson:"expression_habits" json:"expression_habits" yaml:"expression_habits"`
	ThinkRequirement        string      `bson:"think_requirement" json:"think_requirement" yaml:"think_requirement"`
	ReplyInstruction        string      `bson:"reply_instruction" json:"reply_instruction" yaml:"reply_instruction"`
	FunctionCallInstruction string      `bson:"function_call_instruction" json:"function_call_instruction" yaml:"function_call_instruction"`
	OverusageOutput         MessagePool `bson:"overusage_output" json:"overusage_output" yaml:"overusage_output"`
	OverinputOutput         MessagePool `bson:"overinput_output" json:"overinput_output" yaml:"overinput_output"`
	ErrorOutput             MessagePool `bson:"error_output" json:"error_output" yaml:"error_output"`
	AdminUsers              []string    `bson:"admin_users" json:"admin_users" yaml:"admin_users"`
	DefaultGroups           []string    `bson:"default_groups" json:"default_groups" yaml:"default_groups"`
	FavorPrompts            []string    `bson:"favor_prompts,omitempty" json:"favor_prompts,omitempty" yaml:"favor_prompts,omitempty"`
	FavorSplitPoints        []int       `bson:"favor_split_points,omitempty" json:"favor_split_points,omitempty" yaml:"favor_split_points,omitempty"`
	FavorSystem             FavorSystem `bson:"favor_system" json:"favor_system" yaml:"favor_system"`
}

// GroupConfig is the per (bot, group) configuration record.
type GroupConfig struct {
	BotID                       string `bson:"bot_id" json:"bot_id" yaml:"bot_id"`
	GroupID                     string `bson:"group_id" json:"group_id" yaml:"group_id"`
	GroupInfo                   string `bson:"group_info" json:"group_info" yaml:"group_info"`
	OperatingMode               string `bson:"operating_mode" json:"operating_mode" yaml:"operating_mode"`
	FavorSystem                 Flag   `bson:"favor_system" json:"favor_system" yaml:"favor_system"`
	FavorChangeDisplay          Flag   `bson:"favor_change_display" json:"favor_change_display" yaml:"favor_change_display"`
	FavorCrossGroup             Flag   `bson:"favor_cross_group" json:"favor_cross_group" yaml:"favor_cross_group"`
	PersonaSystem               Flag   `bson:"persona_system" json:"persona_system" yaml:"persona_system"`
	PersonaCrossGroup           Flag   `bson:"persona_cross_group" json:"persona_cross_group" yaml:"persona_cross_group"`
	UsageLimitSystem            Flag   `bson:"usage_limit_system" json:"usage_limit_system" yaml:"usage_limit_system"`
	UsageLimit                  Param  `bson:"usage_limit" json:"usage_limit" yaml:"usage_limit"`
	UsageLimitCrossGroup        Flag   `bson:"usage_limit_cross_group" json:"usage_limit_cross_group" yaml:"usage_limit_cross_group"`
	UsageRestrictAdminUsers     Flag   `bson:"usage_restrict_admin_users" json:"usage_restrict_admin_users" yaml:"usage_restrict_admin_users"`
	MaxInputSize                Param  `bson:"max_input_size" json:"max_input_size" yaml:"max_input_size"`
	MemorySystem                Flag   `bson:"memory_system" json:"memory_system" yaml:"memory_system"`
	MemoryRetrievalNumber       Param  `bson:"memory_retrieval_number" json:"memory_retrieval_number" yaml:"memory_retrieval_number"`
	CommonsenseSystem           Flag   `bson:"commonsense_system" json:"commonsense_system" yaml:"commonsense_system"`
	CommonsenseCrossGroup       Flag   `bson:"commonsense_cross_group" json:"commonsense_cross_group" yaml:"commonsense_cross_group"`
	ContextSystem               Flag   `bson:"context_system" json:"context_system" yaml:"context_system"`
	ContextPoolSize             Param  `bson:"context_pool_size" json:"context_pool_size" yaml:"context_pool_size"`
	BlacklistSystem             Flag   `bson:"blacklist_system" json:"blacklist_system" yaml:"blacklist_system"`
	WarnCount                   Param  `bson:"warn_count" json:"warn_count" yaml:"warn_count"`
	WarnLifespan                Param  `bson:"warn_lifespan" json:"warn_lifespan" yaml:"warn_lifespan"`
	BlockLifespan               Param  `bson:"block_lifespan" json:"block_lifespan" yaml:"block_lifespan"`
	BlacklistCrossGroup         Flag   `bson:"blacklist_cross_group" json:"blacklist_cross_group" yaml:"blacklist_cross_group"`
	BlacklistRestrictAdminUsers Flag   `bson:"blacklist_restrict_admin_users" json:"blacklist_restrict_admin_users" yaml:"blacklist_restrict_admin_users"`
	IndependentReviewSystem     Flag   `bson:"independent_review_system" json:"independent_review_system" yaml:"independent_review_system"`
}

// CrossGroupFlags says, per feature, whether writes propagate across every group of a (bot, user).
type CrossGroupFlags struct {
	Favor       bool `json:"favor_cross_group"`
	Persona     bool `json:"persona_cross_group"`
	UsageLimit  bool `json:"usage_limit_cross_group"`
	Blacklist   bool `json:"blacklist_cross_group"`
	Commonsense bool `json:"commonsense_cross_group"`
}
