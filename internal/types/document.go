package types

import "time"

// PersonaAttributes is the seven-field user profile.
type PersonaAttributes struct {
	BasicInfo            string `bson:"basic_info" json:"basic_info"`
	LivingHabits         string `bson:"living_habits" json:"living_habits"`
	PsychologicalTraits  string `bson:"psychological_traits" json:"psychological_traits"`
	InterestsPreferences string `bson:"interests_preferences" json:"interests_preferences"`
	Dislikes             string `bson:"dislikes" json:"dislikes"`
	AIExpectations       string `bson:"ai_expectations" json:"ai_expectations"`
	MemoryPoints         string `bson:"memory_points" json:"memory_points"`
}

// IsEmpty reports whether every persona field is blank.
func (p PersonaAttributes) IsEmpty() bool {
	return p == PersonaAttributes{}
}

// BlockStats tracks blacklist state. BlockStatus true means the user is allowed.
type BlockStats struct {
	BlockStatus     bool      `bson:"block_status" json:"block_status"`
	BlockCount      int       `bson:"block_count" json:"block_count"`
	LastOperateTime time.Time `bson:"last_operate_time" json:"last_operate_time"`
}

// Blocked reports whether the user is currently blocked.
func (b BlockStats) Blocked() bool {
	return !b.BlockStatus
}

// TotalUsage accumulates lifetime counters.
type TotalUsage struct {
	TotalChatCount   int `bson:"total_chat_count" json:"total_chat_count"`
	TotalTokens      int `bson:"total_tokens" json:"total_tokens"`
	TotalPromptToken int `bson:"total_prompt_token" json:"total_prompt_token"`
	TotalOutputToken int `bson:"total_output_token" json:"total_output_token"`
}

// HistoryStats counts appended history entries.
type HistoryStats struct {
	TotalHistories int `bson:"total_histories" json:"total_histories"`
}

// HistoryEntry is one recorded exchange. Output carries the bot's structured reply,
// usually with a "response" key.
type HistoryEntry struct {
	UserName  string         `bson:"user_name" json:"user_name"`
	UserQuery string         `bson:"user_query" json:"user_query"`
	Output    map[string]any `bson:"output" json:"output"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
}

// Response returns the text the bot replied with.
func (h HistoryEntry) Response() string {
	if s, ok := h.Output["response"].(string); ok {
		return s
	}
	if len(h.Output) == 0 {
		return ""
	}
	return mapString(h.Output)
}

// UserDocument is the per (bot, group, user) state record.
type UserDocument struct {
	BotID             string            `bson:"bot_id" json:"bot_id"`
	GroupID           string            `bson:"group_id" json:"group_id"`
	UserID            string            `bson:"user_id" json:"user_id"`
	FavorValue        int               `bson:"favor_value" json:"favor_value"`
	LastFavorChange   int               `bson:"last_favor_change" json:"last_favor_change"`
	PersonaAttributes PersonaAttributes `bson:"persona_attributes" json:"persona_attributes"`
	BlockStats        BlockStats        `bson:"block_stats" json:"block_stats"`
	DailyUsageCount   int               `bson:"daily_usage_count" json:"daily_usage_count"`
	TotalUsage        TotalUsage        `bson:"total_usage" json:"total_usage"`
	LongTermMemory    []MemoryEntry     `bson:"long_term_memory" json:"long_term_memory"`
	HistoryEntries    []HistoryEntry    `bson:"history_entries" json:"history_entries"`
	HistoryStats      HistoryStats      `bson:"history_stats" json:"history_stats"`
	CreatedAt         time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at" json:"updated_at"`
}

// Key returns the document's identity.
func (d *UserDocument) Key() Key {
	return Key{BotID: d.BotID, GroupID: d.GroupID, UserID: d.UserID}
}

// NewUserDocument returns a fresh document for key with every field at its default.
func NewUserDocument(key Key, now time.Time) *UserDocument {
	return &UserDocument{
		BotID:   key.BotID,
		GroupID: key.GroupID,
		UserID:  key.UserID,
		BlockStats: BlockStats{
			BlockStatus:     true,
			LastOperateTime: now,
		},
		LongTermMemory: []MemoryEntry{},
		HistoryEntries: []HistoryEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
