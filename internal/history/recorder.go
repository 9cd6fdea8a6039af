// Package history appends finished exchanges to the user's conversation log
// and accumulates token usage.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/lifecycle"
	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

// TokenUsage is the model's accounting for one reply.
type TokenUsage struct {
	TotalTokens      int64 `json:"total_tokens"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Entry is one exchange to record.
type Entry struct {
	Key         types.Key
	CrossGroup  types.CrossGroupFlags
	UserName    string
	UserQuery   string
	Output      map[string]any
	ImageInfo   []string
	ErrorOutput types.MessagePool
	Usage       TokenUsage
}

// Result reports the stored entry and the running totals.
type Result struct {
	Skipped        bool             `json:"skipped"`
	TotalHistories int              `json:"total_histories"`
	HistoryEntry   string           `json:"history_entry"`
	MatchedCount   int64            `json:"matched_count"`
	ModifiedCount  int64            `json:"modified_count"`
	TotalUsage     types.TotalUsage `json:"total_usage"`
}

// Recorder writes conversation history.
type Recorder struct {
	store     storage.DocumentStore
	lifecycle *lifecycle.Lifecycle
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewRecorder returns a Recorder backed by store.
func NewRecorder(store storage.DocumentStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:     store,
		lifecycle: lifecycle.New(store, logger),
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// WithClock overrides the time source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.nowFunc = now
	r.lifecycle.WithClock(now)
	return r
}

// Record appends e to the history log. Replies whose error is one of the
// configured error outputs are not recorded.
func (r *Recorder) Record(ctx context.Context, e Entry) (*Result, error) {
	if msg, ok := e.Output["error"].(string); ok && e.ErrorOutput.Contains(msg) {
		return &Result{Skipped: true, HistoryEntry: "{}"}, nil
	}

	if _, err := r.lifecycle.Resolve(ctx, e.Key, e.CrossGroup); err != nil {
		return nil, err
	}

	now := r.nowFunc()
	entry := types.HistoryEntry{
		UserName:  e.UserName,
		UserQuery: QueryWithImages(e.UserQuery, e.ImageInfo),
		Output:    e.Output,
		CreatedAt: now,
	}
	upd, err := r.store.UpdateOne(ctx, e.Key, storage.Update{
		Push: map[string]any{"history_entries": entry},
		Inc: map[string]int64{
			"history_stats.total_histories":  1,
			"total_usage.total_chat_count":   1,
			"total_usage.total_tokens":       e.Usage.TotalTokens,
			"total_usage.total_prompt_token": e.Usage.PromptTokens,
			"total_usage.total_output_token": e.Usage.CompletionTokens,
		},
		Set: map[string]any{"updated_at": now},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}

	doc, err := r.store.FindOne(ctx, storage.KeyFilter(e.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to read user document: %w", err)
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history entry: %w", err)
	}

	r.logger.Debug("history recorded",
		zap.String("bot_id", e.Key.BotID),
		zap.String("group_id", e.Key.GroupID),
		zap.String("user_id", e.Key.UserID),
		zap.Int("total_histories", doc.HistoryStats.TotalHistories),
	)
	return &Result{
		TotalHistories: doc.HistoryStats.TotalHistories,
		HistoryEntry:   string(encoded),
		MatchedCount:   upd.Matched,
		ModifiedCount:  upd.Modified,
		TotalUsage:     doc.TotalUsage,
	}, nil
}

// QueryWithImages appends image descriptions to query as
// "[用户发送了N张图片，第1张:desc ...]".
func QueryWithImages(query string, descriptions []string) string {
	if len(descriptions) == 0 {
		return query
	}
	parts := make([]string, len(descriptions))
	for i, desc := range descriptions {
		parts[i] = fmt.Sprintf("第%d张:%s", i+1, desc)
	}
	return fmt.Sprintf("%s[用户发送了%d张图片，%s]", query, len(descriptions), strings.Join(parts, " "))
}
