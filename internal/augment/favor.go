// Package augment enriches the running prompt with per-user state.
package augment

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

const (
	defaultFavorPrompt = "好感度系统正常"
	neutralJudgment    = 4
)

var digitRun = regexp.MustCompile(`[0-9]+`)

// FavorStage picks the stage prompt for value. Split points are cleaned to a
// strictly increasing sequence and prompts are truncated or padded with their
// last entry to len(splits)+1 stages.
func FavorStage(prompts []string, splits []int, value int) string {
	clean := make([]int, 0, len(splits))
	for _, s := range splits {
		if len(clean) == 0 || s > clean[len(clean)-1] {
			clean = append(clean, s)
		}
	}

	stages := append([]string(nil), prompts...)
	if len(stages) == 0 {
		stages = []string{defaultFavorPrompt}
	}
	want := len(clean) + 1
	for len(stages) < want {
		stages = append(stages, stages[len(stages)-1])
	}
	stages = stages[:want]

	for i, s := range clean {
		if value < s {
			return stages[i]
		}
	}
	return stages[len(clean)]
}

// FavorDelta turns a judge string into a signed change: the truncated mean of
// its single-digit numbers minus 4. No usable digit means no change.
func FavorDelta(judgment string) int {
	sum, n := 0, 0
	for _, run := range digitRun.FindAllString(judgment, -1) {
		v, err := strconv.Atoi(run)
		if err != nil || v < 0 || v > 9 {
			continue
		}
		sum += v
		n++
	}
	avg := neutralJudgment
	if n > 0 {
		avg = sum / n
	}
	return avg - neutralJudgment
}

// FavorResult is the outcome of the favor prompt stage.
type FavorResult struct {
	Value  int
	Prompt string
	Main   string
}

// FavorPrompt appends the current favor stage to main.
func FavorPrompt(doc *types.UserDocument, prompts []string, splits []int, main string) FavorResult {
	stage := FavorStage(prompts, splits, doc.FavorValue)
	return FavorResult{
		Value:  doc.FavorValue,
		Prompt: stage,
		Main:   fmt.Sprintf("%s十分重要！%s。\n", main, stage),
	}
}

// FavorChange is the outcome of ApplyJudgment.
type FavorChange struct {
	Change     int   `json:"favor_change"`
	NewValue   int   `json:"new_favor_value"`
	CrossGroup bool  `json:"favor_cross_group"`
	Matched    int64 `json:"matched_count"`
	Modified   int64 `json:"modified_count"`
}

// Favor writes favor updates.
type Favor struct {
	store  storage.DocumentStore
	logger *zap.Logger
}

// NewFavor returns a Favor backed by store.
func NewFavor(store storage.DocumentStore, logger *zap.Logger) *Favor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Favor{store: store, logger: logger}
}

// ApplyJudgment adds FavorDelta(judgment) to current and stores it, either on
// key alone or on every document of (bot, user) including the template.
func (f *Favor) ApplyJudgment(ctx context.Context, key types.Key, judgment string, current int, crossGroup bool, now time.Time) (FavorChange, error) {
	change := FavorDelta(judgment)
	out := FavorChange{Change: change, NewValue: current + change, CrossGroup: crossGroup}

	update := storage.SetFields(map[string]any{
		"favor_value":       out.NewValue,
		"last_favor_change": change,
		"updated_at":        now,
	})
	var (
		res storage.UpdateResult
		err error
	)
	if crossGroup {
		res, err = f.store.UpdateMany(ctx, storage.Filter{BotID: key.BotID, UserID: key.UserID}, update)
	} else {
		res, err = f.store.UpdateOne(ctx, key, update)
	}
	if err != nil {
		return FavorChange{}, fmt.Errorf("failed to update favor: %w", err)
	}
	out.Matched, out.Modified = res.Matched, res.Modified

	f.logger.Debug("favor updated",
		zap.String("bot_id", key.BotID),
		zap.String("group_id", key.GroupID),
		zap.String("user_id", key.UserID),
		zap.Int("favor_change", change),
		zap.Int("new_favor_value", out.NewValue),
	)
	return out, nil
}
