// Package gate implements the checks that may refuse a request before any
// prompt work happens.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

const (
	// WarnMarker tags a reply that should carry a warning.
	WarnMarker = "[warn]"
	// DefaultBlockMessage is appended to the reply when a user gets blocked.
	DefaultBlockMessage = "\n无语了，你自己冷静冷静吧"

	defaultWarnCount    = 3
	defaultWarnLifespan = 300 * time.Second
)

// Status labels reported by the blacklist check.
const (
	StatusPass  = "pass"
	StatusBlock = "block"
)

// Skip reports whether a gate should be bypassed: the feature is off, or it is
// on but admins are exempt and the caller is an admin.
func Skip(enabled, restrictAdmins, isAdmin bool) bool {
	return !enabled || (!restrictAdmins && isAdmin)
}

// BlacklistPolicy configures the blacklist check.
type BlacklistPolicy struct {
	Enabled        bool
	RestrictAdmins bool
	WarnLifespan   time.Duration
	BlockLifespan  time.Duration
}

// BlacklistResult is the outcome of Check.
type BlacklistResult struct {
	Allowed  bool
	Message  string
	Status   string
	Matched  int64
	Modified int64
}

// ViolationPolicy configures RecordViolation. Zero values fall back to defaults.
type ViolationPolicy struct {
	WarnCount    int
	WarnLifespan time.Duration
	CrossGroup   bool
	BlockMessage string
}

// Violation is the outcome of RecordViolation.
type Violation struct {
	Allowed  bool
	Count    int
	Message  string
	Updated  bool
	Matched  int64
	Modified int64
}

// Blacklist reads and writes block_stats.
type Blacklist struct {
	store  storage.DocumentStore
	logger *zap.Logger
}

// NewBlacklist returns a Blacklist backed by store.
func NewBlacklist(store storage.DocumentStore, logger *zap.Logger) *Blacklist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blacklist{store: store, logger: logger}
}

// Check decides whether doc's user may talk now. A block that outlived
// BlockLifespan is lifted, and warnings older than WarnLifespan are forgotten.
// Neither transition moves last_operate_time.
func (b *Blacklist) Check(ctx context.Context, doc *types.UserDocument, policy BlacklistPolicy, isAdmin bool, now time.Time) (BlacklistResult, error) {
	if Skip(policy.Enabled, policy.RestrictAdmins, isAdmin) {
		return BlacklistResult{Allowed: true, Message: " ", Status: StatusPass}, nil
	}

	stats := doc.BlockStats
	res := BlacklistResult{Allowed: true, Message: " ", Status: StatusPass, Matched: 1}
	if stats.Blocked() {
		res.Status = StatusBlock
	}
	elapsed := now.Sub(stats.LastOperateTime)

	update := false
	switch {
	case !stats.Blocked() && stats.BlockCount > 0 && elapsed >= policy.WarnLifespan:
		stats.BlockCount = 0
		update = true
	case stats.Blocked() && elapsed >= policy.BlockLifespan:
		stats.BlockStatus = true
		update = true
	case stats.Blocked():
		left := int((policy.BlockLifespan - elapsed).Seconds())
		res.Allowed = false
		res.Message = fmt.Sprintf("不想理你，%d秒后再来吧", left)
		return res, nil
	}
	if !update {
		return res, nil
	}

	upd, err := b.store.UpdateOne(ctx, doc.Key(), storage.SetFields(map[string]any{
		"block_stats": stats,
		"updated_at":  now,
	}))
	if err != nil {
		return BlacklistResult{}, fmt.Errorf("failed to update block stats: %w", err)
	}
	doc.BlockStats = stats
	doc.UpdatedAt = now
	res.Matched, res.Modified = upd.Matched, upd.Modified
	return res, nil
}

// RecordViolation counts an offence against doc's user. Within WarnLifespan of
// the previous offence the count grows; reaching WarnCount blocks the user.
// An already blocked user is left alone.
func (b *Blacklist) RecordViolation(ctx context.Context, doc *types.UserDocument, policy ViolationPolicy, now time.Time) (Violation, error) {
	if doc.BlockStats.Blocked() {
		return Violation{Allowed: false, Count: 0, Message: " "}, nil
	}

	warnCount := policy.WarnCount
	if warnCount <= 0 {
		warnCount = defaultWarnCount
	}
	warnLifespan := policy.WarnLifespan
	if warnLifespan <= 0 {
		warnLifespan = defaultWarnLifespan
	}
	blockMessage := policy.BlockMessage
	if blockMessage == "" {
		blockMessage = DefaultBlockMessage
	}

	v := Violation{Allowed: true, Message: WarnMarker, Updated: true}
	if now.Sub(doc.BlockStats.LastOperateTime) >= warnLifespan {
		v.Count = 1
	} else {
		v.Count = doc.BlockStats.BlockCount + 1
		if v.Count >= warnCount {
			v.Allowed = false
			v.Message = blockMessage
		}
	}

	stats := types.BlockStats{BlockStatus: v.Allowed, BlockCount: v.Count, LastOperateTime: now}
	update := storage.SetFields(map[string]any{"block_stats": stats, "updated_at": now})

	var (
		res storage.UpdateResult
		err error
	)
	if policy.CrossGroup {
		res, err = b.store.UpdateMany(ctx, storage.Filter{BotID: doc.BotID, UserID: doc.UserID}, update)
	} else {
		res, err = b.store.UpdateOne(ctx, doc.Key(), update)
	}
	if err != nil {
		return Violation{}, fmt.Errorf("failed to record violation: %w", err)
	}
	doc.BlockStats = stats
	doc.UpdatedAt = now
	v.Matched, v.Modified = res.Matched, res.Modified

	if !v.Allowed {
		b.logger.Info("user blocked",
			zap.String("bot_id", doc.BotID),
			zap.String("group_id", doc.GroupID),
			zap.String("user_id", doc.UserID),
			zap.Int("block_count", v.Count),
			zap.Bool("cross_group", policy.CrossGroup),
		)
	}
	return v, nil
}
