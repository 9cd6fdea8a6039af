package gate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

const (
	// DefaultOverusageMessage is used when no over-usage reply is configured.
	DefaultOverusageMessage = "今日用量已达上限"
	// ClockSkewMessage rejects requests dated before the user's last activity.
	ClockSkewMessage = "日期异常，请稍后重试"
)

// Date is a calendar day compared as YYYYMMDD.
type Date struct {
	Year  int
	Month int
	Day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// ParseDate builds a Date from loosely typed parts, falling back to 1970-01-01.
func ParseDate(year, month, day string) Date {
	d := Date{
		Year:  types.SafeInt(year, 1970),
		Month: types.SafeInt(month, 1),
		Day:   types.SafeInt(day, 1),
	}
	if d.Year < 0 || d.Year > 9999 || d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return Date{Year: 1970, Month: 1, Day: 1}
	}
	return d
}

// Value is the YYYYMMDD integer form.
func (d Date) Value() int {
	return d.Year*10000 + d.Month*100 + d.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}

// UsagePolicy configures the daily usage check.
type UsagePolicy struct {
	Enabled        bool
	RestrictAdmins bool
	Limit          int
	Replies        types.MessagePool
}

// UsageResult is the outcome of Check.
type UsageResult struct {
	Allowed  bool
	Message  string
	Current  int
	Limit    int
	Date     string
	Matched  int64
	Modified int64
}

// Usage enforces the per-day request quota.
type Usage struct {
	store  storage.DocumentStore
	loc    *time.Location
	rnd    *rand.Rand
	logger *zap.Logger
}

// NewUsage returns a Usage gate. Last activity dates are read in loc.
func NewUsage(store storage.DocumentStore, loc *time.Location, rnd *rand.Rand, logger *zap.Logger) *Usage {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Usage{store: store, loc: loc, rnd: rnd, logger: logger}
}

// Check counts one request for today. lastActive is the document's updated_at
// as it was when the request started; a later day resets the counter to 1.
// A request at exactly the limit still passes.
func (u *Usage) Check(ctx context.Context, doc *types.UserDocument, lastActive time.Time, policy UsagePolicy, isAdmin bool, today Date, now time.Time) (UsageResult, error) {
	if Skip(policy.Enabled, policy.RestrictAdmins, isAdmin) {
		return UsageResult{Allowed: true, Message: " ", Date: today.String()}, nil
	}

	last := Date{Year: 1970, Month: 1, Day: 1}
	if !lastActive.IsZero() {
		last = DateOf(lastActive.In(u.loc))
	}

	res := UsageResult{Allowed: true, Message: " ", Current: doc.DailyUsageCount, Limit: policy.Limit, Date: today.String()}
	switch {
	case today.Value() > last.Value():
		res.Current = 1
	case today.Value() < last.Value():
		res.Allowed = false
		res.Message = ClockSkewMessage
	case res.Current <= policy.Limit:
		res.Current++
	default:
		res.Allowed = false
		res.Message = policy.Replies.Pick(u.rnd, DefaultOverusageMessage)
	}
	if !res.Allowed {
		u.logger.Debug("usage rejected",
			zap.String("bot_id", doc.BotID),
			zap.String("group_id", doc.GroupID),
			zap.String("user_id", doc.UserID),
			zap.Int("current", res.Current),
			zap.Int("limit", policy.Limit),
		)
		return res, nil
	}

	upd, err := u.store.UpdateOne(ctx, doc.Key(), storage.SetFields(map[string]any{
		"daily_usage_count": res.Current,
		"updated_at":        now,
	}))
	if err != nil {
		return UsageResult{}, fmt.Errorf("failed to update daily usage: %w", err)
	}
	doc.DailyUsageCount = res.Current
	doc.UpdatedAt = now
	res.Matched, res.Modified = upd.Matched, upd.Modified
	return res, nil
}
