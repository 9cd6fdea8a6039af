package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
	"github.com/easeaico/roza/internal/utils"
)

// ErrPermission is returned by Authorize for callers that are not bot admins.
var ErrPermission = errors.New("无管理员权限，无法执行此操作")

var errPreciseField = errors.New("set指令必须指定精确字段")

const (
	msgBadFormat      = "指令格式错误"
	msgRankNeedsField = "rank指令必须指定精确字段"
	msgWildcardPairs  = "any模式需要目标和值成对出现"
	msgPairs          = "参数数量不正确，对象和值必须成对出现"
	msgNotFound       = "未找到匹配的记录"
	msgNothing        = "无操作"

	defaultRankLimit = 5
	maxRankLimit     = 30
)

// Env is the caller's position: which bot and group the command was sent
// from, and the group settings that shape its scope.
type Env struct {
	BotID           string
	GroupID         string
	IsAdmin         bool
	ContextPoolSize int
	CrossGroup      types.CrossGroupFlags
}

// Authorize fails with ErrPermission for non-admin callers.
func (e Env) Authorize() error {
	if !e.IsAdmin {
		return ErrPermission
	}
	return nil
}

// LogEntry records one target's outcome.
type LogEntry struct {
	CommandType    string `json:"command_type"`
	OperationCount int64  `json:"operation_count"`
	Target         string `json:"target"`
	Result         string `json:"result"`
}

// Result is returned for every command. Validation failures set Success to
// false and explain themselves in Result.
type Result struct {
	Success       bool       `json:"success"`
	Result        string     `json:"result"`
	CommandType   string     `json:"command_type"`
	Parameters    []string   `json:"parameters"`
	MatchedCount  int64      `json:"matched_count"`
	ModifiedCount int64      `json:"modified_count"`
	Logs          []LogEntry `json:"logs"`
	Action        string     `json:"action"`
	TypeKey       string     `json:"type_key"`
	Field         string     `json:"field"`
	HasAny        bool       `json:"has_any"`
}

func (r *Result) fail(msg string) *Result {
	r.Success = false
	r.Result = msg
	return r
}

func (r *Result) log(cmd Command, count int64, target, outcome string) {
	r.Logs = append(r.Logs, LogEntry{CommandType: cmd.Label(), OperationCount: count, Target: target, Result: outcome})
}

// Interpreter executes commands against the document store.
type Interpreter struct {
	store   storage.DocumentStore
	prefix  string
	render  *renderer
	nowFunc func() time.Time
	logger  *zap.Logger
}

// New returns an Interpreter. Times in summaries are shown in loc.
func New(store storage.DocumentStore, prefix string, loc *time.Location, logger *zap.Logger) *Interpreter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		store:   store,
		prefix:  prefix,
		render:  newRenderer(loc),
		nowFunc: time.Now,
		logger:  logger,
	}
}

// WithClock overrides the clock used for updated_at stamps.
func (in *Interpreter) WithClock(now func() time.Time) *Interpreter {
	in.nowFunc = now
	return in
}

// Prefix is the command prefix this interpreter accepts.
func (in *Interpreter) Prefix() string {
	return in.prefix
}

// Execute parses and runs input. Store failures are returned as errors along
// with whatever partial result was produced.
func (in *Interpreter) Execute(ctx context.Context, env Env, input string) (*Result, error) {
	res := &Result{Parameters: []string{}, Logs: []LogEntry{}}
	if err := env.Authorize(); err != nil {
		return res.fail(err.Error()), nil
	}

	cmd, ok := Parse(in.prefix, input)
	res.Action, res.TypeKey, res.Field, res.HasAny = cmd.Action, cmd.Type, cmd.Field, cmd.Wildcard
	res.CommandType = cmd.Label()
	if cmd.Params != nil {
		res.Parameters = cmd.Params
	}
	spec, known := typeSpecs[cmd.Type]
	if !ok || !known {
		return res.fail(msgBadFormat), nil
	}

	logger := in.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("bot_id", env.BotID),
		zap.String("group_id", env.GroupID),
		zap.String("action", cmd.Action),
		zap.String("type", cmd.Type),
	)

	var err error
	switch cmd.Action {
	case ActionGet:
		err = in.get(ctx, env, cmd, spec, res)
	case ActionSet:
		err = in.set(ctx, env, cmd, spec, res)
	case ActionClear:
		err = in.clear(ctx, env, cmd, spec, res)
	case ActionRank:
		err = in.rank(ctx, env, cmd, spec, res)
	default:
		return res.fail(msgBadFormat), nil
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		return res, err
	}
	logger.Info("command executed",
		zap.Bool("success", res.Success),
		zap.Int64("matched", res.MatchedCount),
		zap.Int64("modified", res.ModifiedCount),
	)
	return res, nil
}

// scope builds the filter for a set or clear target. Outside wildcard mode a
// type whose cross-group flag is on reaches every group of the bot.
func scope(env Env, cmd Command, spec typeSpec, target string) storage.Filter {
	if cmd.Wildcard {
		return WildcardFilter(target)
	}
	f := storage.Filter{BotID: env.BotID}
	if !spec.crossGroup(env.CrossGroup) {
		f.GroupID = env.GroupID
	}
	if target != allTarget {
		f.UserID = target
	}
	return f
}

// readScope builds the filter for get. Reads outside wildcard mode stay in the current group.
func readScope(env Env, cmd Command, target string) storage.Filter {
	if cmd.Wildcard {
		return WildcardFilter(target)
	}
	f := storage.Filter{BotID: env.BotID, GroupID: env.GroupID}
	if target != allTarget {
		f.UserID = target
	}
	return f
}

func (in *Interpreter) get(ctx context.Context, env Env, cmd Command, spec typeSpec, res *Result) error {
	path := cmd.Field
	if f, ok := spec.field(cmd.Field); ok {
		path = f.path
	}

	var lines []string
	var queried int64
	for _, target := range cmd.Params {
		filter := readScope(env, cmd, target)
		var docs []types.UserDocument
		if target == allTarget || cmd.Wildcard {
			found, err := in.store.Find(ctx, filter, 0)
			if err != nil {
				return fmt.Errorf("failed to find documents: %w", err)
			}
			docs = found
		} else {
			doc, err := in.store.FindOne(ctx, filter)
			switch {
			case errors.Is(err, storage.ErrNotFound):
			case err != nil:
				return fmt.Errorf("failed to find document: %w", err)
			default:
				docs = []types.UserDocument{*doc}
			}
		}

		if len(docs) == 0 {
			lines = append(lines, fmt.Sprintf("[%s: 用户不存在]", target))
			res.log(cmd, 0, target, "not found")
			continue
		}
		for i := range docs {
			doc := &docs[i]
			val, err := in.value(doc, cmd.Type, path, env.ContextPoolSize)
			if err != nil {
				in.logger.Warn("failed to render document", zap.String("user_id", doc.UserID), zap.Error(err))
				val = msgRenderFail
			}
			lines = append(lines, fmt.Sprintf("[%s:\n%s]", doc.UserID, val))
			label := doc.UserID
			if label == "" {
				label = target
			}
			res.log(cmd, 1, label, "ok")
			queried++
		}
	}
	res.Success = true
	res.Result = joinLines(lines)
	res.MatchedCount = queried
	res.ModifiedCount = queried
	return nil
}

func (in *Interpreter) value(doc *types.UserDocument, typ, path string, poolSize int) (string, error) {
	if path != "" {
		return fieldValue(doc, path)
	}
	return in.render.summary(doc, typ, poolSize)
}

type assignment struct {
	target string
	value  string
}

func (in *Interpreter) set(ctx context.Context, env Env, cmd Command, spec typeSpec, res *Result) error {
	if cmd.Field == "" {
		res.fail(errPreciseField.Error())
		return nil
	}
	field, ok := spec.field(cmd.Field)
	if !ok {
		res.fail(fmt.Sprintf("%s类型不支持字段 %s", cmd.Type, cmd.Field))
		return nil
	}
	res.Field = field.path

	if len(cmd.Params)%2 != 0 || (cmd.Wildcard && len(cmd.Params) < 2) {
		if cmd.Wildcard {
			res.fail(msgWildcardPairs)
		} else {
			res.fail(msgPairs)
		}
		return nil
	}

	// Validate every value before touching the store.
	pairs := make([]assignment, 0, len(cmd.Params)/2)
	values := make([]any, 0, len(cmd.Params)/2)
	for i := 0; i < len(cmd.Params); i += 2 {
		v, err := field.coerce(cmd.Params[i+1])
		if err != nil {
			res.fail(err.Error())
			return nil
		}
		pairs = append(pairs, assignment{target: cmd.Params[i], value: cmd.Params[i+1]})
		values = append(values, v)
	}

	now := in.nowFunc()
	var lines []string
	var errs error
	for i, p := range pairs {
		fields := map[string]any{field.path: values[i], "updated_at": now}
		if field.path == "favor_value" {
			fields["last_favor_change"] = values[i]
		}
		upd, err := in.store.UpdateMany(ctx, scope(env, cmd, spec, p.target), storage.SetFields(fields))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to set %s for %s: %w", field.path, p.target, err))
			res.log(cmd, 0, p.target, "error")
			continue
		}
		res.MatchedCount += upd.Matched
		res.ModifiedCount += upd.Modified
		lines = append(lines, fmt.Sprintf("[%s: 设置完成，匹配%d，修改%d]", p.target, upd.Matched, upd.Modified))
		res.log(cmd, upd.Modified, p.target, outcome(upd.Matched))
	}
	res.Success = errs == nil
	res.Result = joinLines(lines)
	return errs
}

func (in *Interpreter) clear(ctx context.Context, env Env, cmd Command, spec typeSpec, res *Result) error {
	now := in.nowFunc()

	var fields map[string]any
	trim := false
	switch {
	case cmd.Field != "":
		field, ok := spec.field(cmd.Field)
		if !ok {
			res.fail(fmt.Sprintf("%s类型不支持字段 %s", cmd.Type, cmd.Field))
			return nil
		}
		res.Field = field.path
		fields = map[string]any{field.path: field.reset(now)}
	case spec.clear == nil:
		trim = true
	default:
		fields = spec.clear(now)
	}

	var lines []string
	var errs error
	for _, target := range cmd.Params {
		filter := scope(env, cmd, spec, target)
		var (
			upd storage.UpdateResult
			err error
		)
		if trim {
			upd, err = in.trimHistory(ctx, filter, env.ContextPoolSize, now)
		} else {
			update := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				update[k] = v
			}
			update["updated_at"] = now
			upd, err = in.store.UpdateMany(ctx, filter, storage.SetFields(update))
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to clear %s for %s: %w", cmd.Type, target, err))
			res.log(cmd, 0, target, "error")
			continue
		}
		res.MatchedCount += upd.Matched
		res.ModifiedCount += upd.Modified
		lines = append(lines, fmt.Sprintf("[%s: 清空完成，匹配%d，修改%d]", target, upd.Matched, upd.Modified))
		res.log(cmd, upd.Modified, target, outcome(upd.Matched))
	}
	res.Success = errs == nil
	res.Result = joinLines(lines)
	return errs
}

// trimHistory drops the newest poolSize history entries of every matching
// document. A pool size of zero keeps everything.
func (in *Interpreter) trimHistory(ctx context.Context, filter storage.Filter, poolSize int, now time.Time) (storage.UpdateResult, error) {
	docs, err := in.store.Find(ctx, filter, 0)
	if err != nil {
		return storage.UpdateResult{}, fmt.Errorf("failed to find documents: %w", err)
	}
	out := storage.UpdateResult{Matched: int64(len(docs))}
	if poolSize <= 0 {
		return out, nil
	}
	for i := range docs {
		hist := docs[i].HistoryEntries
		if len(hist) == 0 {
			continue
		}
		keep := hist[:max(len(hist)-poolSize, 0)]
		upd, err := in.store.UpdateOne(ctx, docs[i].Key(), storage.SetFields(map[string]any{
			"history_entries": keep,
			"updated_at":      now,
		}))
		if err != nil {
			return out, fmt.Errorf("failed to trim history: %w", err)
		}
		out.Modified += upd.Modified
	}
	return out, nil
}

type ranked struct {
	userID string
	value  float64
}

func (in *Interpreter) rank(ctx context.Context, env Env, cmd Command, spec typeSpec, res *Result) error {
	if cmd.Field == "" {
		res.fail(msgRankNeedsField)
		return nil
	}
	if len(spec.rankFields) == 0 {
		res.fail(fmt.Sprintf("rank指令不支持 %s 类型，支持类型: %s", cmd.Type, strings.Join(rankTypes, ", ")))
		return nil
	}
	path, ok := spec.rankField(cmd.Field)
	if !ok {
		res.fail(fmt.Sprintf("rank指令不支持 %s 类型的 %s 字段", cmd.Type, cmd.Field))
		return nil
	}
	res.Field = path

	filter := storage.Filter{BotID: env.BotID, GroupID: env.GroupID}
	limitParam := ""
	if cmd.Wildcard {
		filter = WildcardFilter(cmd.Params[0])
		if len(cmd.Params) > 1 {
			limitParam = cmd.Params[1]
		}
	} else if cmd.Params[0] != allTarget {
		limitParam = cmd.Params[0]
	}
	limit := defaultRankLimit
	if limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil {
			res.fail(fmt.Sprintf("limit 必须是整数，得到: %s", limitParam))
			return nil
		}
		limit = n
	}
	limit = min(max(limit, 1), maxRankLimit)

	docs, err := in.store.Find(ctx, filter, 0)
	if err != nil {
		return fmt.Errorf("failed to find documents: %w", err)
	}
	rows := make([]ranked, 0, len(docs))
	for i := range docs {
		m, err := utils.ToMap(&docs[i])
		if err != nil {
			return err
		}
		v, _ := utils.GetPath(m, path)
		rows = append(rows, ranked{userID: strings.TrimSpace(docs[i].UserID), value: sortKey(v)})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].value > rows[j].value })
	if len(rows) > limit {
		rows = rows[:limit]
	}

	res.Success = true
	if len(rows) == 0 {
		res.Result = msgNotFound
		return nil
	}
	lines := make([]string, 0, len(rows))
	for i, row := range rows {
		value := strconv.FormatFloat(row.value, 'f', -1, 64)
		lines = append(lines, fmt.Sprintf("第 %d 名: 用户 %s, 值: %s", i+1, row.userID, value))
		res.log(cmd, 1, row.userID, fmt.Sprintf("rank=%d, value=%s", i+1, value))
	}
	res.Result = joinLines(lines)
	res.MatchedCount = int64(len(rows))
	res.ModifiedCount = int64(len(rows))
	return nil
}

// sortKey orders arrays by length, numbers by value, and numeric strings by
// their parsed value. Everything else sorts as zero.
func sortKey(v any) float64 {
	switch val := v.(type) {
	case []any:
		return float64(len(val))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	}
	if f, ok := utils.Number(v); ok {
		return f
	}
	return 0
}

func outcome(matched int64) string {
	if matched > 0 {
		return "ok"
	}
	return "not found"
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return msgNothing
	}
	return strings.Join(lines, "\n\n")
}
