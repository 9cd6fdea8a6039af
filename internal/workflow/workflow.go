package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/augment"
	"github.com/easeaico/roza/internal/gate"
	"github.com/easeaico/roza/internal/lifecycle"
	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/types"
)

// Result is the flat record returned to the caller. Stages that did not run
// keep their placeholder values.
type Result struct {
	RequestID     string     `json:"request_id"`
	StopReason    StopReason `json:"stop_reason"`
	StopMessage   string     `json:"stop_message"`
	StepStoppedAt int        `json:"step_stopped_at"`
	MainPrompt    string     `json:"main_prompt"`

	BlockStatus  string `json:"block_status"`
	BlockMessage string `json:"block_message"`

	InputLength int `json:"step2_input_length"`
	MaxLength   int `json:"step2_max_length"`

	CurrentUsage int    `json:"step3_current_usage"`
	UsageLimit   int    `json:"step3_usage_limit"`
	UsageDate    string `json:"step3_usage_date"`

	FavorValue  int    `json:"favor_value"`
	FavorPrompt string `json:"favor_prompt"`

	Persona string `json:"persona"`

	Context      string `json:"context"`
	ContextCount int    `json:"step6_context_count"`

	HitMemories string `json:"step7_hit_memories"`
}

func newResult(id, mainPrompt string) *Result {
	return &Result{
		RequestID:    id,
		MainPrompt:   mainPrompt,
		StopMessage:  " ",
		BlockStatus:  gate.StatusPass,
		BlockMessage: " ",
		UsageDate:    " ",
		FavorPrompt:  " ",
		Persona:      " ",
		Context:      " ",
		HitMemories:  " ",
	}
}

// Orchestrator runs the stages in order and stops at the first gate that refuses.
type Orchestrator struct {
	lifecycle *lifecycle.Lifecycle
	blacklist *gate.Blacklist
	usage     *gate.Usage
	memory    *augment.Memory
	loc       *time.Location
	rnd       *rand.Rand
	logger    *zap.Logger
}

// New returns an Orchestrator over store. Dates and history times are read in
// loc; rnd picks configured replies and may be nil.
func New(store storage.DocumentStore, loc *time.Location, rnd *rand.Rand, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		lifecycle: lifecycle.New(store, logger),
		blacklist: gate.NewBlacklist(store, logger),
		usage:     gate.NewUsage(store, loc, rnd, logger),
		memory:    augment.NewMemory(store, logger),
		loc:       loc,
		rnd:       rnd,
		logger:    logger,
	}
}

// WithClock overrides the clock used when documents are created.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.lifecycle.WithClock(now)
	return o
}

type run struct {
	req        Request
	doc        *types.UserDocument
	lastActive time.Time
	prompt     string
	res        *Result
	logger     *zap.Logger
}

// Run resolves the user's document and walks it through every stage.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	logger := o.logger.With(
		zap.String("request_id", id),
		zap.String("bot_id", req.Key.BotID),
		zap.String("group_id", req.Key.GroupID),
		zap.String("user_id", req.Key.UserID),
	)
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	doc, err := o.lifecycle.Resolve(ctx, req.Key, req.CrossGroup)
	if err != nil {
		logger.Error("failed to resolve user document", zap.Error(err))
		return nil, err
	}

	r := &run{
		req:        req,
		doc:        doc,
		lastActive: doc.UpdatedAt,
		prompt:     req.MainPrompt,
		res:        newResult(id, req.MainPrompt),
		logger:     logger,
	}

	state := StateBlacklistCheck
	for !state.Terminal() {
		next, err := o.step(ctx, state, r)
		if err != nil {
			logger.Error("workflow stage failed", zap.Stringer("state", state), zap.Error(err))
			return nil, fmt.Errorf("%s: %w", state, err)
		}
		if next == StateReject {
			r.res.StepStoppedAt = state.Step()
			logger.Info("request rejected",
				zap.Stringer("state", state),
				zap.String("stop_reason", string(r.res.StopReason)),
			)
		}
		state = next
	}

	if state == StateFinish {
		r.res.StopReason = StopFinish
		r.res.StopMessage = " "
		r.res.StepStoppedAt = StateMemoryPrompt.Step()
		r.res.MainPrompt = r.prompt
		logger.Debug("workflow finished", zap.Int("prompt_length", len(r.prompt)))
	}
	return r.res, nil
}

func (o *Orchestrator) step(ctx context.Context, state State, r *run) (State, error) {
	switch state {
	case StateBlacklistCheck:
		return o.checkBlacklist(ctx, r)
	case StateInputLengthCheck:
		return o.checkInputLength(r), nil
	case StateUsageLimitCheck:
		return o.checkUsage(ctx, r)
	case StateFavorPrompt:
		o.favorPrompt(r)
	case StatePersonaPrompt:
		o.personaPrompt(r)
	case StateContextPrompt:
		o.contextPrompt(r)
	case StateMemoryPrompt:
		if err := o.memoryPrompt(ctx, r); err != nil {
			return StateReject, err
		}
	default:
		return StateReject, fmt.Errorf("unknown state %d", state)
	}
	return state.next(), nil
}

func (o *Orchestrator) checkBlacklist(ctx context.Context, r *run) (State, error) {
	res, err := o.blacklist.Check(ctx, r.doc, r.req.Blacklist, r.req.IsAdmin, r.req.Now)
	if err != nil {
		return StateReject, err
	}
	r.res.BlockStatus = res.Status
	r.res.BlockMessage = res.Message
	if !res.Allowed {
		r.res.StopReason = StopBlock
		r.res.StopMessage = res.Message
		return StateReject, nil
	}
	return StateInputLengthCheck, nil
}

func (o *Orchestrator) checkInputLength(r *run) State {
	res := gate.CheckInputLength(r.req.UserQuery, r.req.MaxInputSize, r.req.OverinputOutput, o.rnd)
	r.res.InputLength = res.Length
	r.res.MaxLength = res.MaxLength
	if !res.Allowed {
		r.res.StopReason = StopInputTooLong
		r.res.StopMessage = res.Message
		return StateReject
	}
	return StateUsageLimitCheck
}

func (o *Orchestrator) checkUsage(ctx context.Context, r *run) (State, error) {
	res, err := o.usage.Check(ctx, r.doc, r.lastActive, r.req.Usage, r.req.IsAdmin, r.req.Today, r.req.Now)
	if err != nil {
		return StateReject, err
	}
	r.res.CurrentUsage = res.Current
	r.res.UsageLimit = res.Limit
	r.res.UsageDate = res.Date
	if !res.Allowed {
		r.res.StopReason = StopOverusage
		r.res.StopMessage = res.Message
		return StateReject, nil
	}
	return StateFavorPrompt, nil
}

func (o *Orchestrator) favorPrompt(r *run) {
	if !r.req.FavorEnabled {
		r.res.FavorPrompt = ""
		return
	}
	res := augment.FavorPrompt(r.doc, r.req.FavorPrompts, r.req.FavorSplitPoints, r.prompt)
	r.res.FavorValue = res.Value
	r.res.FavorPrompt = res.Prompt
	r.prompt = res.Main
}

func (o *Orchestrator) personaPrompt(r *run) {
	if !r.req.PersonaEnabled {
		r.res.Persona = ""
		return
	}
	res := augment.PersonaPrompt(r.doc, r.prompt)
	r.res.Persona = res.Text
	r.prompt = res.Main
}

func (o *Orchestrator) contextPrompt(r *run) {
	if !r.req.ContextEnabled {
		r.res.Context = ""
		return
	}
	res := augment.ContextPrompt(r.doc, r.req.ContextPoolSize, o.loc, r.prompt)
	r.res.Context = res.Text
	r.res.ContextCount = res.Count
	r.prompt = res.Main
}

func (o *Orchestrator) memoryPrompt(ctx context.Context, r *run) error {
	hits := []augment.HitMemory{}
	if r.req.MemoryEnabled {
		res, err := o.memory.Retrieve(ctx, r.doc, r.req.UserQuery, r.req.MemoryRetrievalNumber, r.prompt, r.req.Now)
		if err != nil {
			return err
		}
		hits = res.Hits
		r.prompt = res.Main
	}
	encoded, err := encodeHits(hits)
	if err != nil {
		return err
	}
	r.res.HitMemories = encoded
	return nil
}

func encodeHits(hits []augment.HitMemory) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(hits); err != nil {
		return "", fmt.Errorf("failed to encode hit memories: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
