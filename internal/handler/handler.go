// Package handler exposes the core operations as named nodes that take and
// return JSON, so a workflow platform can call them one step at a time.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/easeaico/roza/internal/augment"
	"github.com/easeaico/roza/internal/command"
	"github.com/easeaico/roza/internal/config"
	"github.com/easeaico/roza/internal/gate"
	"github.com/easeaico/roza/internal/history"
	"github.com/easeaico/roza/internal/lifecycle"
	"github.com/easeaico/roza/internal/preprocess"
	"github.com/easeaico/roza/internal/storage"
	"github.com/easeaico/roza/internal/workflow"
)

// ErrUnknownNode is returned by Dispatch for unregistered node names.
var ErrUnknownNode = errors.New("unknown node")

// Node runs one operation on a JSON input.
type Node func(ctx context.Context, input json.RawMessage) (any, error)

// Request is the envelope read by the platform runner.
type Request struct {
	Node  string          `json:"node"`
	Input json.RawMessage `json:"input"`
}

// Response is the envelope written back. Error is set instead of Output on failure.
type Response struct {
	Node   string `json:"node"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Options tunes a Handler.
type Options struct {
	Location      *time.Location
	CommandPrefix string
	Rand          *rand.Rand
}

// Handler owns the services behind every node.
type Handler struct {
	configs      storage.ConfigStore
	resolver     *config.Resolver
	lifecycle    *lifecycle.Lifecycle
	orchestrator *workflow.Orchestrator
	interpreter  *command.Interpreter
	favor        *augment.Favor
	blacklist    *gate.Blacklist
	recorder     *history.Recorder
	preprocessor *preprocess.Preprocessor

	loc     *time.Location
	rnd     *rand.Rand
	nowFunc func() time.Time
	logger  *zap.Logger
	nodes   map[string]Node
}

// New wires a Handler over the given stores.
func New(docs storage.DocumentStore, configs storage.ConfigStore, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = config.BeijingTime()
	}
	h := &Handler{
		configs:      configs,
		resolver:     config.NewResolver(configs, logger),
		lifecycle:    lifecycle.New(docs, logger),
		orchestrator: workflow.New(docs, opts.Location, opts.Rand, logger),
		interpreter:  command.New(docs, opts.CommandPrefix, opts.Location, logger),
		favor:        augment.NewFavor(docs, logger),
		blacklist:    gate.NewBlacklist(docs, logger),
		recorder:     history.NewRecorder(docs, logger),
		preprocessor: preprocess.New(opts.CommandPrefix, opts.Location),
		loc:          opts.Location,
		rnd:          opts.Rand,
		nowFunc:      time.Now,
		logger:       logger,
	}
	h.nodes = map[string]Node{
		"preprocess":        h.preprocess,
		"config":            h.config,
		"workflow":          h.workflow,
		"command":           h.command,
		"favor":             h.applyFavor,
		"blacklist":         h.recordViolation,
		"history":           h.recordHistory,
		"llm_output":        h.llmOutput,
		"structured_output": h.structuredOutput,
	}
	return h
}

// WithClock overrides the time source of every node.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.nowFunc = now
	h.lifecycle.WithClock(now)
	h.interpreter.WithClock(now)
	h.recorder.WithClock(now)
	h.orchestrator.WithClock(now)
	return h
}

// Register adds or replaces a node.
func (h *Handler) Register(name string, node Node) {
	h.nodes[name] = node
}

// Nodes lists the registered node names.
func (h *Handler) Nodes() []string {
	names := make([]string, 0, len(h.nodes))
	for name := range h.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs req and always returns a Response; failures are reported in
// Response.Error and returned.
func (h *Handler) Dispatch(ctx context.Context, req Request) (Response, error) {
	resp := Response{Node: req.Node}
	node, ok := h.nodes[req.Node]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownNode, req.Node)
		resp.Error = err.Error()
		return resp, err
	}
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	out, err := wrap(h.logger, req.Node, node)(ctx, input)
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	resp.Output = out
	return resp, nil
}

func decode[T any](input json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("failed to decode input: %w", err)
	}
	return v, nil
}
