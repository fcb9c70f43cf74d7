// Package harness implements the safety harness (spec §4.6): one instance
// per thread, running inside that thread's subprocess, driving the per-turn
// loop — limit checks, cancellation, model calls, tool-call permission
// checks and dispatch, context-pressure handoff, and checkpointing.
package harness

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/continuation"
	"github.com/ryehost/rye/internal/dispatcher"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/modelprovider"
	"github.com/ryehost/rye/internal/telemetry"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/transcript"
)

// estimateTokensPerChar mirrors continuation's crude token estimator (spec
// §4.6 context_ratio): no tokenizer dependency, ~4 chars/token.
const estimateTokensPerChar = 4

// internalWhitelist names tool ids always allowed regardless of a thread's
// capability set (spec §4.6 "A whitelisted set of internal tool ids always
// allowed").
var internalWhitelist = map[string]bool{
	"internal/noop": true,
}

// Limits bounds one thread's resource consumption (spec §4.6 "for each
// policy in [turns, tokens, spend, duration, spawns]").
type Limits struct {
	MaxTurns    int
	MaxTokens   int
	MaxSpend    int64
	MaxDuration time.Duration
	MaxSpawns   int
}

// Cost accumulates a thread's consumption across turns.
type Cost struct {
	Turns  int
	Tokens int
	Spend  int64
	Spawns int
	Start  time.Time
}

func (c Cost) exceeds(l Limits) (hosterr.Kind, bool) {
	switch {
	case l.MaxTurns > 0 && c.Turns >= l.MaxTurns:
		return hosterr.LimitExceeded, true
	case l.MaxTokens > 0 && c.Tokens >= l.MaxTokens:
		return hosterr.LimitExceeded, true
	case l.MaxSpend > 0 && c.Spend >= l.MaxSpend:
		return hosterr.LimitExceeded, true
	case l.MaxDuration > 0 && time.Since(c.Start) >= l.MaxDuration:
		return hosterr.LimitExceeded, true
	case l.MaxSpawns > 0 && c.Spawns >= l.MaxSpawns:
		return hosterr.LimitExceeded, true
	default:
		return "", false
	}
}

// Hooks are optional callbacks invoked around each turn (spec §4.6
// "before_turn_hooks.run()" / "after_turn_hooks.run({cost, context_ratio})").
type Hooks struct {
	BeforeTurn func(ctx context.Context)
	AfterTurn  func(ctx context.Context, cost Cost, contextRatio float64)
}

// ToolCallHandler executes one model-issued tool call via the dispatcher and
// returns its result as a modelprovider.ToolResult.
type ToolCallHandler func(ctx context.Context, call modelprovider.ToolCall) (modelprovider.ToolResult, error)

// Harness drives one thread's per-turn loop.
type Harness struct {
	threadID     string
	threads      *threadstore.Store
	model        modelprovider.Client
	dispatcher   *dispatcher.Dispatcher
	continuation *continuation.Engine
	ledger       *transcript.Ledger
	capabilities capability.Set
	limits       Limits
	hooks        Hooks
	tracer       telemetry.Tracer
	logger       telemetry.Logger

	handoffThreshold float64
	sentinelPath     string // cancellation sentinel file under the thread's directory
	checkpointEvery  int

	cost Cost
}

// Option configures a Harness at construction time.
type Option func(*Harness)

// WithHooks installs before/after-turn hooks.
func WithHooks(h Hooks) Option { return func(h2 *Harness) { h2.hooks = h } }

// WithHandoffThreshold overrides the default 0.9 context_ratio handoff
// trigger (spec §4.6).
func WithHandoffThreshold(t float64) Option { return func(h *Harness) { h.handoffThreshold = t } }

// WithCancellationSentinel sets the path the harness polls between turns
// (spec §4.6 "Cancellation").
func WithCancellationSentinel(path string) Option { return func(h *Harness) { h.sentinelPath = path } }

// WithCheckpointEvery sets how many turns elapse between checkpoint events;
// 0 disables periodic checkpointing beyond the per-turn append.
func WithCheckpointEvery(n int) Option { return func(h *Harness) { h.checkpointEvery = n } }

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(h *Harness) {
		h.tracer = t
		h.logger = l
	}
}

// New constructs a Harness for one thread.
func New(threadID string, threads *threadstore.Store, model modelprovider.Client, d *dispatcher.Dispatcher,
	cont *continuation.Engine, led *transcript.Ledger, caps capability.Set, limits Limits, opts ...Option) *Harness {
	h := &Harness{
		threadID: threadID, threads: threads, model: model, dispatcher: d, continuation: cont,
		ledger: led, capabilities: caps, limits: limits,
		handoffThreshold: 0.9, checkpointEvery: 5,
		tracer: telemetry.NewNoopTracer(), logger: telemetry.NewNoopLogger(),
		cost: Cost{Start: time.Now()},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunOutcome reports why the per-turn loop stopped.
type RunOutcome struct {
	Status       threadstore.Status
	HandoffTo    string // non-empty when a continuation handoff occurred
	StoppedCause string
}

// Run drives the per-turn loop until the thread reaches a terminal status,
// is suspended by a limit, is cancelled, or hands off to a successor (spec
// §4.6 pseudocode).
func (h *Harness) Run(ctx context.Context, messages []modelprovider.Message, tools []modelprovider.ToolDefinition, handle ToolCallHandler) (*RunOutcome, error) {
	ctx, span := h.tracer.Start(ctx, "harness.Run")
	defer span.End()

	for {
		if kind, exceeded := h.cost.exceeds(h.limits); exceeded {
			h.threads.SetStatus(ctx, h.threadID, threadstore.StatusSuspended)
			h.logAppend(transcript.Part{Kind: transcript.PartEvent, Event: "suspended_by_limit"})
			return &RunOutcome{Status: threadstore.StatusSuspended, StoppedCause: string(kind)}, nil
		}

		if h.cancelled() {
			h.threads.SetStatus(ctx, h.threadID, threadstore.StatusCancelled)
			h.logAppend(transcript.Part{Kind: transcript.PartEvent, Event: "cancelled"})
			return &RunOutcome{Status: threadstore.StatusCancelled}, nil
		}

		if h.hooks.BeforeTurn != nil {
			h.hooks.BeforeTurn(ctx)
		}

		resp, err := h.model.Complete(ctx, modelprovider.Request{Messages: messages, Tools: tools})
		if err != nil {
			span.SetError(err)
			h.threads.SetStatus(ctx, h.threadID, threadstore.StatusError)
			return nil, hosterr.Wrap(hosterr.ValidationError, err, "model call failed for thread %q", h.threadID)
		}
		h.cost.Turns++
		h.cost.Tokens += resp.Usage.Total()
		messages = append(messages, resp.Message)
		h.logAppend(transcript.Part{Kind: transcript.PartText, Role: string(modelprovider.RoleAssistant), Text: resp.Message.Text})

		contextRatio := float64(h.estimateContextTokens(messages)) / float64(max1(h.model.ContextWindow()))
		if h.hooks.AfterTurn != nil {
			h.hooks.AfterTurn(ctx, h.cost, contextRatio)
		}

		if contextRatio >= h.handoffThreshold {
			result, err := h.continuation.Handoff(ctx, continuation.HandoffRequest{
				ThreadID: h.threadID, Messages: messages, Ledger: h.ledger,
			})
			if err != nil {
				span.SetError(err)
				return nil, err
			}
			return &RunOutcome{Status: threadstore.StatusContinued, HandoffTo: result.NewThreadID}, nil
		}

		for _, call := range resp.Message.ToolCalls {
			if denial := h.checkPermission(call); denial != nil {
				result := modelprovider.ToolResult{ToolCallID: call.ID, Content: denial.Error(), IsError: true}
				messages = append(messages, modelprovider.Message{Role: RoleToolResult(), ToolResults: []modelprovider.ToolResult{result}})
				h.logAppend(transcript.Part{Kind: transcript.PartToolResult, ToolName: call.Name, Result: mustJSON(result)})
				continue
			}
			h.cost.Spawns++
			result, err := handle(ctx, call)
			if err != nil {
				result = modelprovider.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
			}
			messages = append(messages, modelprovider.Message{Role: RoleToolResult(), ToolResults: []modelprovider.ToolResult{result}})
			h.logAppend(transcript.Part{Kind: transcript.PartToolResult, ToolName: call.Name, Result: mustJSON(result)})
		}

		if h.checkpointEvery > 0 && h.cost.Turns%h.checkpointEvery == 0 {
			if _, err := h.ledger.Checkpoint(); err != nil {
				h.logger.Warn(ctx, "checkpoint failed", "thread_id", h.threadID, "err", err)
			}
		}
	}
}

// RoleToolResult is the conversation role tool-result messages are appended
// under; kept as a function rather than a constant re-export so callers
// never need to import modelprovider just for this one value.
func RoleToolResult() modelprovider.Role { return modelprovider.Role("tool") }

// checkPermission implements check(verb, kind, id) (spec §4.6 "Permission
// check"): whitelist first, then fail-closed on empty capabilities, then
// glob match against the required capability string.
func (h *Harness) checkPermission(call modelprovider.ToolCall) error {
	if internalWhitelist[call.Name] {
		return nil
	}
	if len(h.capabilities) == 0 {
		return hosterr.New(hosterr.PermissionDenied, "thread %q has no capabilities; denying %q", h.threadID, call.Name)
	}
	required := capability.Required("execute", "tool", call.Name)
	if !h.capabilities.Allows(required) {
		return hosterr.New(hosterr.PermissionDenied, "thread %q capabilities do not permit %q", h.threadID, required)
	}
	return nil
}

// cancelled implements spec §4.6 "Cancellation": a sentinel file under the
// thread's directory signals an external cancel request.
func (h *Harness) cancelled() bool {
	if h.sentinelPath == "" {
		return false
	}
	_, err := os.Stat(h.sentinelPath)
	return err == nil
}

func (h *Harness) estimateContextTokens(messages []modelprovider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Text) / estimateTokensPerChar
		for _, r := range m.ToolResults {
			total += len(r.Content) / estimateTokensPerChar
		}
	}
	return total
}

func (h *Harness) logAppend(p transcript.Part) {
	if h.ledger == nil {
		return
	}
	if err := h.ledger.Append(p); err != nil {
		h.logger.Warn(context.Background(), "transcript append failed", "thread_id", h.threadID, "err", err)
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
