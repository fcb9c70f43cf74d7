// Package continuation implements the automatic and user-initiated handoff
// between threads when context-window pressure or explicit resume requires
// spawning a successor thread that continues a predecessor's work (spec
// §4.7).
package continuation

import (
	"context"
	"encoding/json"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/modelprovider"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/telemetry"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/transcript"
)

// estimateTokensPerChar is the same crude token estimator the harness uses
// for context_ratio (spec §4.6): ~4 characters per token, good enough for a
// budget heuristic without a tokenizer dependency.
const estimateTokensPerChar = 4

// Summarizer invokes a bounded child thread that reduces messages to a
// structured summary string (spec §4.7 phase 1, "optional").
type Summarizer interface {
	Summarize(ctx context.Context, parentThreadID string, messages []modelprovider.Message) (string, error)
}

// Engine drives the 5-phase handoff over the thread registry and
// orchestrator.
type Engine struct {
	threads             *threadstore.Store
	orchestrator        *orchestrator.Orchestrator
	summarizer          Summarizer // optional; nil skips phase 1
	resumeCeilingTokens int
	tracer              telemetry.Tracer
	logger              telemetry.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSummarizer installs a Summarizer for phase 1; without one, phase 1 is
// always skipped (spec §4.7: "otherwise skip").
func WithSummarizer(s Summarizer) Option { return func(e *Engine) { e.summarizer = s } }

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(e *Engine) {
		e.tracer = t
		e.logger = l
	}
}

// New constructs an Engine. resumeCeilingTokens defaults to 16000 when <= 0
// (spec §4.7 phase 2 default).
func New(threads *threadstore.Store, o *orchestrator.Orchestrator, resumeCeilingTokens int, opts ...Option) *Engine {
	if resumeCeilingTokens <= 0 {
		resumeCeilingTokens = 16000
	}
	e := &Engine{
		threads: threads, orchestrator: o, resumeCeilingTokens: resumeCeilingTokens,
		tracer: telemetry.NewNoopTracer(), logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandoffRequest carries the predecessor thread's identity and full message
// history (user-resume passes the whole transcript; automatic handoff
// passes the in-memory messages the harness has accumulated this run).
type HandoffRequest struct {
	ThreadID     string
	RootArtifact string // tool/workflow id to re-spawn as the successor's directive
	Messages     []modelprovider.Message
	Ledger       *transcript.Ledger // old thread's transcript, for phase 5 logging
}

// HandoffResult is the new successor thread's identity.
type HandoffResult struct {
	NewThreadID string
	Summary     string
	TrailingLen int
}

// Handoff runs the 5-phase automatic (or user-initiated) handoff (spec
// §4.7): optional summarize, trailing-message fill bounded by
// resumeCeilingTokens, spawn successor, link the continuation chain, and log
// a thread_continued event to the old thread's transcript.
func (e *Engine) Handoff(ctx context.Context, req HandoffRequest) (*HandoffResult, error) {
	ctx, span := e.tracer.Start(ctx, "continuation.Handoff")
	defer span.End()

	old, err := e.threads.Get(ctx, req.ThreadID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	var summary string
	if e.summarizer != nil {
		summary, err = e.summarizer.Summarize(ctx, req.ThreadID, req.Messages)
		if err != nil {
			span.SetError(err)
			return nil, hosterr.Wrap(hosterr.ValidationError, err, "summarizing thread %q for handoff", req.ThreadID)
		}
	}

	trailing := trailingFill(req.Messages, e.resumeCeilingTokens)
	trailing = ensureStartsWithUser(trailing)

	params := map[string]string{"continue": "true"}
	if summary != "" {
		params["summary"] = summary
	}

	res, err := e.orchestrator.Spawn(ctx, orchestrator.SpawnRequest{
		ParentID: old.ParentID, RootArtifact: req.RootArtifact, Params: params,
		Capabilities: old.Capabilities, MaxSpend: old.MaxSpend,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if err := e.threads.SetContinuation(ctx, req.ThreadID, res.ThreadID); err != nil {
		span.SetError(err)
		return nil, err
	}

	if req.Ledger != nil {
		payload, _ := json.Marshal(map[string]any{"new_thread_id": res.ThreadID, "trailing_count": len(trailing)})
		if err := req.Ledger.Append(transcript.Part{Kind: transcript.PartEvent, Event: "thread_continued", Result: payload}); err != nil {
			e.logger.Warn(ctx, "failed to log thread_continued event", "thread_id", req.ThreadID, "err", err)
		}
	}

	e.logger.Info(ctx, "handed off thread", "old", req.ThreadID, "new", res.ThreadID, "trailing", len(trailing))
	return &HandoffResult{NewThreadID: res.ThreadID, Summary: summary, TrailingLen: len(trailing)}, nil
}

// trailingFill accumulates messages from the most recent backward until the
// next one would push the estimated token count past ceiling (spec §4.7
// phase 2).
func trailingFill(messages []modelprovider.Message, ceilingTokens int) []modelprovider.Message {
	var out []modelprovider.Message
	tokens := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := estimateTokens(messages[i])
		if tokens+cost > ceilingTokens && len(out) > 0 {
			break
		}
		out = append([]modelprovider.Message{messages[i]}, out...)
		tokens += cost
	}
	return out
}

// ensureStartsWithUser trims leading non-user messages so the resumed
// conversation always opens on a user turn (spec §4.7 phase 2).
func ensureStartsWithUser(messages []modelprovider.Message) []modelprovider.Message {
	for i, m := range messages {
		if m.Role == modelprovider.RoleUser {
			return messages[i:]
		}
	}
	return nil
}

func estimateTokens(m modelprovider.Message) int {
	n := len(m.Text) / estimateTokensPerChar
	for _, r := range m.ToolResults {
		n += len(r.Content) / estimateTokensPerChar
	}
	return n
}

// ChainOf resolves the full continuation chain containing threadID,
// oldest-first (spec §4.7 "Chain resolution", delegating to threadstore's
// cycle-safe walk).
func ChainOf(ctx context.Context, threads *threadstore.Store, threadID string) ([]threadstore.Thread, error) {
	return threads.GetChain(ctx, threadID)
}
