// Package orchestrator implements thread spawn/wait/kill/aggregate (spec
// §4.5): deriving a child thread's effective limits and capabilities from
// its parent, reserving budget, launching its terminal chain element as a
// detached primitive, and tracking it through the thread registry.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/telemetry"
	"github.com/ryehost/rye/internal/threadstore"
)

// RiskLevel classifies a spawn directive's blast radius (SPEC_FULL.md
// [HARNESS]/[DISPATCHER]).
type RiskLevel string

const (
	RiskLow        RiskLevel = "low"
	RiskAcknowledge RiskLevel = "acknowledge"
	RiskBlocked    RiskLevel = "blocked"
)

// SpawnRequest is the directive an agent turn issues to create a child
// thread (spec §4.5).
type SpawnRequest struct {
	ParentID     string
	RootArtifact string // tool artifact id to execute
	Space        *artifact.Space
	Params       map[string]string
	InstanceEnv  map[string]string
	MaxSpend     int64 // must fit the parent's remaining budget; Spawn fails otherwise
	Capabilities capability.Set
	Risk         RiskLevel
	AckRisk      bool // caller explicitly acknowledged an "acknowledge" risk
}

// SpawnResult is returned immediately on spawn; the child runs
// asynchronously and is observed via Wait.
type SpawnResult struct {
	ThreadID string
}

// WaitResult is one thread's terminal outcome; Aggregate returns one per
// thread (spec §4.5 "aggregate").
type WaitResult struct {
	ThreadID     string
	Status       threadstore.Status
	Result       json.RawMessage
	AllSucceeded bool
}

// Orchestrator ties the thread registry, budget ledger, chain engine, and
// process primitives together.
type Orchestrator struct {
	threads   *threadstore.Store
	ledger    *ledger.Ledger
	chains    *chain.Engine
	primitive Primitive
	tracer    telemetry.Tracer
	logger    telemetry.Logger
	watchDir  string // store directory watched by Wait for cross-process threads

	mu      sync.Mutex
	running map[string]Handle
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithPrimitive overrides the default ProcessPrimitive (tests inject a fake).
func WithPrimitive(p Primitive) Option { return func(o *Orchestrator) { o.primitive = p } }

// WithWatchDir sets the directory Wait watches via fsnotify (falling back to
// a poll ticker) for threads this process did not itself spawn.
func WithWatchDir(dir string) Option { return func(o *Orchestrator) { o.watchDir = dir } }

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(o *Orchestrator) {
		o.tracer = t
		o.logger = l
	}
}

// New constructs an Orchestrator.
func New(threads *threadstore.Store, led *ledger.Ledger, chains *chain.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		threads:   threads,
		ledger:    led,
		chains:    chains,
		primitive: ProcessPrimitive{},
		tracer:    telemetry.NewNoopTracer(),
		logger:    telemetry.NewNoopLogger(),
		running:   make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Spawn derives the child's effective capabilities and budget from its
// parent, enforces the attenuation invariant and risk policy, reserves
// budget, registers the thread, builds its chain, and launches its
// terminal primitive (spec §4.5).
func (o *Orchestrator) Spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Spawn")
	defer span.End()

	if req.Risk == RiskBlocked {
		err := hosterr.New(hosterr.RiskBlocked, "spawn of %q is blocked by risk policy", req.RootArtifact)
		span.SetError(err)
		return SpawnResult{}, err
	}
	if req.Risk == RiskAcknowledge && !req.AckRisk {
		err := hosterr.New(hosterr.RiskBlocked, "spawn of %q requires risk acknowledgement", req.RootArtifact)
		span.SetError(err)
		return SpawnResult{}, err
	}

	var parentCaps capability.Set
	if req.ParentID != "" {
		parent, err := o.threads.Get(ctx, req.ParentID)
		if err != nil {
			span.SetError(err)
			return SpawnResult{}, err
		}
		parentCaps = parent.Capabilities
		if !capability.Attenuates(parentCaps, req.Capabilities) {
			err := hosterr.New(hosterr.PermissionDenied,
				"child capabilities for %q are not implied by parent %q", req.RootArtifact, req.ParentID)
			span.SetError(err)
			return SpawnResult{}, err
		}
	}

	childID := uuid.NewString()
	if err := o.threads.Register(ctx, threadstore.Thread{
		ID: childID, ParentID: req.ParentID, Capabilities: req.Capabilities, MaxSpend: 0,
	}); err != nil {
		span.SetError(err)
		return SpawnResult{}, err
	}

	if req.ParentID != "" {
		if err := o.ledger.Reserve(ctx, req.ParentID, childID, req.MaxSpend); err != nil {
			o.threads.SetStatus(ctx, childID, threadstore.StatusError)
			span.SetError(err)
			return SpawnResult{}, err
		}
	}

	if err := o.threads.SetStatus(ctx, childID, threadstore.StatusRunning); err != nil {
		span.SetError(err)
		return SpawnResult{}, err
	}

	plan, err := o.chains.Plan(ctx, artifact.Tool, req.RootArtifact, chain.PlanOptions{
		Space: req.Space, InstanceEnv: req.InstanceEnv, Params: req.Params,
	})
	if err != nil {
		o.finish(ctx, childID, req.ParentID, req.MaxSpend, threadstore.StatusError, nil)
		span.SetError(err)
		return SpawnResult{}, err
	}

	handle, err := o.primitive.Start(ctx, plan.Chain.Terminal(), plan.Env, req.Params)
	if err != nil {
		o.finish(ctx, childID, req.ParentID, req.MaxSpend, threadstore.StatusError, nil)
		span.SetError(err)
		return SpawnResult{}, err
	}

	o.mu.Lock()
	o.running[childID] = handle
	o.mu.Unlock()

	o.logger.Debug(ctx, "spawned thread", "thread_id", childID, "parent_id", req.ParentID, "artifact", req.RootArtifact)
	return SpawnResult{ThreadID: childID}, nil
}

// Wait blocks until threadID's primitive exits (or ctx is cancelled),
// records its terminal status and result, and releases its budget
// reservation back to its parent.
func (o *Orchestrator) Wait(ctx context.Context, threadID string) (WaitResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Wait")
	defer span.End()

	o.mu.Lock()
	handle, ok := o.running[threadID]
	o.mu.Unlock()
	if !ok {
		t, err := awaitTerminal(ctx, o.threads, threadID, o.watchDir)
		if err != nil {
			span.SetError(err)
			return WaitResult{}, err
		}
		return WaitResult{ThreadID: threadID, Status: t.Status, Result: t.Result, AllSucceeded: t.Status == threadstore.StatusCompleted}, nil
	}

	result, err := handle.Wait(ctx)
	status := threadstore.StatusCompleted
	if err != nil || result.ExitCode != 0 {
		status = threadstore.StatusError
	}

	t, getErr := o.threads.Get(ctx, threadID)
	var maxSpend int64
	var parentID string
	if getErr == nil {
		maxSpend = t.MaxSpend
		parentID = t.ParentID
	}

	payload, _ := json.Marshal(map[string]any{
		"exit_code": result.ExitCode,
		"stdout":    string(result.Stdout),
		"stderr":    string(result.Stderr),
	})
	o.finish(ctx, threadID, parentID, maxSpend, status, payload)

	o.mu.Lock()
	delete(o.running, threadID)
	o.mu.Unlock()

	return WaitResult{ThreadID: threadID, Status: status, Result: payload, AllSucceeded: status == threadstore.StatusCompleted}, nil
}

// Aggregate waits for every threadID in ids and reports whether all
// succeeded (spec §4.5 "aggregate").
func (o *Orchestrator) Aggregate(ctx context.Context, ids []string) ([]WaitResult, bool) {
	results := make([]WaitResult, 0, len(ids))
	allOK := true
	for _, id := range ids {
		r, err := o.Wait(ctx, id)
		if err != nil || !r.AllSucceeded {
			allOK = false
		}
		results = append(results, r)
	}
	return results, allOK
}

// Kill terminates threadID's primitive, first gracefully then forcibly
// after grace elapses.
func (o *Orchestrator) Kill(ctx context.Context, threadID string, grace time.Duration) error {
	o.mu.Lock()
	handle, ok := o.running[threadID]
	o.mu.Unlock()
	if !ok {
		return hosterr.New(hosterr.NotFound, "thread %q is not running", threadID)
	}

	if err := handle.Kill(ctx); err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "killing thread %q", threadID)
	}

	done := make(chan struct{})
	go func() {
		handle.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		handle.Kill(ctx) // escalate; a second Kill on a ProcessPrimitive handle sends SIGKILL
		<-done
	}

	return o.threads.SetStatus(ctx, threadID, threadstore.StatusCancelled)
}

// ListActive returns every thread currently tracked as non-terminal.
func (o *Orchestrator) ListActive(ctx context.Context) ([]threadstore.Thread, error) {
	return o.threads.ListActive(ctx)
}

func (o *Orchestrator) finish(ctx context.Context, threadID, parentID string, reserved int64, status threadstore.Status, result json.RawMessage) {
	o.threads.SetStatus(ctx, threadID, status)
	if result != nil {
		o.threads.SetResult(ctx, threadID, result)
	}
	if parentID != "" {
		o.ledger.Release(ctx, parentID, reserved)
	}
}
