// Package dispatcher implements the host protocol's single stateless entry
// point (spec §4.1): four verbs — search, load, execute, sign — routed to
// the resolver, chain engine, orchestrator, and signer. All state lives in
// those components; the Dispatcher itself holds no per-request state.
package dispatcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/telemetry"
)

// Dispatcher is the single entry point for the host protocol (spec §4.1
// table: search/load/execute/sign).
type Dispatcher struct {
	resolver     *resolver.Resolver
	chains       *chain.Engine
	orchestrator *orchestrator.Orchestrator
	signingKey   *signer.KeyPair
	tracer       telemetry.Tracer
	logger       telemetry.Logger
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithSigningKey installs the key used by the sign verb; without one, sign
// requests fail with hosterr.ValidationError ("no private key").
func WithSigningKey(key signer.KeyPair) Option {
	return func(d *Dispatcher) { d.signingKey = &key }
}

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(d *Dispatcher) {
		d.tracer = t
		d.logger = l
	}
}

// New constructs a Dispatcher over the given resolver, chain engine, and
// orchestrator.
func New(r *resolver.Resolver, chains *chain.Engine, o *orchestrator.Orchestrator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: r, chains: chains, orchestrator: o,
		tracer: telemetry.NewNoopTracer(), logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SearchRequest is the "search" verb's input (spec §4.1 table).
type SearchRequest struct {
	Query string
	Scope string
	Space *artifact.Space
	Page  resolver.Pagination
}

// Search implements the "search" verb.
func (d *Dispatcher) Search(ctx context.Context, req SearchRequest) ([]resolver.SearchResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Search")
	defer span.End()

	scope, err := resolver.ParseScope(req.Scope)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	results, err := d.resolver.Search(ctx, req.Query, scope, req.Space, req.Page)
	if err != nil {
		span.SetError(err)
	}
	return results, err
}

// LoadRequest is the "load" verb's input (spec §4.1 table).
type LoadRequest struct {
	Kind        artifact.Kind
	ID          string
	Space       *artifact.Space
	Destination *artifact.Space // optional: copy-between-tiers
}

// LoadResult is the "load" verb's output: body text, metadata, and origin
// path (spec §4.1 table).
type LoadResult struct {
	Body     string
	Metadata artifact.Metadata
	Path     string
	Space    artifact.Space
}

// Load implements the "load" verb, including optional tier-copy when
// Destination is set (spec §4.2 "Copy-between-tiers").
func (d *Dispatcher) Load(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Load")
	defer span.End()

	a, err := d.resolver.Resolve(ctx, req.Kind, req.ID, req.Space)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if req.Destination != nil {
		if err := d.resolver.Copy(ctx, req.Kind, req.ID, a.Space, *req.Destination); err != nil {
			span.SetError(err)
			return nil, err
		}
	}

	return &LoadResult{Body: a.BodyText, Metadata: a.Metadata, Path: a.Path, Space: a.Space}, nil
}

// ExecuteRequest is the "execute" verb's input (spec §4.1 table, §4.3/§4.5).
type ExecuteRequest struct {
	Kind         artifact.Kind
	ID           string
	Space        *artifact.Space
	Params       map[string]string
	InstanceEnv  map[string]string
	DryRun       bool
	ParentThread string
	MaxSpend     int64
	Capabilities []string
	Risk         orchestrator.RiskLevel
	AckRisk      bool
}

// ExecuteResult is kind-dependent: a dry-run Plan for a tool, or a spawned
// thread handle when actually launched (spec §4.1 table "kind-dependent").
type ExecuteResult struct {
	Plan     *chain.Plan
	ThreadID string
}

// Execute implements the "execute" verb. With DryRun set, it only builds and
// returns the Plan (validated chain + resolved env), performing no spawn; the
// dry run passes no lockfile path, so no lockfile is read or written. When
// DryRun is clear, it spawns a thread via the orchestrator.
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Execute")
	defer span.End()

	if req.DryRun {
		plan, err := d.chains.Plan(ctx, req.Kind, req.ID, chain.PlanOptions{
			Space: req.Space, InstanceEnv: req.InstanceEnv, Params: req.Params, DryRun: true,
		})
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		return &ExecuteResult{Plan: plan}, nil
	}

	if req.Kind != artifact.Tool {
		err := hosterr.New(hosterr.ValidationError, "execute is only supported for tool artifacts, got %q", req.Kind)
		span.SetError(err)
		return nil, err
	}

	capSet := make(capability.Set, len(req.Capabilities))
	for i, c := range req.Capabilities {
		capSet[i] = capability.Pattern(c)
	}

	res, err := d.orchestrator.Spawn(ctx, orchestrator.SpawnRequest{
		ParentID: req.ParentThread, RootArtifact: req.ID, Space: req.Space,
		Params: req.Params, InstanceEnv: req.InstanceEnv, MaxSpend: req.MaxSpend,
		Capabilities: capSet, Risk: req.Risk, AckRisk: req.AckRisk,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return &ExecuteResult{ThreadID: res.ThreadID}, nil
}

// SignRequest is the "sign" verb's input (spec §4.1 table). ID may be a glob
// matching multiple artifacts under Space.
type SignRequest struct {
	Kind  artifact.Kind
	ID    string
	Space artifact.Space
}

// SignResult reports the outcome for each artifact ID matched by the
// request's (possibly glob) ID.
type SignResult struct {
	ID     string
	Signed bool
	Error  string
}

// Sign implements the "sign" verb: re-signs the matched artifact(s) under
// the dispatcher's configured signing key (spec §4.1, §4.4).
func (d *Dispatcher) Sign(ctx context.Context, req SignRequest) ([]SignResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Sign")
	defer span.End()

	if d.signingKey == nil {
		err := hosterr.New(hosterr.ValidationError, "no private key configured for signing")
		span.SetError(err)
		return nil, err
	}

	ids, err := d.expandGlob(ctx, req.Kind, req.ID, req.Space)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	results := make([]SignResult, 0, len(ids))
	for _, id := range ids {
		if err := d.signOne(ctx, req.Kind, id, req.Space); err != nil {
			results = append(results, SignResult{ID: id, Signed: false, Error: err.Error()})
			continue
		}
		results = append(results, SignResult{ID: id, Signed: true})
	}
	return results, nil
}

func (d *Dispatcher) signOne(ctx context.Context, kind artifact.Kind, id string, space artifact.Space) error {
	a, err := d.resolver.Resolve(ctx, kind, id, &space)
	if err != nil {
		return err
	}
	ex, err := artifact.ExtractorFor(kind)
	if err != nil {
		return err
	}
	if err := ex.Validate(id, a.Metadata); err != nil {
		return err
	}
	sig := signer.Sign([]byte(a.BodyText), *d.signingKey)
	line := signer.FormatLine(signatureLinePrefix(a.Path), "", sig)
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "reading artifact %s for re-signing", a.Path)
	}
	_, body := signer.SplitSignatureLine(raw)
	return os.WriteFile(a.Path, []byte(line+"\n"+string(body)), 0o644)
}

func (d *Dispatcher) expandGlob(ctx context.Context, kind artifact.Kind, pattern string, space artifact.Space) ([]string, error) {
	if !containsGlobChar(pattern) {
		return []string{pattern}, nil
	}
	scope, err := resolver.ParseScope(string(kind))
	if err != nil {
		return nil, err
	}
	results, err := d.resolver.Search(ctx, "", scope, &space, resolver.Pagination{Limit: 10000})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, r := range results {
		if ok, _ := filepath.Match(pattern, r.ID); ok {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func containsGlobChar(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func signatureLinePrefix(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "# "
	case ".md":
		return "<!-- "
	default:
		return "# "
	}
}
