// Package chain implements the executor chain engine (spec §4.3): resolving
// a tool artifact's runtime_ref links down to a terminal primitive,
// enforcing acyclicity, bounded depth, tier-descent, and adjacent structural
// compatibility, then producing a Plan ready to hand to a Primitive.
package chain

import (
	"context"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/telemetry"
)

// MaxChainDepth bounds how many runtime_ref hops a chain may contain before
// it is rejected as malformed (spec §4.3 invariant: "chains are finite").
const MaxChainDepth = 32

// Link is one resolved hop in a chain: the artifact plus the space it was
// actually resolved from (which may differ from its declaring element's
// space once tier-descent applies).
type Link struct {
	Artifact *artifact.Artifact
	Space    artifact.Space
}

// Chain is a fully resolved, validated sequence of tool artifacts ending at
// a runtime primitive.
type Chain struct {
	RootID string
	Links  []Link
}

// Terminal is the last link, always a primitive descriptor
// (runtime_ref == artifact.RuntimePrimitiveSentinel).
func (c Chain) Terminal() Link { return c.Links[len(c.Links)-1] }

// Engine builds and validates chains over a resolver.
type Engine struct {
	resolver *resolver.Resolver
	tracer   telemetry.Tracer
	logger   telemetry.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(e *Engine) {
		e.tracer = t
		e.logger = l
	}
}

// New constructs an Engine over r.
func New(r *resolver.Resolver, opts ...Option) *Engine {
	e := &Engine{resolver: r, tracer: telemetry.NewNoopTracer(), logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build resolves the full chain rooted at (kind, id), following each
// element's runtime_ref until it reaches RuntimePrimitiveSentinel (spec
// §4.3). space, when non-nil, pins the root's resolution tier; every
// subsequent hop is additionally constrained by the tier-descent invariant.
func (e *Engine) Build(ctx context.Context, kind artifact.Kind, id string, space *artifact.Space) (*Chain, error) {
	ctx, span := e.tracer.Start(ctx, "chain.Build")
	defer span.End()

	chain := &Chain{RootID: id}
	visited := make(map[string]bool)
	curKind, curID, curSpace := kind, id, space
	var lastRank = -1

	for depth := 0; ; depth++ {
		if depth >= MaxChainDepth {
			err := hosterr.New(hosterr.ChainError, "chain rooted at %q exceeds max depth %d", id, MaxChainDepth)
			span.SetError(err)
			return nil, err
		}
		key := string(curKind) + ":" + curID
		if visited[key] {
			err := hosterr.New(hosterr.ChainError, "chain rooted at %q contains a cycle at %q", id, curID)
			span.SetError(err)
			return nil, err
		}
		visited[key] = true

		a, err := e.resolver.Resolve(ctx, curKind, curID, curSpace)
		if err != nil {
			span.SetError(err)
			return nil, hosterr.Wrap(hosterr.ChainError, err, "resolving chain element %q", curID)
		}

		if lastRank != -1 && a.Space.Rank() > lastRank {
			err := hosterr.New(hosterr.ChainError,
				"chain element %q resolved at a higher tier than its parent (tier-descent invariant)", curID)
			span.SetError(err)
			return nil, err
		}
		lastRank = a.Space.Rank()

		chain.Links = append(chain.Links, Link{Artifact: a, Space: a.Space})

		if err := checkAdjacentCompatibility(chain.Links); err != nil {
			span.SetError(err)
			return nil, err
		}

		ref := a.Metadata.RuntimeRef()
		if ref == artifact.RuntimePrimitiveSentinel || ref == "" {
			break
		}
		curKind, curID, curSpace = artifact.Tool, ref, nil
	}

	e.logger.Debug(ctx, "built executor chain", "root", id, "depth", len(chain.Links))
	return chain, nil
}
