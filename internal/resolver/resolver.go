// Package resolver implements the three-tier artifact resolver and loader
// (spec §4.2): converting (kind, id, optional space) into a verified,
// parsed Artifact, plus search, copy-between-tiers, and system-tier bundle
// fan-out.
package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/telemetry"
	"github.com/ryehost/rye/internal/trust"
)

// Bundle is one independent system-tier root directory. Categories, when
// non-empty, restricts which id category-prefixes this bundle owns (spec
// §4.2: "optionally restricting which category prefixes it owns").
type Bundle struct {
	Name       string
	Root       string
	Categories []string
}

func (b Bundle) owns(id string) bool {
	if len(b.Categories) == 0 {
		return true
	}
	cat := id
	if i := strings.Index(id, "/"); i >= 0 {
		cat = id[:i]
	}
	for _, c := range b.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// Layout describes where each tier lives on disk.
type Layout struct {
	ProjectRoot   string
	UserRoot      string
	SystemBundles []Bundle
}

// Resolver resolves, loads, and verifies artifacts across the three tiers.
type Resolver struct {
	layout Layout
	trust  *trust.Store
	cache  Cache
	tracer telemetry.Tracer
	logger telemetry.Logger
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithCache installs a search-result Cache (spec SPEC_FULL.md [RESOLVER]:
// cache is an optimization and never a source of truth for integrity).
func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

// WithTelemetry installs a tracer/logger pair; defaults to no-ops.
func WithTelemetry(t telemetry.Tracer, l telemetry.Logger) Option {
	return func(r *Resolver) {
		r.tracer = t
		r.logger = l
	}
}

// New constructs a Resolver over layout, verifying artifacts against store.
func New(layout Layout, store *trust.Store, opts ...Option) *Resolver {
	r := &Resolver{
		layout: layout,
		trust:  store,
		tracer: telemetry.NewNoopTracer(),
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tierRoots returns (tier, root) pairs in resolver precedence order:
// project -> user -> system bundles (spec §4.2, §8 property 2).
func (r *Resolver) tierRoots() []struct {
	space artifact.Space
	root  string
} {
	var out []struct {
		space artifact.Space
		root  string
	}
	if r.layout.ProjectRoot != "" {
		out = append(out, struct {
			space artifact.Space
			root  string
		}{artifact.Space{Tier: artifact.TierProject}, r.layout.ProjectRoot})
	}
	if r.layout.UserRoot != "" {
		out = append(out, struct {
			space artifact.Space
			root  string
		}{artifact.Space{Tier: artifact.TierUser}, r.layout.UserRoot})
	}
	for _, b := range r.layout.SystemBundles {
		out = append(out, struct {
			space artifact.Space
			root  string
		}{artifact.Space{Tier: artifact.TierSystem, Bundle: b.Name}, b.Root})
	}
	return out
}

// Resolve loads and verifies the artifact identified by (kind, id). When
// space is nil, tiers are searched in precedence order and the first match
// wins (spec §4.2, §8 property 2); when space is non-nil, only that tier is
// consulted.
func (r *Resolver) Resolve(ctx context.Context, kind artifact.Kind, id string, space *artifact.Space) (*artifact.Artifact, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttr("kind", string(kind))
	span.SetAttr("id", id)

	ex, err := artifact.ExtractorFor(kind)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	for _, tr := range r.tierRoots() {
		if space != nil && !sameSpace(tr.space, *space) {
			continue
		}
		if tr.space.Tier == artifact.TierSystem {
			bundle := r.bundleNamed(tr.space.Bundle)
			if bundle != nil && !bundle.owns(id) {
				continue
			}
		}
		for _, ext := range ex.Extensions() {
			path := filepath.Join(tr.root, filepath.FromSlash(id)+ext)
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				err = hosterr.Wrap(hosterr.ValidationError, err, "reading artifact %s", path)
				span.SetError(err)
				return nil, err
			}
			a, err := r.load(kind, id, tr.space, path, data, ex)
			if err != nil {
				span.SetError(err)
				return nil, err
			}
			r.logger.Debug(ctx, "resolved artifact", "id", id, "kind", string(kind), "space", tr.space.String())
			return a, nil
		}
	}
	err = hosterr.New(hosterr.NotFound, "%s %q not found in any tier", kind, id)
	span.SetError(err)
	return nil, err
}

func (r *Resolver) bundleNamed(name string) *Bundle {
	for i := range r.layout.SystemBundles {
		if r.layout.SystemBundles[i].Name == name {
			return &r.layout.SystemBundles[i]
		}
	}
	return nil
}

func sameSpace(a, b artifact.Space) bool {
	return a.Tier == b.Tier && (a.Tier != artifact.TierSystem || a.Bundle == b.Bundle)
}

func (r *Resolver) load(kind artifact.Kind, id string, space artifact.Space, path string, raw []byte, ex artifact.Extractor) (*artifact.Artifact, error) {
	line, rest := signer.SplitSignatureLine(raw)
	sig, err := signer.ParseLine(commentPrefix(path), "", line)
	if err != nil {
		return nil, hosterr.Wrap(hosterr.IntegrityError, err, "artifact %s", id)
	}

	md, body, err := ex.Parse(rest)
	if err != nil {
		return nil, err
	}
	if err := ex.Validate(id, md); err != nil {
		return nil, err
	}

	a := &artifact.Artifact{
		ID:        id,
		Kind:      kind,
		Space:     space,
		BodyText:  body,
		Metadata:  md,
		Signature: sig,
		Path:      path,
	}
	if v, ok := md["version"].(string); ok {
		a.Version = v
	}

	if err := signer.VerifyArtifact(a, r.trust); err != nil {
		return nil, err
	}
	return a, nil
}

// commentPrefix returns the kind-specific comment framing for the
// signature line. All three kinds in SPEC_FULL.md use YAML front matter, so
// the signature line is itself a YAML comment.
func commentPrefix(path string) string {
	_ = path
	return "# "
}
