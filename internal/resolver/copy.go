package resolver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
)

// Copy materializes the artifact identified by (kind, id) in from's tier
// into to's tier, preserving its signature line and body verbatim (spec
// §4.2: "copy between tiers never re-signs"). Only the moves named in
// allowedMove are permitted; all others are rejected as a ValidationError.
func (r *Resolver) Copy(ctx context.Context, kind artifact.Kind, id string, from, to artifact.Space) error {
	ctx, span := r.tracer.Start(ctx, "resolver.Copy")
	defer span.End()

	if !allowedMove(from.Tier, to.Tier) {
		err := hosterr.New(hosterr.ValidationError, "tier copy %s -> %s is not permitted", from.Tier, to.Tier)
		span.SetError(err)
		return err
	}

	a, err := r.Resolve(ctx, kind, id, &from)
	if err != nil {
		span.SetError(err)
		return err
	}

	raw, err := os.ReadFile(a.Path)
	if err != nil {
		err = hosterr.Wrap(hosterr.ValidationError, err, "reading artifact %s for copy", a.Path)
		span.SetError(err)
		return err
	}

	root, err := r.rootFor(to)
	if err != nil {
		span.SetError(err)
		return err
	}

	ext := filepath.Ext(a.Path)
	dest := filepath.Join(root, filepath.FromSlash(id)+ext)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		err = hosterr.Wrap(hosterr.ValidationError, err, "creating directory for %s", dest)
		span.SetError(err)
		return err
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		err = hosterr.Wrap(hosterr.ValidationError, err, "writing artifact copy to %s", dest)
		span.SetError(err)
		return err
	}

	r.logger.Debug(ctx, "copied artifact between tiers", "id", id, "kind", string(kind),
		"from", from.String(), "to", to.String())
	return nil
}

func (r *Resolver) rootFor(space artifact.Space) (string, error) {
	switch space.Tier {
	case artifact.TierProject:
		if r.layout.ProjectRoot == "" {
			return "", hosterr.New(hosterr.ValidationError, "no project root configured")
		}
		return r.layout.ProjectRoot, nil
	case artifact.TierUser:
		if r.layout.UserRoot == "" {
			return "", hosterr.New(hosterr.ValidationError, "no user root configured")
		}
		return r.layout.UserRoot, nil
	case artifact.TierSystem:
		b := r.bundleNamed(space.Bundle)
		if b == nil {
			return "", hosterr.New(hosterr.ValidationError, "unknown system bundle %q", space.Bundle)
		}
		return b.Root, nil
	default:
		return "", hosterr.New(hosterr.ValidationError, "unknown tier %q", space.Tier)
	}
}

// allowedMove enforces the tier-move policy (SPEC_FULL.md [RESOLVER]):
// system may fan out to project or user; project and user may copy to each
// other; nothing may be promoted back up into system (system is
// bundle-owned and read-only to resolver-level copies).
func allowedMove(from, to string) bool {
	switch {
	case from == artifact.TierSystem && (to == artifact.TierProject || to == artifact.TierUser):
		return true
	case from == artifact.TierUser && to == artifact.TierProject:
		return true
	case from == artifact.TierProject && to == artifact.TierUser:
		return true
	default:
		return false
	}
}
