package chain

import (
	"context"
	"os"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
)

// Plan is a fully resolved, lockfile-checked chain with its terminal env
// ready to hand to a Primitive — the result of a chain Execute dry-run, or
// the first half of a real execution (SPEC_FULL.md [CHAIN]).
type Plan struct {
	Chain      *Chain
	Env        map[string]string
	Params     map[string]string
	DryRun     bool
	LockfileOK bool
}

// PlanOptions configures Plan construction.
type PlanOptions struct {
	Space        *artifact.Space
	InstanceEnv  map[string]string
	Params       map[string]string
	DotenvPath   string // optional
	LockfilePath string // optional; when set, auto-writes/validates a lockfile
	DryRun       bool
	EnvMode      EnvMergeMode
}

// Plan builds, validates, and locks the chain rooted at (kind, id),
// resolving its environment and template parameters. When opts.LockfilePath
// is set and a lockfile already exists, the freshly built chain is checked
// against it (spec §7 StaleLockfile); when DryRun is false and no lockfile
// exists yet, one is written.
func (e *Engine) Plan(ctx context.Context, kind artifact.Kind, id string, opts PlanOptions) (*Plan, error) {
	ctx, span := e.tracer.Start(ctx, "chain.Plan")
	defer span.End()

	c, err := e.Build(ctx, kind, id, opts.Space)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	plan := &Plan{Chain: c, Params: opts.Params, DryRun: opts.DryRun}

	if opts.LockfilePath != "" {
		existing, err := ReadLockfile(opts.LockfilePath)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		if existing != nil {
			if err := CheckStale(existing, c); err != nil {
				span.SetError(err)
				return nil, err
			}
			plan.LockfileOK = true
		} else if !opts.DryRun {
			if err := WriteLockfile(opts.LockfilePath, Lock(c)); err != nil {
				span.SetError(err)
				return nil, err
			}
			plan.LockfileOK = true
		}
	}

	dotenv := map[string]string{}
	if opts.DotenvPath != "" {
		data, err := os.ReadFile(opts.DotenvPath)
		if err != nil && !os.IsNotExist(err) {
			err = hosterr.Wrap(hosterr.ValidationError, err, "reading dotenv %s", opts.DotenvPath)
			span.SetError(err)
			return nil, err
		}
		dotenv = ParseDotenv(data)
	}

	elementEnv := map[string]string{}
	if raw, ok := c.Terminal().Artifact.Metadata["env"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				elementEnv[k] = s
			}
		}
	}

	plan.Env = ResolveEnv(EnvLayers{
		Process:       ProcessEnv(),
		Dotenv:        dotenv,
		ElementStatic: elementEnv,
		InstanceEnv:   opts.InstanceEnv,
		Mode:          opts.EnvMode,
	})
	for k, v := range plan.Env {
		plan.Env[k] = ExpandTemplate(v, opts.Params)
	}

	e.logger.Debug(ctx, "planned chain execution", "root", id, "dry_run", opts.DryRun)
	return plan, nil
}
