package chain_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
)

func TestPlanWritesAndValidatesLockfile(t *testing.T) {
	key, store := newKey(t)
	root := t.TempDir()
	writeChainTool(t, root, "wrappers/a", artifact.RuntimePrimitiveSentinel, key)

	r := resolver.New(resolver.Layout{ProjectRoot: root}, store)
	e := chain.New(r)
	lockPath := filepath.Join(t.TempDir(), "rye.lock")

	_, err := e.Plan(context.Background(), artifact.Tool, "wrappers/a", chain.PlanOptions{LockfilePath: lockPath})
	require.NoError(t, err)

	lf, err := chain.ReadLockfile(lockPath)
	require.NoError(t, err)
	require.NotNil(t, lf)
	require.Len(t, lf.Entries, 1)

	// a second plan against the unchanged artifact must not report staleness.
	plan2, err := e.Plan(context.Background(), artifact.Tool, "wrappers/a", chain.PlanOptions{LockfilePath: lockPath})
	require.NoError(t, err)
	require.True(t, plan2.LockfileOK)
}

func TestCheckStaleDetectsContentDrift(t *testing.T) {
	key, store := newKey(t)
	root := t.TempDir()
	writeChainTool(t, root, "wrappers/a", artifact.RuntimePrimitiveSentinel, key)

	r := resolver.New(resolver.Layout{ProjectRoot: root}, store)
	e := chain.New(r)

	c, err := e.Build(context.Background(), artifact.Tool, "wrappers/a", nil)
	require.NoError(t, err)
	lf := chain.Lock(c)

	// overwrite with a body whose description differs, changing the content
	// hash while keeping the chain structurally identical.
	body := "---\ncategory: wrappers\nname: a\ntitle: a\ndescription: changed\nruntime_ref: " +
		artifact.RuntimePrimitiveSentinel + "\n---\nbody\n"
	sig := signer.Sign([]byte(body), key)
	line := signer.FormatLine("# ", "", sig)
	path := filepath.Join(root, "wrappers", "a.tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"+body), 0o644))

	c2, err := e.Build(context.Background(), artifact.Tool, "wrappers/a", nil)
	require.NoError(t, err)
	require.Error(t, chain.CheckStale(lf, c2))
}
