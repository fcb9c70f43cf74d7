package orchestrator_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/trust"
)

type fakeHandle struct{ result orchestrator.Result }

func (h *fakeHandle) Wait(context.Context) (orchestrator.Result, error) { return h.result, nil }
func (h *fakeHandle) Kill(context.Context) error                       { return nil }
func (h *fakeHandle) PID() int                                         { return 1 }

type fakePrimitive struct{}

func (fakePrimitive) Start(context.Context, chain.Link, map[string]string, map[string]string) (orchestrator.Handle, error) {
	return &fakeHandle{result: orchestrator.Result{ExitCode: 0, Stdout: []byte("ok")}}, nil
}

func setup(t *testing.T) (*orchestrator.Orchestrator, *threadstore.Store) {
	t.Helper()
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := signer.KeyPair{Public: pub, Private: priv}
	trustStore := trust.New()
	trustStore.Add(key.Fingerprint(), key.Public)

	root := t.TempDir()
	body := fmt.Sprintf("---\ncategory: jobs\nname: noop\ntitle: noop\ndescription: d\nruntime_ref: %s\ncommand: /bin/true\n---\nbody\n",
		artifact.RuntimePrimitiveSentinel)
	sig := signer.Sign([]byte(body), key)
	line := signer.FormatLine("# ", "", sig)
	path := filepath.Join(root, "jobs", "noop.tool.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"+body), 0o644))

	r := resolver.New(resolver.Layout{ProjectRoot: root}, trustStore)
	chains := chain.New(r)

	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	threads := threadstore.New(db)
	led := ledger.New(db)

	o := orchestrator.New(threads, led, chains, orchestrator.WithPrimitive(fakePrimitive{}))
	return o, threads
}

func TestSpawnWaitRootThread(t *testing.T) {
	ctx := context.Background()
	o, _ := setup(t)

	res, err := o.Spawn(ctx, orchestrator.SpawnRequest{
		RootArtifact: "jobs/noop",
		Capabilities: capability.Set{"execute.tool.jobs.*"},
		MaxSpend:     10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ThreadID)

	wr, err := o.Wait(ctx, res.ThreadID)
	require.NoError(t, err)
	require.True(t, wr.AllSucceeded)
}

func TestSpawnRejectsCapabilityEscalation(t *testing.T) {
	ctx := context.Background()
	o, threads := setup(t)

	require.NoError(t, threads.Register(ctx, threadstore.Thread{
		ID: "parent", MaxSpend: 100, Capabilities: capability.Set{"execute.tool.jobs.noop"},
	}))

	_, err := o.Spawn(ctx, orchestrator.SpawnRequest{
		ParentID:     "parent",
		RootArtifact: "jobs/noop",
		Capabilities: capability.Set{"execute.tool.*"}, // wider than parent: must be rejected
		MaxSpend:     10,
	})
	require.Error(t, err)
}

func TestSpawnEnforcesBudget(t *testing.T) {
	ctx := context.Background()
	o, threads := setup(t)

	require.NoError(t, threads.Register(ctx, threadstore.Thread{
		ID: "parent", MaxSpend: 5, Capabilities: capability.Set{"execute.tool.*"},
	}))

	_, err := o.Spawn(ctx, orchestrator.SpawnRequest{
		ParentID:     "parent",
		RootArtifact: "jobs/noop",
		Capabilities: capability.Set{"execute.tool.jobs.noop"},
		MaxSpend:     10,
	})
	require.Error(t, err)
}
