package continuation_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/continuation"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/modelprovider"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/trust"
)

func setup(t *testing.T) (*continuation.Engine, *threadstore.Store, *orchestrator.Orchestrator) {
	t.Helper()
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := signer.KeyPair{Public: pub, Private: priv}
	trustStore := trust.New()
	trustStore.Add(key.Fingerprint(), key.Public)

	root := t.TempDir()
	body := fmt.Sprintf("---\ncategory: jobs\nname: resume\ntitle: resume\ndescription: d\nruntime_ref: %s\ncommand: /bin/true\n---\nbody\n",
		artifact.RuntimePrimitiveSentinel)
	sig := signer.Sign([]byte(body), key)
	line := signer.FormatLine("# ", "", sig)
	path := filepath.Join(root, "jobs", "resume.tool.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"+body), 0o644))

	r := resolver.New(resolver.Layout{ProjectRoot: root}, trustStore)
	chains := chain.New(r)

	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	threads := threadstore.New(db)
	led := ledger.New(db)
	o := orchestrator.New(threads, led, chains, orchestrator.WithPrimitive(stubPrimitive{}))

	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "old", MaxSpend: 100}))
	require.NoError(t, threads.SetStatus(ctx, "old", threadstore.StatusRunning))

	e := continuation.New(threads, o, 40)
	return e, threads, o
}

type stubPrimitive struct{}

func (stubPrimitive) Start(context.Context, chain.Link, map[string]string, map[string]string) (orchestrator.Handle, error) {
	return stubHandle{}, nil
}

type stubHandle struct{}

func (stubHandle) Wait(context.Context) (orchestrator.Result, error) { return orchestrator.Result{}, nil }
func (stubHandle) Kill(context.Context) error                       { return nil }
func (stubHandle) PID() int                                         { return 1 }

func TestHandoffLinksChainAndSpawnsSuccessor(t *testing.T) {
	ctx := context.Background()
	e, threads, _ := setup(t)

	messages := []modelprovider.Message{
		{Role: modelprovider.RoleUser, Text: "start the job"},
		{Role: modelprovider.RoleAssistant, Text: "working on it, this is a long response padded out to consume more of the trailing-fill token budget than a single short message would"},
		{Role: modelprovider.RoleUser, Text: "continue please"},
	}

	res, err := e.Handoff(ctx, continuation.HandoffRequest{
		ThreadID: "old", RootArtifact: "jobs/resume", Messages: messages,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.NewThreadID)

	old, err := threads.Get(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, threadstore.StatusContinued, old.Status)

	chain, err := continuation.ChainOf(ctx, threads, res.NewThreadID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, "old", chain[0].ID)
	require.Equal(t, res.NewThreadID, chain[1].ID)
}

func TestTrailingFillStartsWithUserMessage(t *testing.T) {
	ctx := context.Background()
	e, _, _ := setup(t)

	messages := []modelprovider.Message{
		{Role: modelprovider.RoleAssistant, Text: "orphaned assistant turn with no preceding user message in the trailing window"},
		{Role: modelprovider.RoleUser, Text: "hi"},
	}
	res, err := e.Handoff(ctx, continuation.HandoffRequest{ThreadID: "old", RootArtifact: "jobs/resume", Messages: messages})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.TrailingLen, 1)
}
