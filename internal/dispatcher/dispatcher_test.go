package dispatcher_test

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
	"github.com/ryehost/rye/internal/dispatcher"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/trust"
)

func setup(t *testing.T) (*dispatcher.Dispatcher, string, signer.KeyPair) {
	t.Helper()
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := signer.KeyPair{Public: pub, Private: priv}
	trustStore := trust.New()
	trustStore.Add(key.Fingerprint(), key.Public)

	root := t.TempDir()
	writeTool(t, root, "jobs/noop", key)

	r := resolver.New(resolver.Layout{ProjectRoot: root}, trustStore)
	chains := chain.New(r)

	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	threads := threadstore.New(db)
	led := ledger.New(db)
	o := orchestrator.New(threads, led, chains)

	d := dispatcher.New(r, chains, o, dispatcher.WithSigningKey(key))
	return d, root, key
}

func writeTool(t *testing.T, root, id string, key signer.KeyPair) {
	t.Helper()
	body := fmt.Sprintf("---\ncategory: jobs\nname: noop\ntitle: noop tool\ndescription: a test tool\nruntime_ref: %s\ncommand: /bin/true\n---\nbody\n",
		artifact.RuntimePrimitiveSentinel)
	sig := signer.Sign([]byte(body), key)
	line := signer.FormatLine("# ", "", sig)
	path := filepath.Join(root, filepath.FromSlash(id)+".tool.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"+body), 0o644))
	_ = id
}

func TestDispatcherSearchFindsArtifact(t *testing.T) {
	d, _, _ := setup(t)
	results, err := d.Search(context.Background(), dispatcher.SearchRequest{Query: "noop", Scope: "tool"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "jobs/noop", results[0].ID)
}

func TestDispatcherLoadReturnsBodyAndMetadata(t *testing.T) {
	d, _, _ := setup(t)
	res, err := d.Load(context.Background(), dispatcher.LoadRequest{Kind: artifact.Tool, ID: "jobs/noop"})
	require.NoError(t, err)
	require.Equal(t, "jobs", res.Metadata.Category())
	require.Contains(t, res.Body, "body")
}

func TestDispatcherExecuteDryRunBuildsPlanWithoutSpawning(t *testing.T) {
	d, _, _ := setup(t)
	res, err := d.Execute(context.Background(), dispatcher.ExecuteRequest{
		Kind: artifact.Tool, ID: "jobs/noop", DryRun: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	require.Empty(t, res.ThreadID)
}

func TestDispatcherSignRejectsWithoutPrivateKey(t *testing.T) {
	d, _, _ := setup(t)
	d2 := dispatcher.New(nil, nil, nil) // no signing key configured
	_, err := d2.Sign(context.Background(), dispatcher.SignRequest{Kind: artifact.Tool, ID: "jobs/noop"})
	require.Error(t, err)
	_ = d
}
