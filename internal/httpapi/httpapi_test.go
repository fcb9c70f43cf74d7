package httpapi_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/dispatcher"
	"github.com/ryehost/rye/internal/httpapi"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/trust"
)

func setup(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := signer.KeyPair{Public: pub, Private: priv}
	trustStore := trust.New()
	trustStore.Add(key.Fingerprint(), key.Public)

	root := t.TempDir()
	body := fmt.Sprintf("---\ncategory: jobs\nname: noop\ntitle: noop tool\ndescription: a test tool\nruntime_ref: %s\ncommand: /bin/true\n---\nbody\n",
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
	o := orchestrator.New(threads, led, chains)

	d := dispatcher.New(r, chains, o, dispatcher.WithSigningKey(key))
	return httpapi.NewRouter(d)
}

func TestSearchEndpointFindsArtifact(t *testing.T) {
	h := setup(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"query": "noop", "scope": "tool"})
	resp, err := http.Post(srv.URL+"/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []resolver.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	require.Equal(t, "jobs/noop", results[0].ID)
}

func TestExecuteEndpointDryRunReturnsPlanWithoutSpawning(t *testing.T) {
	h := setup(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"kind": "tool", "id": "jobs/noop", "dry_run": true})
	resp, err := http.Post(srv.URL+"/v1/execute", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result dispatcher.ExecuteResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotNil(t, result.Plan)
	require.Empty(t, result.ThreadID)
}

func TestLoadEndpointUnknownArtifactReturnsNotFound(t *testing.T) {
	h := setup(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"kind": "tool", "id": "jobs/missing"})
	resp, err := http.Post(srv.URL+"/v1/load", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
