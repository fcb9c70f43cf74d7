package resolver_test

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/trust"
)

func toolFrontMatter(name, title, description string) string {
	return fmt.Sprintf(
		"category: files\nname: %s\ntitle: %s\ndescription: %s\nruntime_ref: %s\n",
		name, title, description, artifact.RuntimePrimitiveSentinel,
	)
}

func writeTool(t *testing.T, root, id string, key signer.KeyPair, frontMatter string) {
	t.Helper()
	body := "---\n" + frontMatter + "---\nbody text for " + id + "\n"
	sig := signer.Sign([]byte(body), key)
	line := signer.FormatLine("# ", "", sig)
	full := line + "\n" + body

	path := filepath.Join(root, filepath.FromSlash(id)+".tool.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(full), 0o644))
}

func newTrustedKey(t *testing.T) (signer.KeyPair, *trust.Store) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := signer.KeyPair{Public: pub, Private: priv}
	store := trust.New()
	store.Add(key.Fingerprint(), key.Public)
	return key, store
}

func TestResolverTierPrecedence(t *testing.T) {
	key, store := newTrustedKey(t)
	projectRoot := t.TempDir()
	userRoot := t.TempDir()

	writeTool(t, projectRoot, "files/read", key, toolFrontMatter("read", "Project Read", "from project"))
	writeTool(t, userRoot, "files/read", key, toolFrontMatter("read", "User Read", "from user"))

	r := resolver.New(resolver.Layout{ProjectRoot: projectRoot, UserRoot: userRoot}, store)
	a, err := r.Resolve(context.Background(), artifact.Tool, "files/read", nil)
	require.NoError(t, err)
	require.Equal(t, "Project Read", a.Metadata.Title())
	require.Equal(t, artifact.TierProject, a.Space.Tier)
}

func TestResolverExplicitSpaceBypassesPrecedence(t *testing.T) {
	key, store := newTrustedKey(t)
	projectRoot := t.TempDir()
	userRoot := t.TempDir()

	writeTool(t, projectRoot, "files/read", key, toolFrontMatter("read", "Project Read", "d"))
	writeTool(t, userRoot, "files/read", key, toolFrontMatter("read", "User Read", "d"))

	r := resolver.New(resolver.Layout{ProjectRoot: projectRoot, UserRoot: userRoot}, store)
	space := artifact.Space{Tier: artifact.TierUser}
	a, err := r.Resolve(context.Background(), artifact.Tool, "files/read", &space)
	require.NoError(t, err)
	require.Equal(t, "User Read", a.Metadata.Title())
}

func TestResolverNotFound(t *testing.T) {
	_, store := newTrustedKey(t)
	r := resolver.New(resolver.Layout{ProjectRoot: t.TempDir()}, store)
	_, err := r.Resolve(context.Background(), artifact.Tool, "nope/nope", nil)
	require.Error(t, err)
}

func TestSearchRanksTitleMatchAboveBodyOnlyMatch(t *testing.T) {
	key, store := newTrustedKey(t)
	projectRoot := t.TempDir()

	writeTool(t, projectRoot, "files/read", key, toolFrontMatter("read", "quickly read files", "d"))
	writeTool(t, projectRoot, "files/write", key, toolFrontMatter("write", "write files", "mentions read once in passing"))

	r := resolver.New(resolver.Layout{ProjectRoot: projectRoot}, store)
	scope := resolver.Scope{Kind: artifact.Tool}
	results, err := r.Search(context.Background(), "read", scope, nil, resolver.Pagination{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "files/read", results[0].ID)
}

func TestSearchNegationExcludes(t *testing.T) {
	key, store := newTrustedKey(t)
	projectRoot := t.TempDir()

	writeTool(t, projectRoot, "files/read", key, toolFrontMatter("read", "read files", "d"))
	writeTool(t, projectRoot, "files/delete", key, toolFrontMatter("delete", "delete files", "d"))

	r := resolver.New(resolver.Layout{ProjectRoot: projectRoot}, store)
	scope := resolver.Scope{Kind: artifact.Tool}
	results, err := r.Search(context.Background(), "files -delete", scope, nil, resolver.Pagination{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "files/read", results[0].ID)
}

func TestCopyTierPolicy(t *testing.T) {
	key, store := newTrustedKey(t)
	projectRoot := t.TempDir()
	userRoot := t.TempDir()
	systemRoot := t.TempDir()

	writeTool(t, systemRoot, "files/read", key, toolFrontMatter("read", "read files", "d"))

	r := resolver.New(resolver.Layout{
		ProjectRoot:   projectRoot,
		UserRoot:      userRoot,
		SystemBundles: []resolver.Bundle{{Name: "core", Root: systemRoot}},
	}, store)

	from := artifact.Space{Tier: artifact.TierSystem, Bundle: "core"}
	to := artifact.Space{Tier: artifact.TierProject}
	require.NoError(t, r.Copy(context.Background(), artifact.Tool, "files/read", from, to))

	copied, err := r.Resolve(context.Background(), artifact.Tool, "files/read", &to)
	require.NoError(t, err)
	require.Equal(t, "read files", copied.Metadata.Title())

	// project -> system is never permitted.
	err = r.Copy(context.Background(), artifact.Tool, "files/read", to, from)
	require.Error(t, err)
}
