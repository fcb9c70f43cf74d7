package trust_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/trust"
)

func TestLoadReadsIdentityDocuments(t *testing.T) {
	root := t.TempDir()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := filepath.Join(root, "trusted_keys")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := "fingerprint: abc123\npublic_key: " + hex.EncodeToString(pub) + "\nlabel: test key\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.yaml"), []byte(doc), 0o644))

	s, err := trust.Load(root)
	require.NoError(t, err)
	got, err := s.Lookup("abc123")
	require.NoError(t, err)
	require.Equal(t, pub, got)
}

func TestLookupUnknownFingerprintFails(t *testing.T) {
	s := trust.New()
	_, err := s.Lookup("nope")
	require.Error(t, err)
	require.Equal(t, hosterr.IntegrityError, hosterr.KindOf(err))
}

func TestPinRejectsFingerprintChange(t *testing.T) {
	s := trust.New()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, s.Pin("registry.example.com", "fp1", pub))

	err = s.Pin("registry.example.com", "fp2", pub)
	require.Error(t, err)
	require.Equal(t, hosterr.IntegrityError, hosterr.KindOf(err))

	fp, ok := s.PinnedFingerprint("registry.example.com")
	require.True(t, ok)
	require.Equal(t, "fp1", fp)
}

func TestPinPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s, err := trust.New().WithPersistence(ctx, db)
	require.NoError(t, err)
	require.NoError(t, s.Pin("registry.example.com", "fp1", pub))

	restarted, err := trust.New().WithPersistence(ctx, db)
	require.NoError(t, err)
	fp, ok := restarted.PinnedFingerprint("registry.example.com")
	require.True(t, ok)
	require.Equal(t, "fp1", fp)
}
