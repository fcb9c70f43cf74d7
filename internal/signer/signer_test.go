package signer_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/trust"
)

func newKeyPair(t *testing.T) signer.KeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return signer.KeyPair{Public: pub, Private: priv}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := newKeyPair(t)
	body := []byte("step 1: do the thing\nstep 2: do the other thing\n")

	sig := signer.Sign(body, key)
	require.NoError(t, signer.Verify(body, sig, key.Public))
}

func TestVerifyFailsOnOneByteEdit(t *testing.T) {
	key := newKeyPair(t)
	body := []byte("step 1: do the thing\n")
	sig := signer.Sign(body, key)

	tampered := []byte("step 1: do the thinh\n")
	err := signer.Verify(tampered, sig, key.Public)
	require.Error(t, err)
}

func TestSignIdempotentModuloTimestamp(t *testing.T) {
	key := newKeyPair(t)
	body := []byte("same body\n")

	sig1 := signer.Sign(body, key)
	sig2 := signer.Sign(body, key)
	require.Equal(t, sig1.ContentHash, sig2.ContentHash)
}

func TestFormatParseRoundTrip(t *testing.T) {
	key := newKeyPair(t)
	body := []byte("body\n")
	sig := signer.Sign(body, key)

	line := signer.FormatLine("# ", "", sig)
	parsed, err := signer.ParseLine("# ", "", line)
	require.NoError(t, err)
	require.Equal(t, sig.ContentHash, parsed.ContentHash)
	require.Equal(t, sig.KeyFingerprint, parsed.KeyFingerprint)
	require.Equal(t, sig.SigBytes, parsed.SigBytes)
}

func TestParseLineMissingSignature(t *testing.T) {
	_, err := signer.ParseLine("# ", "", "# just a comment\n")
	require.Error(t, err)
}

func TestParseUnsignedPlaceholder(t *testing.T) {
	line := "# rye:signed:2026-01-01T00:00:00Z:placeholder:unsigned:unsigned"
	sig, err := signer.ParseLine("# ", "", line)
	require.NoError(t, err)
	require.True(t, sig.Unsigned)
}

func TestVerifyArtifactIntegration(t *testing.T) {
	key := newKeyPair(t)
	a := &artifact.Artifact{ID: "files/read", BodyText: "body\n"}
	signer.SignArtifact(a, key)

	store := trust.New()
	store.Add(key.Fingerprint(), key.Public)

	require.NoError(t, signer.VerifyArtifact(a, store))

	a.BodyText = "tampered\n"
	require.Error(t, signer.VerifyArtifact(a, store))
}

func TestVerifyArtifactUntrustedKey(t *testing.T) {
	key := newKeyPair(t)
	a := &artifact.Artifact{ID: "files/read", BodyText: "body\n"}
	signer.SignArtifact(a, key)

	store := trust.New() // empty: key never added
	err := signer.VerifyArtifact(a, store)
	require.Error(t, err)
}
