package signer

import (
	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/trust"
)

// VerifyArtifact performs the full integrity check spec §3.2 and §4.2
// describe: recompute the content hash over a.BodyText, compare it against
// the recorded signature hash, then verify the signature bytes against a key
// found in store for the stated fingerprint. Any mismatch is an
// IntegrityError; there is no fallback and no silent repair.
func VerifyArtifact(a *artifact.Artifact, store *trust.Store) error {
	if a.Signature.Unsigned {
		return hosterr.New(hosterr.IntegrityError, "artifact %s is unsigned", a.ID)
	}
	pub, err := store.Lookup(a.Signature.KeyFingerprint)
	if err != nil {
		return hosterr.Wrap(hosterr.IntegrityError, err, "artifact %s", a.ID)
	}
	if err := Verify([]byte(a.BodyText), a.Signature, pub); err != nil {
		return hosterr.Wrap(hosterr.IntegrityError, err, "artifact %s", a.ID)
	}
	return nil
}

// SignArtifact signs a freshly-extracted artifact in place, producing a new
// Signature. Callers persist FormatLine(prefix, suffix, a.Signature) +
// a.BodyText back to disk (spec §4.4: sign idempotence modulo timestamp —
// re-signing recomputes the same hash as long as BodyText is unchanged, but
// always produces a fresh timestamp and signature bytes).
func SignArtifact(a *artifact.Artifact, key KeyPair) {
	a.Signature = Sign([]byte(a.BodyText), key)
}
