// Package signer implements the signature line grammar, signing, and
// verification (spec §4.4, §6.2). The cryptographic primitives themselves
// (hash + signature algorithm) are treated as the external black-box
// collaborator spec §1 describes; this package wraps crypto/ed25519 and
// crypto/sha256 behind the host's own KeyPair/PublicKey types so callers
// never import crypto packages directly.
package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/hosterr"
)

// KeyPair is an agent's or operator's signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Fingerprint returns the 16-hex-character fingerprint of the public key
// (spec §6.2 signature line grammar).
func (k KeyPair) Fingerprint() string {
	return Fingerprint(k.Public)
}

// Fingerprint computes the 16-hex-character fingerprint spec §6.2 embeds in
// the signature line: the first 8 bytes of SHA-256(pubkey), hex-encoded.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

const signaturePrefix = "rye:signed:"

// FormatLine renders a signature payload in the spec §6.2 grammar:
//
//	<prefix>rye:signed:<ts>:<hash>:<sig>:<fp>[|registry@<user>]<suffix>
//
// prefix/suffix carry the kind-specific comment framing (e.g. "# " / "").
func FormatLine(prefix, suffix string, sig artifact.Signature) string {
	if sig.Unsigned {
		return fmt.Sprintf("%s%splaceholder:unsigned:unsigned%s", prefix, signaturePrefix, suffix)
	}
	payload := fmt.Sprintf("%s%s:%s:%s:%s",
		signaturePrefix,
		sig.Timestamp.UTC().Format(time.RFC3339),
		sig.ContentHash,
		base64.RawURLEncoding.EncodeToString(sig.SigBytes),
		sig.KeyFingerprint,
	)
	if sig.RegistryProvenance != "" {
		payload += "|registry@" + sig.RegistryProvenance
	}
	return prefix + payload + suffix
}

// ParseLine extracts a Signature from the first line of a file, stripping
// the supplied comment prefix/suffix. Returns an error distinguishing a
// missing signature line from one that fails to parse.
func ParseLine(prefix, suffix, line string) (artifact.Signature, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(line, prefix), suffix)
	idx := strings.Index(trimmed, signaturePrefix)
	if idx < 0 {
		return artifact.Signature{}, hosterr.New(hosterr.IntegrityError, "missing signature line")
	}
	payload := trimmed[idx+len(signaturePrefix):]

	var provenance string
	if bar := strings.Index(payload, "|registry@"); bar >= 0 {
		provenance = payload[bar+len("|registry@"):]
		payload = payload[:bar]
	}

	// The timestamp itself contains ':', so the last three fields are taken
	// from the right and everything before them is the timestamp.
	parts := strings.Split(payload, ":")
	n := len(parts)
	if n >= 3 && parts[n-3] == "placeholder" && parts[n-2] == "unsigned" && parts[n-1] == "unsigned" {
		return artifact.Signature{Unsigned: true}, nil
	}
	if n < 4 {
		return artifact.Signature{}, hosterr.New(hosterr.IntegrityError, "malformed signature line")
	}
	ts, err := time.Parse(time.RFC3339, strings.Join(parts[:n-3], ":"))
	if err != nil {
		return artifact.Signature{}, hosterr.Wrap(hosterr.IntegrityError, err, "malformed signature timestamp")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[n-2])
	if err != nil {
		return artifact.Signature{}, hosterr.Wrap(hosterr.IntegrityError, err, "malformed signature bytes")
	}
	return artifact.Signature{
		Timestamp:          ts,
		ContentHash:        parts[n-3],
		SigBytes:           sigBytes,
		KeyFingerprint:     parts[n-1],
		RegistryProvenance: provenance,
	}, nil
}

// ContentHash returns the hex-encoded SHA-256 hash of body (spec §3.1: the
// hash of body_text after stripping the signature line).
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign computes the content hash over bodyWithoutSignature exactly as given
// (it does not look for or strip a signature line; SplitSignatureLine does
// that) and signs it with key, returning the new Signature (spec §4.4). The
// caller is responsible for prepending FormatLine's output back onto the body.
func Sign(bodyWithoutSignature []byte, key KeyPair) artifact.Signature {
	hash := ContentHash(bodyWithoutSignature)
	sig := ed25519.Sign(key.Private, []byte(hash))
	return artifact.Signature{
		Timestamp:      time.Now().UTC(),
		ContentHash:    hash,
		SigBytes:       sig,
		KeyFingerprint: key.Fingerprint(),
	}
}

// Verify checks that sig's recorded hash matches bodyWithoutSignature and
// that sig.SigBytes verifies against pub. It does not consult a trust store;
// callers combine this with trust.Store lookups (spec §3.2).
func Verify(bodyWithoutSignature []byte, sig artifact.Signature, pub ed25519.PublicKey) error {
	if sig.Unsigned {
		return hosterr.New(hosterr.IntegrityError, "artifact is unsigned")
	}
	want := ContentHash(bodyWithoutSignature)
	if want != sig.ContentHash {
		return hosterr.New(hosterr.IntegrityError, "content hash mismatch: recomputed %s, signature recorded %s", want, sig.ContentHash)
	}
	if !ed25519.Verify(pub, []byte(sig.ContentHash), sig.SigBytes) {
		return hosterr.New(hosterr.IntegrityError, "signature bytes do not verify")
	}
	return nil
}

// SplitSignatureLine separates the first line (signature) from the
// remainder of a file's contents.
func SplitSignatureLine(content []byte) (line string, rest []byte) {
	s := string(content)
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s, nil
	}
	return s[:nl], content[nl+1:]
}
