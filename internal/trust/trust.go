// Package trust implements the trust store: a mapping of key fingerprint to
// public key material, discovered from identity documents under
// trusted_keys/ directories across the three tiers (spec §3.2), plus
// trust-on-first-use pinning for remote registry keys (spec §4.4).
package trust

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/store"
)

// identityDoc is the on-disk shape of a trusted_keys/*.yaml identity
// document: a bare public key plus a human label.
type identityDoc struct {
	Fingerprint string `yaml:"fingerprint"`
	PublicKey   string `yaml:"public_key"` // hex-encoded ed25519 public key
	Label       string `yaml:"label"`
}

// Store is a process-wide mapping of fingerprint to public key, built by
// walking trusted_keys/ directories. It is safe for concurrent reads; TOFU
// pinning (see Pin) takes a write lock.
type Store struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
	pins map[string]string // registry host -> pinned fingerprint
	db   *store.DB         // optional: persists pins across restarts (trust_pins table)
}

// New returns an empty Store. Use Load to populate it from disk.
func New() *Store {
	return &Store{keys: make(map[string]ed25519.PublicKey), pins: make(map[string]string)}
}

// WithPersistence attaches the shared database's trust_pins table, loading
// any previously pinned registry fingerprints into memory and persisting
// future Pin calls there so TOFU state survives a host restart (spec §4.4:
// "no revocation; key replacement is manual" implies the pin itself must
// outlive the process, not just the Store).
func (s *Store) WithPersistence(ctx context.Context, db *store.DB) (*Store, error) {
	rows, err := db.QueryContext(ctx, "SELECT registry_host, fingerprint FROM trust_pins")
	if err != nil {
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "loading persisted trust pins")
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	for rows.Next() {
		var host, fp string
		if err := rows.Scan(&host, &fp); err != nil {
			return nil, hosterr.Wrap(hosterr.ValidationError, err, "scanning persisted trust pin")
		}
		s.pins[host] = fp
	}
	return s, rows.Err()
}

// Load walks trusted_keys/ beneath each of roots (lowest tier first is
// irrelevant here — trust is a flat set, not subject to tier precedence) and
// adds every valid identity document it finds. A malformed identity document
// is a ValidationError, not a panic, matching how the resolver treats a
// malformed artifact.
func Load(roots ...string) (*Store, error) {
	s := New()
	for _, root := range roots {
		dir := filepath.Join(root, "trusted_keys")
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, hosterr.Wrap(hosterr.ValidationError, err, "reading trusted_keys directory %s", dir)
		}
		for _, e := range entries {
			if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, hosterr.Wrap(hosterr.ValidationError, err, "reading identity document %s", path)
			}
			var doc identityDoc
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, hosterr.Wrap(hosterr.ValidationError, err, "parsing identity document %s", path)
			}
			if doc.Fingerprint == "" || doc.PublicKey == "" {
				return nil, hosterr.New(hosterr.ValidationError, "identity document %s missing fingerprint or public_key", path)
			}
			pub, err := hex.DecodeString(doc.PublicKey)
			if err != nil || len(pub) != ed25519.PublicKeySize {
				return nil, hosterr.New(hosterr.ValidationError, "identity document %s has invalid public_key", path)
			}
			s.Add(doc.Fingerprint, ed25519.PublicKey(pub))
		}
	}
	return s, nil
}

// Add installs fingerprint -> pub directly, bypassing disk discovery. Used
// by tests and by registry-pull TOFU pinning.
func (s *Store) Add(fingerprint string, pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[fingerprint] = pub
}

// Lookup returns the public key for fingerprint, or an IntegrityError if it
// is not in the trust store (spec §4.4's fourth distinct fail condition).
func (s *Store) Lookup(fingerprint string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.keys[fingerprint]
	if !ok {
		return nil, hosterr.New(hosterr.IntegrityError, "key fingerprint %s not in trust store", fingerprint)
	}
	return pub, nil
}

// Pin records the trust-on-first-use fingerprint for a registry host. A
// later call for the same host with a different fingerprint fails — TOFU
// means the first pull wins and subsequent pulls must match (spec §4.4: "no
// revocation; key replacement is manual").
func (s *Store) Pin(registryHost, fingerprint string, pub ed25519.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pins[registryHost]; ok {
		if existing != fingerprint {
			return hosterr.New(hosterr.IntegrityError,
				"registry %s key fingerprint changed from pinned %s to %s; manual key replacement required",
				registryHost, existing, fingerprint)
		}
		return nil
	}
	s.pins[registryHost] = fingerprint
	s.keys[fingerprint] = pub
	if s.db != nil {
		if _, err := s.db.ExecContext(context.Background(),
			"INSERT INTO trust_pins (registry_host, fingerprint) VALUES (?, ?)", registryHost, fingerprint); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "persisting pin for %s", registryHost)
		}
	}
	return nil
}

// PinnedFingerprint returns the fingerprint pinned for registryHost, if any.
func (s *Store) PinnedFingerprint(registryHost string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.pins[registryHost]
	return fp, ok
}
