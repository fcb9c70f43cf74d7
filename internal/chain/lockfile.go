package chain

import (
	"encoding/json"
	"os"

	"github.com/ryehost/rye/internal/hosterr"
)

// Lockfile pins the exact artifact (id, version, content hash, space) at
// every position of a chain the last time it was resolved, so a later
// Execute can detect drift before running anything (spec §6.3).
type Lockfile struct {
	RootID  string         `json:"root_id"`
	Entries []LockEntry    `json:"entries"`
	Extra   map[string]any `json:"-"`
}

// LockEntry pins one chain position.
type LockEntry struct {
	ID          string `json:"id"`
	Version     string `json:"version,omitempty"`
	ContentHash string `json:"content_hash"`
	Space       string `json:"space"`
}

// Lock builds a Lockfile from a resolved Chain.
func Lock(c *Chain) *Lockfile {
	lf := &Lockfile{RootID: c.RootID}
	for _, link := range c.Links {
		lf.Entries = append(lf.Entries, LockEntry{
			ID:          link.Artifact.ID,
			Version:     link.Artifact.Version,
			ContentHash: link.Artifact.Signature.ContentHash,
			Space:       link.Space.String(),
		})
	}
	return lf
}

// WriteLockfile serializes lf to path as indented JSON (spec §6.3).
func WriteLockfile(path string, lf *Lockfile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "encoding lockfile")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "writing lockfile %s", path)
	}
	return nil
}

// ReadLockfile loads a Lockfile from path. A missing file is not an error —
// callers treat a nil Lockfile as "unlocked".
func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "reading lockfile %s", path)
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "decoding lockfile %s", path)
	}
	return &lf, nil
}

// CheckStale compares lf against a freshly built chain and reports the
// first position whose pinned content hash no longer matches what resolves
// today (spec §6.3, §7 StaleLockfile).
func CheckStale(lf *Lockfile, c *Chain) error {
	if lf == nil {
		return nil
	}
	if len(lf.Entries) != len(c.Links) {
		return hosterr.New(hosterr.StaleLockfile,
			"lockfile for %q pins %d elements but the chain now resolves to %d",
			lf.RootID, len(lf.Entries), len(c.Links))
	}
	for i, entry := range lf.Entries {
		link := c.Links[i]
		if entry.ID != link.Artifact.ID {
			return hosterr.New(hosterr.StaleLockfile,
				"lockfile position %d pins %q but chain now resolves %q", i, entry.ID, link.Artifact.ID)
		}
		if entry.ContentHash != link.Artifact.Signature.ContentHash {
			return hosterr.New(hosterr.StaleLockfile,
				"lockfile position %d (%q) content hash changed since it was pinned", i, entry.ID)
		}
	}
	return nil
}
