// Package artifact defines the host's content model: signed files plus
// derived metadata, in one of three disjoint kinds (spec §3.1).
package artifact

import "time"

// Kind discriminates the three artifact kinds. Each kind has its own body
// semantics and its own registered extractor (see Extractor).
type Kind string

const (
	Workflow  Kind = "workflow"
	Tool      Kind = "tool"
	Knowledge Kind = "knowledge"
)

// Space is the origin tier an artifact was resolved from. Bundle
// distinguishes independent system-tier bundles (spec §4.2).
type Space struct {
	// Tier is one of "project", "user", or "system".
	Tier string
	// Bundle names the system bundle when Tier == "system"; empty otherwise.
	Bundle string
}

const (
	TierProject = "project"
	TierUser    = "user"
	TierSystem  = "system"
)

// Rank returns the tier-precedence rank used throughout the resolver and
// chain validator: project=3, user=2, system=1 (spec §3.3, §4.3 rule 2).
func (s Space) Rank() int {
	switch s.Tier {
	case TierProject:
		return 3
	case TierUser:
		return 2
	case TierSystem:
		return 1
	default:
		return 0
	}
}

// String renders the space the way lockfiles do: "system:bundle" or the bare
// tier name (spec §6.3).
func (s Space) String() string {
	if s.Tier == TierSystem && s.Bundle != "" {
		return TierSystem + ":" + s.Bundle
	}
	return s.Tier
}

// RuntimePrimitiveSentinel is the runtime_ref value that marks a tool as
// itself being a terminal primitive descriptor (spec §3.1).
const RuntimePrimitiveSentinel = "«primitive»"

// Signature is the parsed payload of an artifact's signature line (spec §3.1,
// §6.2).
type Signature struct {
	Timestamp          time.Time
	ContentHash        string // 64-hex
	SigBytes           []byte
	KeyFingerprint     string // 16-hex
	RegistryProvenance string // "" unless pulled from a registry
	Unsigned           bool   // true for the unsigned placeholder line
}

// Metadata is the kind-specific key/value mapping extracted from an
// artifact's body. Well-known keys (category, title, name, description,
// runtime_ref, tags) are read via the accessor methods below; anything
// else stays in the map verbatim since artifact bodies are opaque to the
// host (spec §1 non-goals).
type Metadata map[string]any

func (m Metadata) str(key string) string {
	v, _ := m[key].(string)
	return v
}

// Category returns the metadata "category" field, which spec §3.1 requires
// to equal the directory prefix of the artifact's id.
func (m Metadata) Category() string { return m.str("category") }

// Title returns the metadata "title" field (search field, weight x3).
func (m Metadata) Title() string { return m.str("title") }

// Name returns the metadata "name" field (search field, weight x3).
func (m Metadata) Name() string { return m.str("name") }

// Description returns the metadata "description" field (search field, weight x2).
func (m Metadata) Description() string { return m.str("description") }

// RuntimeRef returns the "runtime_ref" field for tool artifacts: either the
// next artifact id in the chain, or RuntimePrimitiveSentinel.
func (m Metadata) RuntimeRef() string { return m.str("runtime_ref") }

// Tags returns the "tags" field as a string slice, tolerating []any (as
// decoded from YAML) or []string.
func (m Metadata) Tags() []string {
	switch v := m["tags"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Artifact is a resolved, signed file plus its extracted metadata.
type Artifact struct {
	ID      string
	Kind    Kind
	Version string // semantic version triple, e.g. "1.2.3"
	Space   Space

	// BodyText is the raw content excluding the signature line.
	BodyText string
	Metadata Metadata
	Signature Signature

	// Path is the on-disk location this artifact was loaded from.
	Path string
}

// ContentHash recomputation is owned by the signer package (it is the one
// place allowed to know the hash algorithm); Artifact only carries the
// recorded value from Signature.
