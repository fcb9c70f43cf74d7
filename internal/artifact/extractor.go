package artifact

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ryehost/rye/internal/hosterr"
)

// Extractor is a kind-specific capability set: the extensions it owns, how
// it parses a body into metadata, and how it validates the result. This is
// the extractor-hierarchy pattern from spec §9 ("deep inheritance ...
// capability-set interfaces: every extractor exposes {extensions, parser,
// rule-table, validator}"), registered in a table keyed by kind.
type Extractor interface {
	// Extensions lists the on-disk extensions tried in order for this kind.
	Extensions() []string
	// Parse splits body (post signature-line-stripped content) into
	// metadata and the remaining body text.
	Parse(body []byte) (Metadata, string, error)
	// Validate enforces metadata constraints: the category/id-prefix check
	// common to every kind plus any kind-specific ones. The resolver calls
	// it and performs no separate category check of its own.
	Validate(id string, md Metadata) error
}

type registry struct {
	mu         sync.RWMutex
	extractors map[Kind]Extractor
}

var defaultRegistry = &registry{extractors: make(map[Kind]Extractor)}

// Register installs an Extractor for kind in the default registry. Intended
// to be called from init() functions of extractor implementations.
func Register(kind Kind, ex Extractor) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.extractors[kind] = ex
}

// ExtractorFor returns the registered Extractor for kind, or an error if
// none is registered.
func ExtractorFor(kind Kind) (Extractor, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	ex, ok := defaultRegistry.extractors[kind]
	if !ok {
		return nil, hosterr.New(hosterr.ValidationError, "no extractor registered for kind %q", kind)
	}
	return ex, nil
}

func init() {
	Register(Workflow, yamlFrontMatterExtractor{kind: Workflow})
	Register(Knowledge, yamlFrontMatterExtractor{kind: Knowledge})
	Register(Tool, yamlFrontMatterExtractor{kind: Tool, requireRuntimeRef: true})
}

// yamlFrontMatterExtractor parses "---\n<yaml>\n---\n<body>" framing, the
// common shape for all three kinds per SPEC_FULL.md's [ARTIFACT] expansion:
// workflow/knowledge bodies are YAML front matter plus Markdown/text; tool
// bodies are YAML front matter plus an opaque config tail.
type yamlFrontMatterExtractor struct {
	kind              Kind
	requireRuntimeRef bool
}

func (e yamlFrontMatterExtractor) Extensions() []string {
	switch e.kind {
	case Workflow:
		return []string{".workflow.yaml", ".workflow.yml"}
	case Tool:
		return []string{".tool.yaml", ".tool.yml"}
	case Knowledge:
		return []string{".knowledge.yaml", ".md.yaml", ".yaml"}
	default:
		return nil
	}
}

const frontMatterDelim = "---"

func (e yamlFrontMatterExtractor) Parse(body []byte) (Metadata, string, error) {
	text := string(body)
	lines := strings.SplitN(text, "\n", -1)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return nil, "", hosterr.New(hosterr.ValidationError, "%s artifact missing front-matter delimiter", e.kind)
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, "", hosterr.New(hosterr.ValidationError, "%s artifact front-matter never closed", e.kind)
	}
	rawYAML := strings.Join(lines[1:end], "\n")
	rest := strings.Join(lines[end+1:], "\n")

	md := Metadata{}
	if strings.TrimSpace(rawYAML) != "" {
		if err := yaml.Unmarshal([]byte(rawYAML), &md); err != nil {
			return nil, "", hosterr.Wrap(hosterr.ValidationError, err, "parsing %s front-matter", e.kind)
		}
	}
	return md, strings.TrimPrefix(rest, "\n"), nil
}

func (e yamlFrontMatterExtractor) Validate(id string, md Metadata) error {
	if md.Category() == "" {
		return hosterr.New(hosterr.ValidationError, "artifact %q missing required metadata field %q", id, "category")
	}
	if dir := categoryOf(id); dir != md.Category() {
		return hosterr.New(hosterr.ValidationError,
			"artifact %q: category %q does not match id directory prefix %q", id, md.Category(), dir)
	}
	if e.requireRuntimeRef && md.RuntimeRef() == "" {
		return hosterr.New(hosterr.ValidationError, "tool artifact %q missing required metadata field %q", id, "runtime_ref")
	}
	return nil
}

// categoryOf returns the directory prefix of a path-like artifact id, the
// invariant spec §3.1 requires metadata.category to equal.
func categoryOf(id string) string {
	i := strings.LastIndex(id, "/")
	if i < 0 {
		return ""
	}
	return id[:i]
}

var _ fmt.Stringer = Kind("")

func (k Kind) String() string { return string(k) }
