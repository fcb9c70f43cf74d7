package resolver

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ryehost/rye/internal/artifact"
)

// SearchResult is one ranked hit, including a short preview of the match.
type SearchResult struct {
	ID      string
	Kind    artifact.Kind
	Space   string
	Score   float64
	Preview string
}

// Scope selects which kind (and optional category prefix) a search covers,
// e.g. "tool" or "tool.files.*" (spec §4.1).
type Scope struct {
	Kind   artifact.Kind
	Prefix string // category prefix, "" or "*" means unrestricted
}

// ParseScope parses the dispatcher's "<kind>[.<prefix>.*]" scope syntax.
func ParseScope(s string) (Scope, error) {
	parts := strings.SplitN(s, ".", 2)
	sc := Scope{Kind: artifact.Kind(parts[0])}
	if len(parts) == 2 {
		sc.Prefix = strings.TrimSuffix(parts[1], ".*")
	}
	switch sc.Kind {
	case artifact.Workflow, artifact.Tool, artifact.Knowledge:
	default:
		return Scope{}, errMalformedScope(s)
	}
	return sc, nil
}

// Pagination bounds a search's result window.
type Pagination struct {
	Offset int
	Limit  int // 0 means "default page size" (20)
}

func (p Pagination) limit() int {
	if p.Limit <= 0 {
		return 20
	}
	return p.Limit
}

// field weights (spec §4.2): title x3, name x3, description x2, category
// x1.5, body x1.
const (
	weightTitle       = 3.0
	weightName        = 3.0
	weightDescription = 2.0
	weightCategory    = 1.5
	weightBody        = 1.0
)

// bm25 constants, standard defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Search implements spec §4.2: enumerate artifacts across the chosen tiers
// for scope, dedupe by id (higher tier shadows lower), score each surviving
// candidate with a BM25-like formula over weighted metadata fields, and
// break ties by tier precedence then id.
func (r *Resolver) Search(ctx context.Context, query string, scope Scope, space *artifact.Space, page Pagination) ([]SearchResult, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.Search")
	defer span.End()

	if r.cache != nil {
		spacePtr := (*string)(nil)
		if space != nil {
			s := space.String()
			spacePtr = &s
		}
		key := CacheKey(scopeKey(scope), query, spacePtr)
		if cached, ok := r.cache.Get(ctx, key); ok {
			return paginate(cached, page), nil
		}
	}

	q, err := parseQuery(query)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	candidates := r.enumerate(scope, space)
	avgLen := averageBodyLen(candidates)

	scored := make([]SearchResult, 0, len(candidates))
	for id, c := range candidates {
		score, ok := scoreArtifact(q, c.artifact, avgLen, len(candidates))
		if !ok {
			continue
		}
		scored = append(scored, SearchResult{
			ID:      id,
			Kind:    c.artifact.Kind,
			Space:   c.artifact.Space.String(),
			Score:   score,
			Preview: preview(c.artifact),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ri := artifact.Space{Tier: strings.SplitN(scored[i].Space, ":", 2)[0]}.Rank()
		rj := artifact.Space{Tier: strings.SplitN(scored[j].Space, ":", 2)[0]}.Rank()
		if ri != rj {
			return ri > rj
		}
		return scored[i].ID < scored[j].ID
	})

	if r.cache != nil {
		spacePtr := (*string)(nil)
		if space != nil {
			s := space.String()
			spacePtr = &s
		}
		key := CacheKey(scopeKey(scope), query, spacePtr)
		r.cache.Set(ctx, key, scored, 30*time.Second)
	}

	return paginate(scored, page), nil
}

func scopeKey(s Scope) string { return string(s.Kind) + "." + s.Prefix }

func paginate(results []SearchResult, page Pagination) []SearchResult {
	if page.Offset >= len(results) {
		return nil
	}
	end := page.Offset + page.limit()
	if end > len(results) {
		end = len(results)
	}
	return results[page.Offset:end]
}

type candidate struct {
	artifact *artifact.Artifact
}

// enumerate walks the chosen tiers for scope and dedupes by id, letting a
// higher-tier match shadow a lower-tier one (spec §4.2).
func (r *Resolver) enumerate(scope Scope, space *artifact.Space) map[string]candidate {
	out := make(map[string]candidate)
	bestRank := make(map[string]int)

	ex, err := artifact.ExtractorFor(scope.Kind)
	if err != nil {
		return out
	}

	for _, tr := range r.tierRoots() {
		if space != nil && !sameSpace(tr.space, *space) {
			continue
		}
		if tr.space.Tier == artifact.TierSystem {
			bundle := r.bundleNamed(tr.space.Bundle)
			if bundle != nil && scope.Prefix != "" && !bundle.owns(scope.Prefix) {
				continue
			}
		}
		_ = filepath.Walk(tr.root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil || info == nil || info.IsDir() {
				return nil
			}
			var ext string
			for _, e := range ex.Extensions() {
				if strings.HasSuffix(path, e) {
					ext = e
					break
				}
			}
			if ext == "" {
				return nil
			}
			rel, err := filepath.Rel(tr.root, path)
			if err != nil {
				return nil
			}
			id := filepath.ToSlash(strings.TrimSuffix(rel, ext))
			if scope.Prefix != "" && scope.Prefix != "*" && !strings.HasPrefix(id, scope.Prefix) {
				return nil
			}
			rank := tr.space.Rank()
			if prev, ok := bestRank[id]; ok && prev >= rank {
				return nil
			}
			a, err := r.Resolve(context.Background(), scope.Kind, id, &tr.space)
			if err != nil {
				return nil // unresolvable/malformed artifacts are excluded, not fatal
			}
			out[id] = candidate{artifact: a}
			bestRank[id] = rank
			return nil
		})
	}
	return out
}

func averageBodyLen(candidates map[string]candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	total := 0
	for _, c := range candidates {
		total += len(strings.Fields(c.artifact.BodyText))
	}
	return float64(total) / float64(len(candidates))
}

func preview(a *artifact.Artifact) string {
	body := strings.TrimSpace(a.BodyText)
	if len(body) > 160 {
		body = body[:160] + "…"
	}
	return body
}

func errMalformedScope(s string) error {
	return &scopeError{scope: s}
}

type scopeError struct{ scope string }

func (e *scopeError) Error() string { return "malformed search scope: " + e.scope }
