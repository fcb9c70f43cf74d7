package resolver

import (
	"math"
	"strings"

	"github.com/ryehost/rye/internal/artifact"
)

// term is one parsed query atom: a bare word, a quoted phrase, a '*'
// wildcard, or a '~' fuzzy term, optionally negated with a leading '-'.
type term struct {
	text     string
	phrase   bool
	wildcard bool
	fuzzy    bool
	negate   bool
}

// andGroup is a set of terms joined by implicit AND (and NOT, via negated
// terms). A Query is the OR of its andGroups (spec §4.2: "boolean AND/OR/NOT").
type andGroup struct {
	terms []term
}

// Query is a parsed search expression.
type Query struct {
	groups []andGroup
}

// parseQuery parses the dispatcher's free-text query syntax: "OR" (as a
// bare, case-sensitive token outside quotes) separates alternative AND
// groups; within a group, a leading "-" negates a term, double quotes mark
// an exact phrase, and "*" inside a bare term is a wildcard. An empty query
// matches every candidate.
func parseQuery(q string) (Query, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Query{}, nil
	}

	var groups []andGroup
	for _, chunk := range splitOnBareOR(q) {
		terms, err := tokenizeGroup(chunk)
		if err != nil {
			return Query{}, err
		}
		if len(terms) > 0 {
			groups = append(groups, andGroup{terms: terms})
		}
	}
	return Query{groups: groups}, nil
}

// splitOnBareOR splits q on the literal token "OR", tracking quote state so
// an "OR" inside a quoted phrase is not treated as a separator.
func splitOnBareOR(q string) []string {
	var chunks []string
	var cur strings.Builder
	inQuote := false
	for _, w := range strings.Fields(q) {
		if strings.Count(w, `"`)%2 == 1 {
			inQuote = !inQuote
		}
		if !inQuote && w == "OR" {
			if s := strings.TrimSpace(cur.String()); s != "" {
				chunks = append(chunks, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteString(w)
		cur.WriteByte(' ')
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		chunks = append(chunks, s)
	}
	if len(chunks) == 0 {
		return []string{q}
	}
	return chunks
}

// tokenizeGroup parses one AND-group's text into terms.
func tokenizeGroup(s string) ([]term, error) {
	var terms []term
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		for i < len(runes) && runes[i] == ' ' {
			i++
		}
		if i >= len(runes) {
			break
		}
		negate := false
		if runes[i] == '-' {
			negate = true
			i++
		}
		if i < len(runes) && runes[i] == '"' {
			i++
			start := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			text := string(runes[start:i])
			if i < len(runes) {
				i++ // closing quote
			}
			if text != "" {
				terms = append(terms, term{text: strings.ToLower(text), phrase: true, negate: negate})
			}
			continue
		}
		start := i
		for i < len(runes) && runes[i] != ' ' {
			i++
		}
		raw := string(runes[start:i])
		if raw == "" {
			continue
		}
		t := term{negate: negate}
		if strings.HasPrefix(raw, "~") {
			t.fuzzy = true
			raw = strings.TrimPrefix(raw, "~")
		}
		if strings.Contains(raw, "*") {
			t.wildcard = true
		}
		t.text = strings.ToLower(raw)
		if t.text != "" {
			terms = append(terms, t)
		}
	}
	return terms, nil
}

// weighted fields over which scoring runs, in spec §4.2 order.
type field struct {
	name   string
	text   string
	weight float64
}

func fieldsOf(a *artifact.Artifact) []field {
	return []field{
		{"title", a.Metadata.Title(), weightTitle},
		{"name", a.Metadata.Name(), weightName},
		{"description", a.Metadata.Description(), weightDescription},
		{"category", a.Metadata.Category(), weightCategory},
		{"body", a.BodyText, weightBody},
	}
}

// scoreArtifact returns (score, matched). matched is false when a is
// excluded by the query (an AND-group's negated term is present, or no
// OR-group's positive terms are satisfied); an empty Query matches every
// artifact with a neutral score of 0.
func scoreArtifact(q Query, a *artifact.Artifact, avgBodyLen float64, docCount int) (float64, bool) {
	if len(q.groups) == 0 {
		return 0, true
	}

	fields := fieldsOf(a)
	bodyLen := float64(len(strings.Fields(a.BodyText)))

	var best float64
	matchedAny := false
	for _, g := range q.groups {
		score, ok := scoreGroup(g, fields, bodyLen, avgBodyLen, docCount)
		if !ok {
			continue
		}
		matchedAny = true
		if score > best {
			best = score
		}
	}
	return best, matchedAny
}

func scoreGroup(g andGroup, fields []field, bodyLen, avgBodyLen float64, docCount int) (float64, bool) {
	var total float64
	positiveSeen := false
	for _, t := range g.terms {
		hit, fieldScore := scoreTerm(t, fields, bodyLen, avgBodyLen, docCount)
		if t.negate {
			if hit {
				return 0, false
			}
			continue
		}
		positiveSeen = true
		if !hit {
			return 0, false
		}
		total += fieldScore
	}
	if !positiveSeen {
		// an all-negated group matches anything not excluded
		return 0, true
	}
	total += proximityBonus(g, fields)
	return total, true
}

// scoreTerm reports whether t matches anywhere in fields, and a BM25-like
// weighted score for that match.
func scoreTerm(t term, fields []field, bodyLen, avgBodyLen float64, docCount int) (bool, float64) {
	hit := false
	var score float64
	for _, f := range fields {
		tf := termFrequency(t, f.text)
		if tf == 0 {
			continue
		}
		hit = true
		idf := math.Log(1 + float64(docCount)/(1+tf))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*safeRatio(bodyLen, avgBodyLen)))
		score += f.weight * idf * norm
	}
	return hit, score
}

func safeRatio(n, d float64) float64 {
	if d == 0 {
		return 1
	}
	return n / d
}

// termFrequency counts occurrences of t within text, honoring phrase,
// wildcard, and bounded-fuzzy matching.
func termFrequency(t term, text string) float64 {
	text = strings.ToLower(text)
	if t.phrase {
		return float64(strings.Count(text, t.text))
	}
	words := strings.Fields(text)
	var count float64
	for _, w := range words {
		switch {
		case t.wildcard && wildcardMatch(t.text, w):
			count++
		case t.fuzzy && levenshtein(t.text, w) <= fuzzyBudget(t.text):
			count++
		case !t.wildcard && !t.fuzzy && w == t.text:
			count++
		}
	}
	return count
}

func fuzzyBudget(s string) int {
	if len(s) <= 4 {
		return 1
	}
	return 2
}

// wildcardMatch implements the single '*' (match-any-suffix-or-infix)
// wildcard over a bare word; '*' may appear anywhere in pattern.
func wildcardMatch(pattern, word string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == word
	}
	pos := 0
	for i, p := range parts {
		if p == "" {
			continue
		}
		idx := strings.Index(word[pos:], p)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(p)
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(word, last) {
		return false
	}
	return true
}

// levenshtein computes bounded edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			cur[j] = min3(del, ins, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// proximityWindow bounds how many tokens apart two plain (non-phrase,
// non-negated) terms in the same AND-group may appear in the body and still
// earn a proximity bonus (spec §4.2: "optional proximity window").
const proximityWindow = 20

// proximityBonus rewards AND-groups whose plain terms co-occur near each
// other in the body text, on top of the independent per-term BM25 score.
func proximityBonus(g andGroup, fields []field) float64 {
	var bodyText string
	for _, f := range fields {
		if f.name == "body" {
			bodyText = f.text
		}
	}
	var plain []string
	for _, t := range g.terms {
		if !t.negate && !t.phrase && !t.wildcard && !t.fuzzy {
			plain = append(plain, t.text)
		}
	}
	if len(plain) < 2 {
		return 0
	}
	tokens := strings.Fields(strings.ToLower(bodyText))
	positions := make(map[string][]int)
	for i, w := range tokens {
		positions[w] = append(positions[w], i)
	}
	minSpan := -1
	for _, p0 := range positions[plain[0]] {
		for _, p1 := range positions[plain[len(plain)-1]] {
			span := p1 - p0
			if span < 0 {
				span = -span
			}
			if span <= proximityWindow && (minSpan == -1 || span < minSpan) {
				minSpan = span
			}
		}
	}
	if minSpan == -1 {
		return 0
	}
	return float64(proximityWindow-minSpan) / float64(proximityWindow)
}
