// Package capability implements capability-token glob matching (spec §3.7)
// and the attenuation check used at thread-spawn time (spec §4.5).
//
// A token has the form "<verb>.<kind>.<dotted-id-pattern>". Patterns are
// matched segment-by-segment (split on '.') with '*' matching exactly one
// segment (a trailing '*' matches one or more remaining segments) and '?'
// matching a single character within a segment, mirroring
// the allow/deny list filtering idiom the pack's A2A policy package uses for
// skill names, generalized to wildcarded dotted segments.
package capability

import (
	"path"
	"strings"
)

// Pattern is a single capability glob pattern, e.g. "execute.tool.files.*".
type Pattern string

// Set is an unordered collection of capability patterns held by a thread.
type Set []Pattern

// Required builds the capability string a permission check must match,
// e.g. Required("execute", "tool", "files/read") -> "execute.tool.files.read".
func Required(verb, kind, id string) string {
	dotted := strings.ReplaceAll(id, "/", ".")
	if dotted == "" {
		return verb + "." + kind
	}
	return verb + "." + kind + "." + dotted
}

// Matches reports whether pattern matches token under the segment-wise
// glob semantics described in the package doc.
func Matches(pattern Pattern, token string) bool {
	pSegs := strings.Split(string(pattern), ".")
	tSegs := strings.Split(token, ".")
	return matchSegments(pSegs, tSegs)
}

func matchSegments(pattern, token []string) bool {
	if len(pattern) != len(token) {
		// A trailing "*" pattern segment may stand in for "rest of the path"
		// only when it is the final segment and the pattern is shorter than
		// or equal to the token (e.g. "execute.tool.*" covers "execute.tool.a.b").
		if len(pattern) > 0 && pattern[len(pattern)-1] == "*" && len(pattern) <= len(token)+1 {
			// fallthrough handled below by comparing the shared prefix and
			// treating the trailing "*" as matching everything remaining.
		} else {
			return false
		}
	}
	for i, p := range pattern {
		if p == "*" && i == len(pattern)-1 && i < len(token) {
			return true
		}
		if i >= len(token) {
			return false
		}
		ok, err := path.Match(p, token[i])
		if err != nil || !ok {
			return false
		}
	}
	return len(pattern) == len(token)
}

// Allows reports whether any pattern in the set matches token.
func (s Set) Allows(token string) bool {
	for _, p := range s {
		if Matches(p, token) {
			return true
		}
	}
	return false
}

// Implies reports whether pattern is implied by at least one pattern in s —
// i.e. every concrete capability pattern covers a subset of what parent could
// grant. Used for the attenuation invariant (spec §4.5, §8 property 7): a
// child pattern is implied by a parent pattern if the parent pattern would
// match every concrete token the child pattern can match. Since patterns are
// themselves glob strings, we approximate this conservatively: a child
// pattern is implied by a parent pattern if the parent matches the child
// pattern's own literal segments (treating child wildcards as matching a
// literal "*" segment only when the parent also has "*" or matches literally
// in that position), which is exact for the common case where children never
// widen relative to a parent segment.
func Implies(parent Pattern, child Pattern) bool {
	pSegs := strings.Split(string(parent), ".")
	cSegs := strings.Split(string(child), ".")
	return impliesSegments(pSegs, cSegs)
}

func impliesSegments(parent, child []string) bool {
	for i, p := range parent {
		if p == "*" && i == len(parent)-1 {
			return true
		}
		if i >= len(child) {
			return false
		}
		c := child[i]
		if p == c {
			continue
		}
		if p == "*" {
			continue
		}
		ok, err := path.Match(p, c)
		if err != nil || !ok {
			return false
		}
	}
	return len(parent) == len(child)
}

// Attenuates reports whether every pattern in child is implied by at least
// one pattern in parent (spec §4.5 capability attenuation invariant).
func Attenuates(parent, child Set) bool {
	for _, c := range child {
		covered := false
		for _, p := range parent {
			if Implies(p, c) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
