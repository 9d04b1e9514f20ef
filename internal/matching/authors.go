package matching

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var authorToken = regexp.MustCompile(`[\p{L}\p{N}]+`)

// authorSet splits an author string into lowercase name tokens and
// single-letter initials.
type authorSet struct {
	names    map[string]bool
	initials map[string]bool
}

func newAuthorSet(authors string) authorSet {
	s := authorSet{names: make(map[string]bool), initials: make(map[string]bool)}
	for _, tok := range authorToken.FindAllString(strings.ToLower(authors), -1) {
		if utf8.RuneCountInString(tok) == 1 {
			s.initials[tok] = true
		} else {
			s.names[tok] = true
		}
	}
	return s
}

func (s authorSet) empty() bool {
	return len(s.names) == 0 && len(s.initials) == 0
}

// tokens returns names and initials, plus the initial of every name absent
// from other whose initial other carries. This lets "J. Smith" meet "John Smith".
func (s authorSet) tokens(other authorSet) map[string]bool {
	out := make(map[string]bool, len(s.names)+len(s.initials))
	for n := range s.names {
		out[n] = true
		if other.names[n] {
			continue
		}
		r, _ := utf8.DecodeRuneInString(n)
		if initial := string(r); other.initials[initial] {
			out[initial] = true
		}
	}
	for i := range s.initials {
		out[i] = true
	}
	return out
}

// AuthorOverlap scores how far two author strings agree, from 0 to 1.
// Tokens of one letter are initials; longer tokens are names. A name on one
// side that the other side only carries as an initial counts as shared.
// The score is shared tokens over all tokens.
//
// Returns 0 if either string has no tokens. The result is symmetric.
func AuthorOverlap(a, b string) float64 {
	sa, sb := newAuthorSet(a), newAuthorSet(b)
	if sa.empty() || sb.empty() {
		return 0
	}

	ta, tb := sa.tokens(sb), sb.tokens(sa)
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// AuthorsMatch reports whether the overlap of a and b reaches threshold.
// A side without authors never matches, whatever the threshold.
func AuthorsMatch(a, b string, threshold float64) bool {
	if newAuthorSet(a).empty() || newAuthorSet(b).empty() {
		return false
	}
	return AuthorOverlap(a, b) >= threshold
}
