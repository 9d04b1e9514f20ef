// Package normalize canonicalizes raw citation text into the stable key used
// as a Reference identity.
//
// Normalize is pure and idempotent: Normalize(Normalize(x)) == Normalize(x).
// Curly quotes are left untouched because publisher-specific parsers rely on
// them to locate chapter titles.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// invisible lists code points removed outright from citation text.
var invisible = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
	"\ufeff", "",
	"\u00ad", "",
)

// letters folds Latin letters that have no canonical decomposition.
var letters = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"þ", "th", "Þ", "TH",
	"ð", "d", "Ð", "D",
	"ı", "i",
)

// Normalizer canonicalizes citation strings.
type Normalizer struct {
	transliterate bool
}

// New returns a Normalizer. When transliterate is true, accented letters are
// folded to their closest ASCII equivalent.
func New(transliterate bool) *Normalizer {
	return &Normalizer{transliterate: transliterate}
}

// Normalize returns the canonical form of raw.
func (n *Normalizer) Normalize(raw string) string {
	if n.transliterate {
		return Clean(Transliterate(raw))
	}
	return Clean(raw)
}

// Normalize cleans and transliterates raw.
func Normalize(raw string) string {
	return Clean(Transliterate(raw))
}

// Clean removes invisible characters, collapses whitespace runs to a single
// space and trims the result.
func Clean(raw string) string {
	s := invisible.Replace(raw)
	return strings.Join(strings.Fields(s), " ")
}

// Transliterate strips combining marks and folds special Latin letters.
func Transliterate(raw string) string {
	// transform.Chain carries state; build one per call so callers can run concurrently.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, raw)
	if err != nil {
		out = raw
	}
	return letters.Replace(out)
}
