package normalize

import (
	"regexp"
	"strings"
)

var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[-._;()/:A-Za-z0-9]+`)

// trimDOI drops sentence punctuation a citation places after a DOI.
func trimDOI(doi string) string {
	return strings.TrimRight(doi, ".,;:")
}

// FirstDOI returns the first DOI in text, or "" when there is none.
func FirstDOI(text string) string {
	return trimDOI(doiPattern.FindString(text))
}

// DOIs returns every distinct DOI in text, in order of appearance.
func DOIs(text string) []string {
	matches := doiPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = trimDOI(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
