package metadata

import (
	"strings"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/normalize"
)

// ParseAuthor splits a Dublin Core creator into name parts. It accepts
// "Last, First Middle" and "First Middle Last". Anything else, such as a
// single word or an empty given name, is kept whole as the last name.
func ParseAuthor(creator string) (domain.Author, bool) {
	creator = normalize.Clean(creator)
	if creator == "" {
		return domain.Author{}, false
	}

	var first, middle, last string
	if family, given, ok := strings.Cut(creator, ","); ok {
		family = strings.TrimSpace(family)
		parts := strings.Fields(given)
		if family == "" || len(parts) == 0 || strings.Contains(given, ",") {
			last = creator
		} else {
			last = family
			first = parts[0]
			middle = strings.Join(parts[1:], " ")
		}
	} else {
		parts := strings.Fields(creator)
		if len(parts) == 1 {
			last = parts[0]
		} else {
			first = parts[0]
			middle = strings.Join(parts[1:len(parts)-1], " ")
			last = parts[len(parts)-1]
		}
	}

	return domain.Author{
		StandardisedName: standardise(first, middle, last),
		FirstName:        first,
		MiddleName:       middle,
		LastName:         last,
		ReferenceName:    referenceName(first, middle, last),
	}, true
}

// standardise builds the author key: "last, first middle", transliterated
// and lowercased so spelling variants of one name share a row.
func standardise(first, middle, last string) string {
	name := last
	if given := strings.TrimSpace(first + " " + middle); given != "" {
		name += ", " + given
	}
	return strings.ToLower(normalize.Normalize(name))
}

// referenceName renders the name the way reference lists cite it: "Last, F. M.".
func referenceName(first, middle, last string) string {
	var initials []string
	for _, part := range strings.Fields(first + " " + middle) {
		r := []rune(strings.Trim(part, "."))
		if len(r) > 0 {
			initials = append(initials, string(r[0])+".")
		}
	}
	if len(initials) == 0 {
		return last
	}
	return last + ", " + strings.Join(initials, " ")
}
