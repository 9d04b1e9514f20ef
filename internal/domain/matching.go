package domain

// MatchScope restricts which citing books the matchers consider.
// A nil BookIDs means the whole corpus.
type MatchScope struct {
	// BookIDs limits matches to references cited by at least one of these books.
	BookIDs []string
	// ExcludeBookIDs drops citing books from the result; a reference cited
	// only by excluded books is not returned.
	ExcludeBookIDs []string
}

// ReferenceMatch is a persisted reference found by a matcher, with the books
// that cite it inside the scope.
type ReferenceMatch struct {
	ReferenceID string
	BookIDs     []string
}

// FuzzyCandidate is a trigram-similar parse returned by the store for the
// fuzzy matcher to accept or reject.
type FuzzyCandidate struct {
	ReferenceID string
	Title       string
	Authors     string
	// Distance is the trigram distance between titles (0 identical, 1 disjoint).
	Distance float64
	BookIDs  []string
}

// CitedParse pairs a parsed reference with one of the books citing it.
type CitedParse struct {
	BookID string
	Parsed *ParsedReference
}
