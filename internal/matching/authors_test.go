package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "Michel Foucault", b: "Michel Foucault", want: 1},
		{name: "case and punctuation ignored", a: "FOUCAULT, Michel.", b: "michel foucault", want: 1},
		{name: "initial meets full name", a: "J. Smith", b: "John Smith", want: 2.0 / 3.0},
		{name: "initial only on one side of two", a: "Smith, J. and Doe, R.", b: "John Smith, Rob Doe", want: 4.0 / 7.0},
		{name: "half shared", a: "Smith Jones", b: "Smith", want: 0.5},
		{name: "disjoint", a: "Jane Austen", b: "Leo Tolstoy", want: 0},
		{name: "empty side", a: "", b: "Leo Tolstoy", want: 0},
		{name: "punctuation only", a: ". ,", b: "Leo Tolstoy", want: 0},
		{name: "accented letters are letters", a: "Slavoj Žižek", b: "Žižek", want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AuthorOverlap(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, AuthorOverlap(tt.b, tt.a), 1e-9, "symmetric")
		})
	}
}

func TestAuthorsMatch_ThresholdBoundary(t *testing.T) {
	// 1 shared of 2 tokens: exactly 0.5.
	assert.True(t, AuthorsMatch("Smith Jones", "Smith", 0.5))
	// 1 shared of 3 tokens: just below.
	assert.False(t, AuthorsMatch("Smith Jones", "Smith Brown", 0.5))
	assert.True(t, AuthorsMatch("Smith Jones", "Smith Brown", 1.0/3.0))
}

func TestAuthorsMatch_MissingAuthorsNeverMatch(t *testing.T) {
	assert.False(t, AuthorsMatch("", "", 0))
	assert.False(t, AuthorsMatch("Smith", "", 0))
	assert.False(t, AuthorsMatch("  ", "Smith", 0))
}
