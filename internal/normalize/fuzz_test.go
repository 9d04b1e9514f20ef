package normalize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func FuzzNormalize(f *testing.F) {
	for _, s := range []string{
		"Foucault,  M.  (1991).  Discipline  and  Punish.",
		"Žižek, S. Ærø Łódź ß",
		"a\u200bb\u00adc\ufeff",
		"\t\n\r ",
		string([]byte{0xfe, 0xff}),
		"‘Quoted’, in Host Book",
	} {
		f.Add(s)
	}

	plain, folded := New(false), New(true)
	f.Fuzz(func(t *testing.T, raw string) {
		for _, n := range []*Normalizer{plain, folded} {
			once := n.Normalize(raw)
			if twice := n.Normalize(once); twice != once {
				t.Fatalf("not idempotent (transliterate=%t): %q -> %q -> %q", n.transliterate, raw, once, twice)
			}
			if once != strings.TrimSpace(once) || strings.Contains(once, "  ") {
				t.Fatalf("whitespace not collapsed: %q", once)
			}
			if utf8.ValidString(raw) && !utf8.ValidString(once) {
				t.Fatalf("valid input produced invalid UTF-8: %q", once)
			}
		}
	})
}
