package parsers

import (
	"strings"
	"unicode"

	"github.com/helixir/doab-reference-service/internal/normalize"
)

// bibEntry is one BibTeX entry with lower-cased field names.
type bibEntry struct {
	Type   string
	Key    string
	Fields map[string]string
}

// parseBibTeX reads the entries of a BibTeX document. Malformed trailing
// input ends parsing; entries read before it are returned. @comment,
// @preamble and @string blocks are skipped.
func parseBibTeX(src string) []bibEntry {
	var entries []bibEntry
	s := &bibScanner{src: src}
	for s.skipTo('@') {
		s.pos++
		typ := strings.ToLower(s.ident())
		s.skipSpace()
		if s.eof() || (s.peek() != '{' && s.peek() != '(') {
			continue
		}
		closer := byte('}')
		if s.peek() == '(' {
			closer = ')'
		}
		s.pos++

		if typ == "comment" || typ == "preamble" || typ == "string" {
			s.skipBalanced(closer)
			continue
		}

		entry, ok := s.entryBody(typ, closer)
		if !ok {
			break
		}
		entries = append(entries, entry)
	}
	return entries
}

type bibScanner struct {
	src string
	pos int
}

func (s *bibScanner) eof() bool  { return s.pos >= len(s.src) }
func (s *bibScanner) peek() byte { return s.src[s.pos] }

func (s *bibScanner) skipTo(c byte) bool {
	i := strings.IndexByte(s.src[s.pos:], c)
	if i < 0 {
		s.pos = len(s.src)
		return false
	}
	s.pos += i
	return true
}

func (s *bibScanner) skipSpace() {
	for !s.eof() && unicode.IsSpace(rune(s.peek())) {
		s.pos++
	}
}

func (s *bibScanner) ident() string {
	start := s.pos
	for !s.eof() {
		c := s.peek()
		if c == '{' || c == '(' || c == ',' || c == '=' || c == '}' || c == ')' || c == '#' || c == '"' || unicode.IsSpace(rune(c)) {
			break
		}
		s.pos++
	}
	return s.src[start:s.pos]
}

// skipBalanced advances past the closer matching an already consumed opener.
// It reports false when the input ends first.
func (s *bibScanner) skipBalanced(closer byte) bool {
	opener := byte('{')
	if closer == ')' {
		opener = '('
	}
	depth := 1
	for !s.eof() && depth > 0 {
		switch s.peek() {
		case opener:
			depth++
		case closer:
			depth--
		}
		s.pos++
	}
	return depth == 0
}

func (s *bibScanner) entryBody(typ string, closer byte) (bibEntry, bool) {
	entry := bibEntry{Type: typ, Fields: map[string]string{}}
	s.skipSpace()
	entry.Key = strings.TrimSpace(s.ident())
	for {
		s.skipSpace()
		if s.eof() {
			return entry, false
		}
		switch s.peek() {
		case closer:
			s.pos++
			return entry, true
		case ',':
			s.pos++
			continue
		}

		name := strings.ToLower(s.ident())
		s.skipSpace()
		if name == "" || s.eof() || s.peek() != '=' {
			return entry, false
		}
		s.pos++

		value, ok := s.value()
		if !ok {
			return entry, false
		}
		entry.Fields[name] = value
	}
}

// value reads a field value, joining '#' concatenations.
func (s *bibScanner) value() (string, bool) {
	var parts []string
	for {
		s.skipSpace()
		if s.eof() {
			return "", false
		}
		switch s.peek() {
		case '{':
			s.pos++
			start := s.pos
			if !s.skipBalanced('}') {
				return "", false
			}
			parts = append(parts, s.src[start:s.pos-1])
		case '"':
			s.pos++
			start := s.pos
			depth := 0
			for !s.eof() {
				c := s.peek()
				if c == '{' {
					depth++
				} else if c == '}' {
					depth--
				} else if c == '"' && depth == 0 {
					break
				}
				s.pos++
			}
			if s.eof() {
				return "", false
			}
			parts = append(parts, s.src[start:s.pos])
			s.pos++
		default:
			parts = append(parts, s.ident())
		}

		s.skipSpace()
		if s.eof() || s.peek() != '#' {
			break
		}
		s.pos++
	}
	return cleanBibValue(strings.Join(parts, "")), true
}

// cleanBibValue drops grouping braces and collapses whitespace.
func cleanBibValue(v string) string {
	v = strings.NewReplacer("{", "", "}", "", `\&`, "&", `\%`, "%", `\_`, "_").Replace(v)
	return normalize.Clean(v)
}
