package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/helixir/doab-reference-service/internal/domain"
)

var yearPattern = regexp.MustCompile(`\b(1[5-9]|20)\d{2}\b`)

// Anystyle parses citations with the anystyle CLI.
type Anystyle struct {
	cleaner
	commandTool
}

var (
	_ Parser      = (*Anystyle)(nil)
	_ ToolChecker = (*Anystyle)(nil)
)

// NewAnystyle creates the parser. command defaults to "anystyle".
func NewAnystyle(command string, runner CommandRunner) *Anystyle {
	if command == "" {
		command = "anystyle"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Anystyle{commandTool: commandTool{command: command, runner: runner}}
}

func (a *Anystyle) Name() string  { return NameAnystyle }
func (a *Anystyle) Accuracy() int { return 40 }

type anystyleName struct {
	Family string `json:"family"`
	Given  string `json:"given"`
	Others string `json:"others"`
}

type anystyleItem struct {
	Author         []anystyleName `json:"author"`
	Editor         []anystyleName `json:"editor"`
	Title          []string       `json:"title"`
	ContainerTitle []string       `json:"container-title"`
	Volume         []string       `json:"volume"`
	Date           []string       `json:"date"`
	Pages          []string       `json:"pages"`
	DOI            []string       `json:"doi"`
}

// Parse writes the citation to a temporary file, runs anystyle over it and
// reads the first item of the JSON output.
func (a *Anystyle) Parse(ctx context.Context, cleaned string) (*domain.Record, error) {
	f, err := os.CreateTemp("", "doab-anystyle-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create anystyle input: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(cleaned + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write anystyle input: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write anystyle input: %w", err)
	}

	out, err := a.run(ctx, "--stdout", "-f", "json", "parse", f.Name())
	if err != nil {
		return nil, err
	}

	rec, err := decodeAnystyle(out)
	if err != nil {
		return nil, err
	}
	return finish(rec, cleaned)
}

func decodeAnystyle(out []byte) (*domain.Record, error) {
	var items []anystyleItem
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fmt.Errorf("failed to decode anystyle output: %w", err)
	}
	if len(items) == 0 {
		return nil, domain.ErrNoMatch
	}
	item := items[0]

	names := item.Author
	if len(names) == 0 {
		names = item.Editor
	}
	authors := make([]string, 0, len(names))
	for _, n := range names {
		full := strings.TrimSpace(strings.Join([]string{n.Given, n.Family}, " "))
		if full == "" {
			full = strings.TrimSpace(n.Others)
		}
		if full != "" {
			authors = append(authors, full)
		}
	}

	year := ""
	if d := first(item.Date); d != "" {
		year = yearPattern.FindString(d)
		if year == "" {
			year = d
		}
	}

	return &domain.Record{
		Author:  strings.Join(authors, ", "),
		Title:   strings.TrimRight(first(item.Title), " .,"),
		Journal: first(item.ContainerTitle),
		Volume:  first(item.Volume),
		DOI:     first(item.DOI),
		Year:    year,
		Pages:   first(item.Pages),
	}, nil
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
