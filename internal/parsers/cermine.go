package parsers

import (
	"context"

	"github.com/helixir/doab-reference-service/internal/domain"
)

var cermineArgs = []string{
	"pl.edu.icm.cermine.bibref.CRFBibReferenceParser",
	"-format", "bibtex",
	"-reference",
}

// Cermine parses citations with the CERMINE CRF reference parser.
type Cermine struct {
	cleaner
	commandTool
}

var (
	_ Parser      = (*Cermine)(nil)
	_ ToolChecker = (*Cermine)(nil)
)

// NewCermine creates the parser. command defaults to "cermine".
func NewCermine(command string, runner CommandRunner) *Cermine {
	if command == "" {
		command = "cermine"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Cermine{commandTool: commandTool{command: command, runner: runner}}
}

func (c *Cermine) Name() string  { return NameCermine }
func (c *Cermine) Accuracy() int { return 50 }

// Parse runs CERMINE and reads the last BibTeX entry it prints. CERMINE often
// misses the title of a citation without a closing full stop, so an untitled
// result is retried once with "." appended.
func (c *Cermine) Parse(ctx context.Context, cleaned string) (*domain.Record, error) {
	rec, err := c.parseOnce(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	if !rec.HasTitle() {
		if rec, err = c.parseOnce(ctx, cleaned+"."); err != nil {
			return nil, err
		}
	}
	return finish(rec, cleaned)
}

func (c *Cermine) parseOnce(ctx context.Context, reference string) (*domain.Record, error) {
	args := append(append([]string(nil), cermineArgs...), reference)
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	entries := parseBibTeX(string(out))
	if len(entries) == 0 {
		return &domain.Record{}, nil
	}
	f := entries[len(entries)-1].Fields
	return &domain.Record{
		Author:  f["author"],
		Title:   f["title"],
		Journal: f["journal"],
		Volume:  f["volume"],
		DOI:     f["doi"],
		Year:    f["year"],
		Pages:   f["pages"],
	}, nil
}
