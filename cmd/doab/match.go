package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/intersection"
)

func (c *cli) matchReferenceCmd() *cobra.Command {
	var parser string
	cmd := &cobra.Command{
		Use:   "match-reference <citation>",
		Short: "Parse a citation and print the books citing the same work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.resolver.ResolveCitation(cmd.Context(), args[0], parser, domain.MatchScope{})
			if errors.Is(err, domain.ErrNoMatch) {
				fmt.Fprintln(c.out, "no match")
				return nil
			}
			if err != nil {
				return err
			}
			printRecord(c.out, res.Parser, res.Record)
			if res.Result.Empty() {
				fmt.Fprintln(c.out, "no match")
				return nil
			}
			for _, m := range res.Result.Matches {
				for _, bookID := range m.BookIDs {
					fmt.Fprintf(c.out, "%s\t%s\n", bookID, m.ReferenceID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&parser, "parser", "", "parser used on the citation (default from config, Cermine)")
	return cmd
}

// printRecord prints the parser and the non-empty fields of its record,
// followed by a blank line.
func printRecord(out io.Writer, parser string, rec domain.Record) {
	fmt.Fprintf(out, "parser\t%s\n", parser)
	for _, f := range []struct{ name, value string }{
		{"author", rec.Author},
		{"title", rec.Title},
		{"journal", rec.Journal},
		{"volume", rec.Volume},
		{"doi", rec.DOI},
		{"year", rec.Year},
		{"pages", rec.Pages},
	} {
		if f.value != "" {
			fmt.Fprintf(out, "%s\t%s\n", f.name, f.value)
		}
	}
	fmt.Fprintln(out)
}

func (c *cli) intersectCmd() *cobra.Command {
	var (
		bookIDs []string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "intersect",
		Short: "Cluster references citing the same work into intersections",
		Long: `intersect matches every parsed reference against the corpus and groups the
matches into intersections. Existing intersections only grow; they are never
merged. With --book-id the run is restricted to those books and never writes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.app.builder.Build(cmd.Context(), intersection.Options{
				BookIDs: bookIDs,
				DryRun:  dryRun,
				Workers: c.app.cfg.Mining.Workers,
			})
			if err != nil {
				return err
			}

			if report.DryRun {
				for _, cl := range report.Clusters {
					fmt.Fprintln(c.out, cl.ReferenceID)
					for _, s := range cl.Shared {
						fmt.Fprintf(c.out, "\t%s\t%s\n", joinIDs(s.BookIDs), s.ReferenceID)
					}
				}
				fmt.Fprintf(c.out, "dry run: %d candidates, %d clusters, %d failed\n",
					report.Candidates, len(report.Clusters), report.Failed)
				return nil
			}
			fmt.Fprintf(c.out, "%d candidates, %d intersections created, %d grown, %d references assigned, %d failed\n",
				report.Candidates, report.Created, report.Grown, report.Assigned, report.Failed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bookIDs, "book-id", nil, "restrict to references cited by these books (implies --dry-run)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report clusters without writing")
	return cmd
}
