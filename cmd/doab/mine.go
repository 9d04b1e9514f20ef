package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/doab-reference-service/internal/finders"
	"github.com/helixir/doab-reference-service/internal/miner"
	"github.com/helixir/doab-reference-service/internal/workerpool"
)

func (c *cli) importMetadataCmd() *cobra.Command {
	var bookIDs []string
	cmd := &cobra.Command{
		Use:   "import-metadata",
		Short: "Import the metadata.json of every book directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			dirs, err := finders.ListBookDirs(a.cfg.Mining.InputPath, bookIDs)
			if err != nil {
				return err
			}
			results := a.importer.ImportAll(cmd.Context(), dirs, a.cfg.Mining.Workers)
			failed := len(workerpool.Errors(results))
			fmt.Fprintf(c.out, "imported %d books, %d failed\n", len(results)-failed, failed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bookIDs, "book-id", nil, "only import these books (repeatable)")
	return cmd
}

func (c *cli) parseReferencesCmd() *cobra.Command {
	var (
		bookIDs []string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "parse-references",
		Short: "Extract, parse and store the references of every book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			svc, err := a.newMiner()
			if err != nil {
				return err
			}
			targets, err := finders.ListBookDirs(a.cfg.Mining.InputPath, bookIDs)
			if err != nil {
				return err
			}

			if dryRun {
				results := workerpool.Run(cmd.Context(), a.cfg.Mining.Workers, targets, svc.Discover)
				for _, r := range results {
					if r.Err != nil {
						a.logger.Warn().Err(r.Err).Str("book_id", r.Item.BookID).Msg("failed to discover references")
						continue
					}
					for _, f := range r.Value {
						fmt.Fprintf(c.out, "%s\t%s\t%s\n", r.Item.BookID, strings.Join(f.Parsers, ","), f.Reference)
					}
				}
				return nil
			}

			results, err := svc.MineAll(cmd.Context(), targets, a.cfg.Mining.Workers)
			printMineResults(c.out, results)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&bookIDs, "book-id", nil, "only mine these books (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the references found without parsing or storing them")
	return cmd
}

// printMineResults prints one line per mined book and a summary. A book no
// miner was eligible for comes back with an empty Miners list.
func printMineResults(out io.Writer, results []workerpool.Result[miner.Target, *miner.Result]) {
	var mined, ineligible, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Value == nil || len(r.Value.Miners) == 0:
			ineligible++
		default:
			mined++
			v := r.Value
			fmt.Fprintf(out, "%s\t%s\treferences=%d stored=%d skipped=%d no_match=%d failed=%d\n",
				v.BookID, strings.Join(v.Miners, ","), v.References, v.Stored, v.Skipped, v.NoMatch, v.Failed)
		}
	}
	fmt.Fprintf(out, "mined %d books, %d ineligible, %d failed\n", mined, ineligible, failed)
}
