package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helixir/doab-reference-service/internal/domain"
	"github.com/helixir/doab-reference-service/internal/repository"
)

// listPageSize bounds each repository page fetched by the list commands.
const listPageSize = 500

func (c *cli) listBooksCmd() *cobra.Command {
	var publisher string
	cmd := &cobra.Command{
		Use:   "list-books",
		Short: "List the imported books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			for offset := 0; ; offset += listPageSize {
				books, total, err := c.app.books.List(cmd.Context(), repository.BookFilter{
					Publisher: publisher,
					Limit:     listPageSize,
					Offset:    offset,
				})
				if err != nil {
					return err
				}
				for _, b := range books {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", b.DoabID, b.Publisher, b.Title)
				}
				if len(books) == 0 || int64(offset+len(books)) >= total {
					break
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&publisher, "publisher", "", "only books carrying this publisher")
	return cmd
}

func (c *cli) listPublishersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-publishers",
		Short: "List the publishers in the store with their book counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pubs, err := c.app.books.ListPublishers(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pubs {
				fmt.Fprintf(c.out, "%d\t%s\n", p.Books, p.Publisher)
			}
			return nil
		},
	}
}

func (c *cli) listParsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-parsers",
		Short: "List the reference parsers, most accurate first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, p := range c.app.registry.ByAccuracy() {
				fmt.Fprintf(c.out, "%s\t%d\n", p.Name(), p.Accuracy())
			}
			return nil
		},
	}
}

func (c *cli) listCitationsCmd() *cobra.Command {
	var bookIDs []string
	cmd := &cobra.Command{
		Use:   "list-citations",
		Short: "List the parsed references, grouped by citing book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cited, err := c.app.references.ListParsedByBook(cmd.Context(), bookIDs)
			if err != nil {
				return err
			}
			current := ""
			for _, cp := range cited {
				if cp.BookID != current {
					current = cp.BookID
					fmt.Fprintln(c.out, current)
				}
				fmt.Fprintf(c.out, "\t%s\n", formatParse(cp.Parsed))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bookIDs, "book-id", nil, "only these books (repeatable)")
	return cmd
}

func (c *cli) listIntersectionsCmd() *cobra.Command {
	var bookID string
	cmd := &cobra.Command{
		Use:   "list-intersections",
		Short: "List intersections with their references and citing books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for offset := 0; ; offset += listPageSize {
				items, total, err := c.app.intersections.List(cmd.Context(), repository.IntersectionFilter{
					BookID: bookID,
					Limit:  listPageSize,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				for _, in := range items {
					fmt.Fprintf(c.out, "%s\tbooks=%s\n", in.ID, joinIDs(in.BookIDs))
					for _, ref := range in.ReferenceIDs {
						fmt.Fprintf(c.out, "\t%s\n", ref)
					}
				}
				if len(items) == 0 || int64(offset+len(items)) >= total {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&bookID, "book-id", "", "only intersections cited by this book")
	return cmd
}

func (c *cli) listReferencesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-references <book-id>",
		Short: "List the references cited by a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := c.app.references.ListForBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range refs {
				cluster := "-"
				if r.Clustered() {
					cluster = r.IntersectionID.String()
				}
				fmt.Fprintf(c.out, "%s\t%s\n", cluster, r.ID)
			}
			return nil
		},
	}
}

// formatParse renders a parse on one line: parser, then the present fields.
func formatParse(p *domain.ParsedReference) string {
	fields := []string{"[" + p.Parser + "]"}
	for _, f := range []struct{ name, value string }{
		{"title", p.Title},
		{"authors", p.Authors},
		{"journal", p.Journal},
		{"year", p.Year},
		{"doi", p.DOI},
	} {
		if f.value != "" {
			fields = append(fields, f.name+"="+f.value)
		}
	}
	return strings.Join(fields, " ")
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}
