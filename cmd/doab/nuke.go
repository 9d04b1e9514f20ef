package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (c *cli) nukeCitationsCmd() *cobra.Command {
	var bookIDs []string
	cmd := &cobra.Command{
		Use:   "nuke-citations",
		Short: "Delete parsed references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompt := "Delete ALL parsed references?"
			if len(bookIDs) > 0 {
				prompt = fmt.Sprintf("Delete the parsed references of %d books?", len(bookIDs))
			}
			if !c.confirm(prompt) {
				fmt.Fprintln(c.out, "aborted")
				return nil
			}
			n, err := c.app.references.DeleteParsed(cmd.Context(), bookIDs)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %d parsed references\n", n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bookIDs, "book-id", nil, "only references cited by these books (repeatable)")
	return cmd
}

func (c *cli) nukeIntersectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nuke-intersections",
		Short: "Delete every intersection and release its references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.confirm("Delete ALL intersections?") {
				fmt.Fprintln(c.out, "aborted")
				return nil
			}
			n, err := c.app.intersections.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %d intersections\n", n)
			return nil
		},
	}
}

// confirm asks until the answer is y or n. --yes answers y; end of input answers n.
func (c *cli) confirm(prompt string) bool {
	if c.opts.yes {
		return true
	}
	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprintf(c.out, "WARNING! %s [y/N]: ", prompt)
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true
		case "n", "no", "":
			return false
		}
	}
}
