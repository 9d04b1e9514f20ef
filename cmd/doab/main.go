// Package main provides the doab command line interface: metadata import,
// reference mining, citation matching and intersection maintenance.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	threads   int
	debug     bool
	yes       bool
	inputPath string
}

// cli carries the I/O streams and the lazily built application.
type cli struct {
	opts   globalOptions
	in     io.Reader
	out    io.Writer
	newApp func(ctx context.Context, opts globalOptions) (*app, error)
	app    *app
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{in: os.Stdin, out: os.Stdout, newApp: newApp}
	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doab",
		Short: "Resolve and cluster the references cited by DOAB books",
		Long: `doab mines the reference lists of open access monographs harvested from
the Directory of Open Access Books, parses them into structured records,
and clusters references that cite the same work across books.

Examples:
  doab import-metadata --input-path out
  doab parse-references --threads 8
  doab match-reference "Foucault, M. (1977) Discipline and Punish." --parser Anystyle
  doab intersect --dry-run`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			// A missing .env is fine; configuration then comes from the environment.
			_ = godotenv.Load()
			a, err := c.newApp(cmd.Context(), c.opts)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.IntVar(&c.opts.threads, "threads", 0, "number of books or references processed in parallel (default from config)")
	flags.BoolVarP(&c.opts.debug, "debug", "d", false, "enable debug logging")
	flags.BoolVarP(&c.opts.yes, "yes", "y", false, `answer "y" to every confirmation request`)
	flags.StringVar(&c.opts.inputPath, "input-path", "", "directory holding one artifact directory per book (default from config)")

	root.AddCommand(
		c.importMetadataCmd(),
		c.parseReferencesCmd(),
		c.matchReferenceCmd(),
		c.intersectCmd(),
		c.listBooksCmd(),
		c.listPublishersCmd(),
		c.listParsersCmd(),
		c.listCitationsCmd(),
		c.listIntersectionsCmd(),
		c.listReferencesCmd(),
		c.nukeCitationsCmd(),
		c.nukeIntersectionsCmd(),
		c.migrateCmd(),
	)
	return root
}
