package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helixir/doab-reference-service/internal/database"
)

func (c *cli) migrateCmd() *cobra.Command {
	var (
		down    bool
		steps   int
		force   int
		version bool
		path    string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
		Long: `migrate applies every pending migration by default. Use exactly one of
--down, --steps N, --version or --force V for the other actions.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			actions := 0
			for _, set := range []bool{down, steps != 0, force >= 0, version} {
				if set {
					actions++
				}
			}
			if actions > 1 {
				return errors.New("specify only one action at a time")
			}

			a := c.app
			if a.db == nil {
				return errors.New("migrate requires a database connection")
			}
			dir := a.cfg.Database.MigrationPath
			if path != "" {
				dir = path
			}
			m, err := database.NewMigrator(a.db, dir, a.logger)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer func() {
				if err := m.Close(); err != nil {
					a.logger.Error().Err(err).Msg("failed to close migrator")
				}
			}()

			switch {
			case version:
			case down:
				if !c.confirm("Roll back ALL migrations?") {
					fmt.Fprintln(c.out, "aborted")
					return nil
				}
				err = m.Down()
			case steps != 0:
				err = m.Steps(steps)
			case force >= 0:
				err = m.Force(force)
			default:
				err = m.Up()
			}
			if err != nil {
				return err
			}

			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("read migration version: %w", err)
			}
			fmt.Fprintf(c.out, "version %d dirty=%t\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	cmd.Flags().IntVar(&steps, "steps", 0, "run N steps, negative rolls back")
	cmd.Flags().IntVar(&force, "force", -1, "force the recorded version after a failed migration")
	cmd.Flags().BoolVar(&version, "version", false, "print the current version only")
	cmd.Flags().StringVar(&path, "path", "", "migrations directory (default from config)")
	return cmd
}
