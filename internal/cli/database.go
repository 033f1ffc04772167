package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Kodeloom/spacovers-admin/internal/db"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the schema. With MIGRATIONS=1 on postgres the versioned SQL files
under --source are applied with golang-migrate; otherwise the models are
auto-migrated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.Apply(opts.Config, opts.DB, source); err != nil {
				return commandError(err, "migrate")
			}
			opts.Log.Info("migrations completed", "driver", opts.Config.Database.Driver)
			return output(opts, cmd.OutOrStdout(), map[string]string{"status": "migrated"}, func(w io.Writer) {
				fmt.Fprintln(w, "migrations applied")
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "file://migrations", "golang-migrate source URL")
	return cmd
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create permissions, system profiles and stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.Seed(opts.DB); err != nil {
				return commandError(err, "seed")
			}
			return output(opts, cmd.OutOrStdout(), map[string]string{"status": "seeded"}, func(w io.Writer) {
				fmt.Fprintln(w, "seed data is up to date")
			})
		},
	}
}
