// Package cli implements opsctl, the operator command line for the
// warehouse back office.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Kodeloom/spacovers-admin/internal/config"
	"github.com/Kodeloom/spacovers-admin/internal/db"
	"github.com/Kodeloom/spacovers-admin/internal/logging"
)

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and the resources shared by subcommands.
// Config, DB and Log may be set before Execute; anything left nil is loaded
// from the environment.
type RootOptions struct {
	Verbose bool
	Format  string

	Config *config.Config
	DB     *gorm.DB
	Log    *slog.Logger

	ownsDB bool
}

// NewRootCommand builds the opsctl command tree.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tools for the Spacovers back office",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewIsolationCommand(opts))
	cmd.AddCommand(NewQuickBooksCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	if o.Config == nil {
		_ = godotenv.Load()
		o.Config = config.Load()
	}
	if o.Log == nil {
		level := o.Config.Logging.Level
		if o.Verbose {
			level = "debug"
		}
		o.Log = logging.New(cmd.ErrOrStderr(), level, "text", nil)
	}
	if o.DB == nil {
		conn, err := db.Open(o.Config.Database, o.Log)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "connect to database", Err: err}
		}
		o.DB, o.ownsDB = conn, true
	}
	return nil
}

func (o *RootOptions) close() error {
	if !o.ownsDB || o.DB == nil {
		return nil
	}
	sqlDB, err := o.DB.DB()
	if err != nil {
		return err
	}
	o.ownsDB = false
	return sqlDB.Close()
}
