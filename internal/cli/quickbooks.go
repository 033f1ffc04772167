package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kodeloom/spacovers-admin/internal/quickbooks"
)

// NewQuickBooksCommand groups QuickBooks connection tools.
func NewQuickBooksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "qbo",
		Aliases: []string{"quickbooks"},
		Short:   "QuickBooks connection tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored QuickBooks connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := quickbooks.NewTokenManager(opts.DB, opts.Config.QuickBooks, opts.Log)
			st, err := tokens.GetConnectionStatus(cmd.Context())
			if err != nil {
				return commandError(err, "read connection")
			}
			return output(opts, cmd.OutOrStdout(), st, func(w io.Writer) {
				if !st.Connected {
					fmt.Fprintln(w, "not connected")
					return
				}
				fmt.Fprintf(w, "connected to company %s\n", st.CompanyID)
				if st.ConnectedAt != nil {
					fmt.Fprintf(w, "  connected at:          %s\n", st.ConnectedAt.Format(time.RFC3339))
				}
				if st.AccessTokenExpiresAt != nil {
					fmt.Fprintf(w, "  access token expires:  %s\n", st.AccessTokenExpiresAt.Format(time.RFC3339))
				}
				if st.RefreshTokenExpiresAt != nil {
					fmt.Fprintf(w, "  refresh token expires: %s\n", st.RefreshTokenExpiresAt.Format(time.RFC3339))
				}
			})
		},
	})
	return cmd
}
