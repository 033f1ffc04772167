package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kodeloom/spacovers-admin/internal/isolation"
)

// NewIsolationCommand groups the order isolation diagnostics.
func NewIsolationCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "isolation",
		Short: "Order isolation diagnostics",
	}
	cmd.AddCommand(newIsolationScanCommand(opts))
	cmd.AddCommand(newIsolationCheckCommand(opts))
	return cmd
}

func newIsolationScanCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List QuickBooks line references shared by more than one order",
		Long: `Scan every order item for QuickBooks line references that appear in more
than one order. The scan is advisory and exits 0 whether or not any are
found; use "isolation check" to fail on a specific order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := isolation.NewGuard(opts.DB, opts.Log).DetectCrossOrderContamination(cmd.Context())
			if err != nil {
				return commandError(err, "scan")
			}
			if found == nil {
				found = []isolation.Contamination{}
			}
			return output(opts, cmd.OutOrStdout(), found, func(w io.Writer) {
				if len(found) == 0 {
					fmt.Fprintln(w, "no shared line references")
					return
				}
				for _, c := range found {
					fmt.Fprintf(w, "line %s: %d orders (%s)\n", c.QuickbooksOrderLineID, c.OrderCount, strings.Join(c.OrderNumbers, ", "))
				}
			})
		},
	}
}

func newIsolationCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <order-id>",
		Short: "Check one order for duplicate or shared line references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid order id %q", args[0]))
			}
			report, err := isolation.NewGuard(opts.DB, opts.Log).ValidateOrderIsolation(cmd.Context(), uint(id))
			if err != nil {
				return commandError(err, "check")
			}
			err = output(opts, cmd.OutOrStdout(), report, func(w io.Writer) {
				state := "valid"
				if !report.Valid {
					state = "INVALID"
				}
				fmt.Fprintf(w, "order %s: %s, %d items\n", report.OrderNumber, state, report.ItemCount)
				for _, s := range report.Issues {
					fmt.Fprintf(w, "  issue: %s\n", s)
				}
				for _, s := range report.Warnings {
					fmt.Fprintf(w, "  warning: %s\n", s)
				}
			})
			if err != nil {
				return err
			}
			if !report.Valid {
				return NewExitError(ExitFailure, fmt.Sprintf("order %s failed the isolation check", report.OrderNumber))
			}
			return nil
		},
	}
}
