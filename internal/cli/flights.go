package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sourceops/cloud-custodian/internal/flightlog"
)

// FlightsOptions holds flags for the flights command.
type FlightsOptions struct {
	*RootOptions
	Database string
	TestCase string
	Diverged bool
}

// FlightsResult is the output of the flights command.
type FlightsResult struct {
	Flights  []flightlog.Flight `json:"flights"`
	Diverged []int              `json:"diverged,omitempty"`
}

// WriteText renders one line per flight.
func (r FlightsResult) WriteText(w io.Writer, verbose bool) {
	if len(r.Flights) == 0 {
		fmt.Fprintln(w, "No flights found in database.")
		return
	}
	for _, f := range r.Flights {
		fmt.Fprintf(w, "%4d  %-6s  %-6s  %3d calls  %s", f.Seq, f.Mode, f.Status, f.Calls, f.TestCase)
		if verbose {
			fmt.Fprintf(w, "  (%s)", f.ID)
		}
		fmt.Fprintln(w)
	}
	if r.Diverged != nil {
		if len(r.Diverged) == 0 {
			fmt.Fprintln(w, "Latest replay matches latest recording.")
		} else {
			fmt.Fprintf(w, "Diverged at indexes: %v\n", r.Diverged)
		}
	}
}

// NewFlightsCommand creates the flights command.
func NewFlightsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlightsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flights",
		Short: "List record and replay flights from the flight log",
		Long: `List the record and replay runs stored in a flight log database.

With --case and --diverged, also compare the latest replay of that test case
with its latest recording and report the call indexes that differ.

Examples:
  custodian-fixtures flights --db ./flights.db
  custodian-fixtures flights --db ./flights.db --case test_list_instances --diverged`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlights(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to flight log database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.TestCase, "case", "", "only flights of this test case")
	cmd.Flags().BoolVar(&opts.Diverged, "diverged", false, "report divergence between latest record and replay (requires --case)")

	return cmd
}

func runFlights(opts *FlightsOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Diverged && opts.TestCase == "" {
		return WrapExitError(ExitCommandError, "invalid flags", fmt.Errorf("--diverged requires --case"))
	}

	l, err := flightlog.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open flight log", err)
	}
	defer l.Close()

	flights, err := l.Flights(ctx, opts.TestCase)
	if err != nil {
		if outErr := formatter.Error(ErrCodeFlightLog, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "failed to list flights", err)
	}

	result := FlightsResult{Flights: flights}
	if opts.Diverged {
		diverged, err := l.Diverged(ctx, opts.TestCase)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to compare flights", err)
		}
		if diverged == nil {
			diverged = []int{}
		}
		result.Diverged = diverged
	}
	return formatter.Success(result)
}
