package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sourceops/cloud-custodian/internal/fixture"
)

// CaseSummary describes one cassette.
type CaseSummary struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// ListResult is the output of the list command.
type ListResult struct {
	Root  string        `json:"root"`
	Cases []CaseSummary `json:"cases"`
}

// WriteText renders the list as an aligned table.
func (r ListResult) WriteText(w io.Writer, verbose bool) {
	if len(r.Cases) == 0 {
		fmt.Fprintf(w, "No cassettes under %s.\n", r.Root)
		return
	}
	for _, c := range r.Cases {
		fmt.Fprintf(w, "%-48s %5d entries\n", c.Name, c.Entries)
	}
	if verbose {
		fmt.Fprintf(w, "\n%d cassette(s) under %s\n", len(r.Cases), r.Root)
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded test cases",
		Long: `List every cassette under the fixture root with its entry count.

Examples:
  custodian-fixtures list
  custodian-fixtures list --root tests/data/placebo --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := opts.store()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open fixture root", err)
	}
	names, err := st.Cases()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to list cassettes", err)
	}

	result := ListResult{Root: st.Root(), Cases: make([]CaseSummary, 0, len(names))}
	for _, name := range names {
		c, err := st.Open(name)
		if err != nil {
			return formatter.fail(ExitCommandError, "failed to open cassette", err)
		}
		n, err := c.Count()
		if err != nil {
			return formatter.fail(ExitCommandError, "failed to count entries", err)
		}
		result.Cases = append(result.Cases, CaseSummary{Name: name, Entries: n})
	}
	return formatter.Success(result)
}

// EntrySummary is one line of the show command.
type EntrySummary struct {
	Index      int    `json:"index"`
	Operation  string `json:"operation"`
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// ShowResult is the output of the show command.
type ShowResult struct {
	TestCase string         `json:"test_case"`
	Dir      string         `json:"dir"`
	Entries  []EntrySummary `json:"entries"`
}

// WriteText renders the call sequence of a cassette.
func (r ShowResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "%s (%d calls)\n", r.TestCase, len(r.Entries))
	if verbose {
		fmt.Fprintf(w, "  dir: %s\n", r.Dir)
	}
	for _, e := range r.Entries {
		line := fmt.Sprintf("  %05d  %-40s %d", e.Index, e.Operation, e.StatusCode)
		if e.ErrorCode != "" {
			line += "  " + e.ErrorCode
		}
		fmt.Fprintln(w, line)
	}
}

// entryView wraps a full entry for text output.
type entryView struct {
	fixture.Entry
}

func (v entryView) WriteText(w io.Writer, verbose bool) {
	data, err := fixture.JSON.Encode(v.Entry)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	w.Write(data)
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Index int
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <test-case>",
		Short: "Show the recorded call sequence of a test case",
		Long: `Show the ordered calls recorded for a test case. With --index, print the
full entry at that position instead.

Examples:
  custodian-fixtures show test_list_instances
  custodian-fixtures show test_list_instances --index 0`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Index, "index", "i", -1, "print the full entry at this index")

	return cmd
}

func runShow(opts *ShowOptions, testCase string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := opts.store()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open fixture root", err)
	}
	c, err := st.Open(testCase)
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open cassette", err)
	}

	if opts.Index >= 0 {
		e, err := c.ReadEntry(opts.Index)
		if err != nil {
			return formatter.fail(ExitCommandError, "failed to read entry", err)
		}
		return formatter.Success(entryView{e})
	}

	entries, err := c.ListEntries()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to read entries", err)
	}
	result := ShowResult{TestCase: c.Name(), Dir: c.Dir(), Entries: make([]EntrySummary, 0, len(entries))}
	for _, e := range entries {
		s := EntrySummary{Index: e.Index, Operation: e.Operation, StatusCode: e.StatusCode}
		if e.Error != nil {
			s.ErrorCode = e.Error.Code
		}
		result.Entries = append(result.Entries, s)
	}
	return formatter.Success(result)
}

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	DryRun bool
}

// PruneResult is the output of the prune command.
type PruneResult struct {
	Removed []string `json:"removed"`
	DryRun  bool     `json:"dry_run"`
}

// WriteText lists removed cassettes.
func (r PruneResult) WriteText(w io.Writer, verbose bool) {
	verb := "Removed"
	if r.DryRun {
		verb = "Would remove"
	}
	for _, name := range r.Removed {
		fmt.Fprintf(w, "%s %s\n", verb, name)
	}
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune <test-case>...",
		Short: "Delete recorded cassettes",
		Long: `Delete the cassettes of the named test cases. Every named cassette must
exist; nothing is removed if any is missing.

Examples:
  custodian-fixtures prune test_obsolete_case
  custodian-fixtures prune test_a test_b --dry-run`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be removed")

	return cmd
}

func runPrune(opts *PruneOptions, testCases []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := opts.store()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open fixture root", err)
	}
	for _, tc := range testCases {
		if _, err := st.Open(tc); err != nil {
			return formatter.fail(ExitCommandError, "failed to open cassette", err)
		}
	}

	result := PruneResult{Removed: make([]string, 0, len(testCases)), DryRun: opts.DryRun}
	for _, tc := range testCases {
		if !opts.DryRun {
			if err := st.Remove(tc); err != nil {
				return formatter.fail(ExitCommandError, "failed to remove cassette", err)
			}
			formatter.VerboseLog("removed %s", tc)
		}
		result.Removed = append(result.Removed, tc)
	}
	return formatter.Success(result)
}
