package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/schema"
)

// Problem is one verification failure. Index is -1 for cassette-level problems.
type Problem struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// CaseVerification is the verification outcome of one cassette.
type CaseVerification struct {
	TestCase string    `json:"test_case"`
	Entries  int       `json:"entries"`
	Problems []Problem `json:"problems,omitempty"`
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Valid bool               `json:"valid"`
	Cases []CaseVerification `json:"cases"`
}

var failLabel = color.New(color.FgRed, color.Bold)

// WriteText renders one line per cassette and one per problem.
func (r VerifyResult) WriteText(w io.Writer, verbose bool) {
	for _, c := range r.Cases {
		if len(c.Problems) == 0 {
			if verbose {
				fmt.Fprintf(w, "%s    %s (%d entries)\n", color.GreenString("ok"), c.TestCase, c.Entries)
			}
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", failLabel.Sprint("FAIL"), c.TestCase)
		for _, p := range c.Problems {
			if p.Index < 0 {
				fmt.Fprintf(w, "      %s\n", p.Message)
			} else {
				fmt.Fprintf(w, "      %05d: %s\n", p.Index, p.Message)
			}
		}
	}
	if r.Valid {
		fmt.Fprintf(w, "%d cassette(s) valid\n", len(r.Cases))
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [test-case]...",
		Short: "Check cassettes against the entry schema",
		Long: `Check every entry of the named cassettes (all cassettes when none are
named) against the fixture entry schema, and check that entry indexes are
contiguous from zero.

Exit codes:
  0 - All cassettes valid
  1 - At least one cassette has problems
  2 - Command error (missing cassette, unreadable root, etc.)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
}

func runVerify(opts *RootOptions, testCases []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := opts.store()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to open fixture root", err)
	}
	if len(testCases) == 0 {
		if testCases, err = st.Cases(); err != nil {
			return formatter.fail(ExitCommandError, "failed to list cassettes", err)
		}
	}

	v, err := schema.NewValidator()
	if err != nil {
		return formatter.fail(ExitCommandError, "failed to load entry schema", err)
	}

	result := VerifyResult{Valid: true, Cases: make([]CaseVerification, 0, len(testCases))}
	for _, tc := range testCases {
		c, err := st.Open(tc)
		if err != nil {
			return formatter.fail(ExitCommandError, "failed to open cassette", err)
		}
		formatter.VerboseLog("verifying %s", c.Dir())

		cv, err := verifyCassette(v, c, st.Codec())
		if err != nil {
			return formatter.fail(ExitCommandError, "failed to read cassette", err)
		}
		if len(cv.Problems) > 0 {
			result.Valid = false
		}
		result.Cases = append(result.Cases, cv)
	}

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "verification failed")
	}
	return nil
}

func verifyCassette(v *schema.Validator, c *fixture.Cassette, codec fixture.Codec) (CaseVerification, error) {
	indexes, err := c.Indexes()
	if err != nil {
		return CaseVerification{}, err
	}

	cv := CaseVerification{TestCase: c.Name(), Entries: len(indexes)}
	if err := schema.ValidateIndex(indexes); err != nil {
		cv.Problems = append(cv.Problems, Problem{Index: -1, Message: err.Error()})
	}
	for _, idx := range indexes {
		data, err := c.RawEntry(idx)
		if err != nil {
			return CaseVerification{}, err
		}
		if err := v.Validate(data, codec); err != nil {
			cv.Problems = append(cv.Problems, Problem{Index: idx, Message: err.Error()})
			continue
		}
		// The file name and the recorded index must agree.
		if _, err := c.ReadEntry(idx); err != nil {
			cv.Problems = append(cv.Problems, Problem{Index: idx, Message: err.Error()})
		}
	}
	return cv, nil
}
