// Package cli implements the custodian-fixtures command, which inspects,
// verifies and prunes recorded flight data.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sourceops/cloud-custodian/internal/config"
	"github.com/sourceops/cloud-custodian/internal/fixture"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose       bool
	Format        string // "json" | "text"
	Root          string // fixture root; overrides the config file
	FixtureFormat string // "json" | "yaml"; overrides the config file
	ConfigPath    string

	cfg config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "custodian-fixtures",
		Short: "Inspect and maintain recorded flight data",
		Long: `Inspect, verify and prune the per-test-case fixture directories written
by flight recordings, and query the flight log of past record and replay runs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "fixture root directory (default from config, else "+config.DefaultFixtureRoot+")")
	cmd.PersistentFlags().StringVar(&opts.FixtureFormat, "fixture-format", "", "fixture entry format (json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML, or TOML by .toml extension)")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewFlightsCommand(opts))

	return cmd
}

// resolve loads the config file, if any, and applies flag overrides.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	var overrides []config.Override
	if o.Root != "" {
		overrides = append(overrides, config.WithFixtureRoot(o.Root))
	}
	if o.FixtureFormat != "" {
		overrides = append(overrides, config.WithFixtureFormat(o.FixtureFormat))
	}

	if o.ConfigPath == "" {
		o.cfg = config.Empty(overrides...)
		if err := o.cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid flags", err)
		}
	} else {
		cfg, err := config.Load(o.ConfigPath, overrides...)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		o.cfg = cfg
	}

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// store opens the fixture store described by the resolved config.
func (o *RootOptions) store() (*fixture.Store, error) {
	codec, err := fixture.CodecFor(o.cfg.FixtureFormat)
	if err != nil {
		return nil, err
	}
	return fixture.NewStore(o.cfg.FixtureRoot, fixture.WithCodec(codec)), nil
}

func (o *RootOptions) formatter(stdout, stderr io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    stdout,
		ErrWriter: stderr,
		Verbose:   o.Verbose,
	}
}
