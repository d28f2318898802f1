package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string // settings file; fieldlogic.yaml in the working directory when empty

	settings *config.Settings
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fieldlogic CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldlogic",
		Short: "fieldlogic - declarative form logic engine",
		Long: `A runtime for declarative form configurations.

Field values, visibility, component properties and validation are derived
from a form configuration (JSON, YAML or CUE) by a dependency-ordered
evaluation engine.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			_, err := opts.Settings()
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "settings file (default ./fieldlogic.yaml)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// Settings loads the process settings once.
func (o *RootOptions) Settings() (*config.Settings, error) {
	if o.settings != nil {
		return o.settings, nil
	}
	s, err := config.Load(config.New(), o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	o.settings = s
	return s, nil
}

// Logger builds the command logger on w. Engine logs are kept off
// stdout so that JSON output stays parseable.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	s, err := o.Settings()
	if err != nil {
		return slog.New(slog.NewTextHandler(w, nil))
	}
	return s.Logger(w, o.Verbose)
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
