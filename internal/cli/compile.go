package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output    string // output file path
	Functions string
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	Fields      int
	Entries     int
	Derivations int
	Pairs       int
	Schemas     int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <config>",
		Short: "Compile a form configuration and print its plan",
		Long: `Compile a form configuration into an evaluation plan.

The plan lists every field template, every logic entry with its resolved
dependencies and trigger, the accepted bidirectional pairs, and the
content hash journals are recorded against.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the plan as JSON to this file")
	cmd.Flags().StringVar(&opts.Functions, "functions", "", "YAML file declaring custom functions")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	form, err := LoadForm(path, opts.Functions)
	if err != nil {
		code, msg := loadErrorCode(err)
		return formatter.Fail(ExitCommandError, code, msg)
	}

	plan, err := form.Compile()
	if err != nil {
		code, msg := compileFailure(err)
		return formatter.Fail(ExitFailure, code, msg)
	}
	desc := plan.Describe()
	for _, e := range desc.Entries {
		formatter.VerboseLog("entry %s (%s) deps=%v", e.ID, e.Type, e.DependsOn)
	}

	if opts.Output != "" {
		if err := writePlanToFile(desc, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	if formatter.JSON() {
		return formatter.Success(desc)
	}
	outputCompileText(formatter, desc, calculateStats(plan), opts.Output)
	return nil
}

func calculateStats(plan *compiler.Plan) CompilationStats {
	return CompilationStats{
		Fields:      len(plan.Fields),
		Entries:     len(plan.Entries),
		Derivations: len(plan.Derivations),
		Pairs:       len(plan.Pairs),
		Schemas:     len(plan.Config.Schemas),
	}
}

func outputCompileText(formatter *OutputFormatter, desc compiler.PlanDescription, stats CompilationStats, outputFile string) {
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d field(s), %d logic entr%s\n", stats.Fields, stats.Entries, plural(stats.Entries, "y", "ies"))
	fmt.Fprintf(w, "  hash: %s\n\n", desc.Hash)

	if len(desc.Entries) > 0 {
		fmt.Fprintln(w, "Entries:")
		for _, e := range desc.Entries {
			line := fmt.Sprintf("  %s: %s from %s", e.ID, e.Type, e.Source)
			if e.Target != "" {
				line += " -> " + e.Target
			}
			if e.Order != nil {
				line += fmt.Sprintf(" [order %d]", *e.Order)
			}
			if len(e.DependsOn) > 0 {
				line += fmt.Sprintf(" reads %v", e.DependsOn)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	if len(desc.Pairs) > 0 {
		fmt.Fprintln(w, "Bidirectional pairs:")
		for _, p := range desc.Pairs {
			fmt.Fprintf(w, "  %s (%s)\n", strings.Join(p.Fields, " <-> "), strings.Join(p.Entries, ", "))
		}
		fmt.Fprintln(w)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote plan to %s\n", outputFile)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// writePlanToFile writes the plan description as indented JSON.
func writePlanToFile(desc compiler.PlanDescription, filename string) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
