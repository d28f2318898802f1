package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/store"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Functions string
	Initial   string
	External  string
	Set       []string
	SetExt    []string
	Submit    bool
	Database  string
}

// EvalResult is the state of the form after all inputs were applied.
type EvalResult struct {
	SessionID   string                       `json:"session_id"`
	Value       map[string]any               `json:"value"`
	Valid       bool                         `json:"valid"`
	Fields      map[string]engine.FieldState `json:"fields"`
	Submission  *engine.SubmitResult         `json:"submission,omitempty"`
	Diagnostics []engine.RuntimeError        `json:"diagnostics,omitempty"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <config>",
		Short: "Evaluate a form against a sequence of inputs",
		Long: `Instantiate a form, apply inputs, and print the resulting state.

External data assignments are applied first, then field assignments in
flag order. Debounced logic is flushed before the state is printed, and
async validators run to completion.

Values are decoded as JSON when possible, otherwise taken as strings.

Examples:
  fieldlogic eval form.yaml --set quantity=3 --set price=9.5
  fieldlogic eval form.yaml --initial '{"country":"DE"}' --set-external rate=1.1
  fieldlogic eval form.yaml --set email=a@b.co --submit --db ./forms.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Functions, "functions", "", "YAML file declaring custom functions")
	cmd.Flags().StringVar(&opts.Initial, "initial", "", "initial form value as a JSON object")
	cmd.Flags().StringVar(&opts.External, "external", "", "initial external data as a JSON object")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "field assignment path=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.SetExt, "set-external", nil, "external data assignment key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "submit after applying inputs")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the session to this SQLite database")

	return cmd
}

func runEval(opts *EvalOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	settings, err := opts.Settings()
	if err != nil {
		return err
	}

	initial, err := parseObject("initial", opts.Initial)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error())
	}
	external, err := parseObject("external", opts.External)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error())
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

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = settings.Journal.Path
	}
	var journal *store.Store
	if dbPath != "" {
		journal, err = store.Open(dbPath)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("failed to open journal: %v", err))
		}
		defer journal.Close()
	}

	queue := &taskQueue{}
	e, err := newEngine(engineParams{
		plan:     plan,
		settings: settings,
		logger:   opts.Logger(cmd.ErrOrStderr()),
		initial:  initial,
		external: external,
		journal:  journal,
		extra:    []engine.EngineOption{engine.WithTaskRunner(queue.run)},
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	queue.drain(e)

	for _, raw := range opts.SetExt {
		key, v, err := parseAssignment(raw)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error())
		}
		if err := e.SetExternalData(key, v); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error())
		}
		queue.drain(e)
	}
	for _, raw := range opts.Set {
		field, v, err := parseAssignment(raw)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error())
		}
		formatter.VerboseLog("set %s = %v", field, v)
		if err := e.SetValue(field, v); err != nil {
			return formatter.Fail(ExitFailure, errorCode(err), err.Error())
		}
		queue.drain(e)
	}
	e.Flush()
	queue.drain(e)

	result := EvalResult{SessionID: e.SessionID()}
	if opts.Submit {
		sub := e.Submit()
		result.Submission = &sub
	}
	result.Value = e.Value()
	result.Valid = e.Valid()
	result.Fields = e.State()
	result.Diagnostics = e.Diagnostics()

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputEvalText(formatter, result)
}

// errorCode maps engine errors onto response codes.
func errorCode(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return ErrCodeGeneric
}

func outputEvalText(formatter *OutputFormatter, result EvalResult) error {
	w := formatter.Writer

	value, err := json.MarshalIndent(result.Value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Session: %s\n", result.SessionID)
	fmt.Fprintf(w, "Value:\n%s\n\n", value)

	paths := make([]string, 0, len(result.Fields))
	for p := range result.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	fmt.Fprintln(w, "Fields:")
	for _, p := range paths {
		if flags := fieldFlags(result.Fields[p]); flags != "" {
			fmt.Fprintf(w, "  %s: %s\n", p, flags)
		}
	}
	fmt.Fprintln(w)

	for _, d := range result.Diagnostics {
		fmt.Fprintf(w, "! %s\n", d.Error())
	}

	if result.Submission != nil {
		status := "valid"
		if !result.Submission.Valid {
			status = "invalid"
		}
		fmt.Fprintf(w, "Submitted %s: %s\n", result.Submission.ID, status)
	}
	if result.Valid {
		fmt.Fprintln(w, "✓ Form valid")
	} else {
		fmt.Fprintln(w, "✗ Form invalid")
	}
	return nil
}

// fieldFlags renders the non-default parts of a field state.
func fieldFlags(s engine.FieldState) string {
	var parts []string
	if s.Hidden {
		parts = append(parts, "hidden")
	}
	if s.Disabled {
		parts = append(parts, "disabled")
	}
	if s.Readonly {
		parts = append(parts, "readonly")
	}
	if s.Required {
		parts = append(parts, "required")
	}
	if s.Pending {
		parts = append(parts, "pending")
	}
	for _, o := range s.Errors {
		parts = append(parts, "error="+o.Kind)
	}
	return strings.Join(parts, " ")
}
