package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Session   string // optional - specific session only
	Functions string
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID     string                   `json:"session_id"`
	Changes       int                      `json:"changes"`
	Submissions   []engine.SubmissionCheck `json:"submissions"`
	FinalHash     string                   `json:"final_value_hash,omitempty"`
	Deterministic bool                     `json:"deterministic"`
	Error         string                   `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <config>",
		Short: "Replay journaled sessions and verify determinism",
		Long: `Re-drive a fresh engine from each journaled session and compare every
replayed submission with the recorded one by canonical value hash.

Sessions recorded against a different configuration are reported as
failures.

Exit codes:
  0 - All sessions replayed identically
  1 - A submission differed or a session could not be replayed
  2 - Command error (journal not found, etc.)

Examples:
  fieldlogic replay form.yaml --db ./forms.db
  fieldlogic replay form.yaml --db ./forms.db --session 0190b7c2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")
	cmd.Flags().StringVar(&opts.Functions, "functions", "", "YAML file declaring custom functions")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
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

	st, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var sessions []string
	if opts.Session != "" {
		sessions = []string{opts.Session}
	} else {
		sessions, err = st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	if len(sessions) == 0 {
		if formatter.JSON() {
			return outputReplayJSON(formatter, ReplayResult{Sessions: []ReplaySessionResult{}, AllDeterministic: true})
		}
		fmt.Fprintln(formatter.Writer, "No sessions found in journal.")
		return nil
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}
	logger := opts.Logger(cmd.ErrOrStderr())
	for _, id := range sessions {
		sr := ReplaySessionResult{SessionID: id}
		report, err := engine.Replay(ctx, plan, st, id, engine.WithLogger(logger))
		switch {
		case errors.Is(err, engine.ErrConfigMismatch):
			sr.Error = "recorded against a different configuration"
		case err != nil:
			sr.Error = err.Error()
		default:
			sr.Changes = report.Changes
			sr.Submissions = report.Submissions
			sr.FinalHash = report.FinalValueHash
			sr.Deterministic = report.Mismatches() == 0
		}
		if !sr.Deterministic {
			result.AllDeterministic = false
		}
		result.Sessions = append(result.Sessions, sr)
	}

	if formatter.JSON() {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// openJournal opens an existing journal for reading.
func openJournal(path string) (*store.Store, error) {
	st, err := store.OpenExisting(path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}

func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}
	if err := formatter.Encode(resp); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range result.Sessions {
		status := "✓"
		if !s.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s\n", status, s.SessionID)

		if s.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n\n", s.Error)
			continue
		}
		fmt.Fprintf(w, "  Changes: %d, submissions: %d\n", s.Changes, len(s.Submissions))
		if formatter.Verbose {
			fmt.Fprintf(w, "  Final value hash: %s\n", s.FinalHash)
		}
		for _, sub := range s.Submissions {
			if !sub.Match {
				fmt.Fprintf(w, "  Warning: submission %s at seq %d replayed to a different value\n", sub.ID, sub.Seq)
			}
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions verified deterministic")
		return nil
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
