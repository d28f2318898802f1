package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/ir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Field    string // optional - only events touching this field path prefix
}

// TraceEvent is one journaled event in the session timeline.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"` // "change", "submission" or "diagnostic"
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
	Index   *int   `json:"index,omitempty"`
	ID      string `json:"id,omitempty"`
	Valid   *bool  `json:"valid,omitempty"`
	Code    string `json:"code,omitempty"`
	EntryID string `json:"entry_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID  string       `json:"session_id"`
	ConfigHash string       `json:"config_hash"`
	Timeline   []TraceEvent `json:"timeline"`
	Stats      TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Changes     int `json:"changes"`
	Submissions int `json:"submissions"`
	Valid       int `json:"valid_submissions"`
	Diagnostics int `json:"diagnostics"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal of a session",
		Long: `Show the journaled timeline of one session in logical-clock order:
host inputs and timer fires, submissions with their validity, and
runtime diagnostics.

Examples:
  fieldlogic trace --db ./forms.db --session 0190b7c2-...
  fieldlogic trace --db ./forms.db --session 0190b7c2-... --field contacts.0
  fieldlogic trace --db ./forms.db --session 0190b7c2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Field, "field", "", "filter to a field path and its descendants")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.ReadSession(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	changes, err := st.ReadChanges(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read changes", err)
	}
	subs, err := st.ReadSubmissions(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read submissions", err)
	}
	diags, err := st.ReadDiagnostics(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read diagnostics", err)
	}

	result := TraceResult{
		SessionID:  sess.ID,
		ConfigHash: sess.ConfigHash,
		Timeline:   buildTimeline(changes, subs, diags, opts.Field),
		Stats: TraceStats{
			Changes:     len(changes),
			Submissions: len(subs),
			Diagnostics: len(diags),
		},
	}
	for _, s := range subs {
		if s.Valid {
			result.Stats.Valid++
		}
	}
	result.Stats.TotalEvents = len(result.Timeline)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// buildTimeline merges the journal tables by seq. When field is set, only
// changes and diagnostics under that path are kept; submissions always are.
func buildTimeline(changes []ir.Change, subs []ir.Submission, diags []ir.Diagnostic, field string) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(changes)+len(subs)+len(diags))

	for _, ch := range changes {
		if field != "" && !ir.HasPathPrefix(ch.Path, field) {
			continue
		}
		ev := TraceEvent{
			Seq:   ch.Seq,
			Type:  "change",
			Op:    string(ch.Op),
			Path:  ch.Path,
			Key:   ch.Key,
			Value: ch.Value,
		}
		if ch.Op == ir.OpRemoveItem {
			idx := ch.Index
			ev.Index = &idx
		}
		timeline = append(timeline, ev)
	}
	for _, s := range subs {
		valid := s.Valid
		timeline = append(timeline, TraceEvent{
			Seq:   s.Seq,
			Type:  "submission",
			ID:    s.ID,
			Valid: &valid,
		})
	}
	for _, d := range diags {
		if field != "" && !ir.HasPathPrefix(d.FieldPath, field) {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:     d.Seq,
			Type:    "diagnostic",
			Path:    d.FieldPath,
			Code:    d.Code,
			EntryID: d.EntryID,
			Message: d.Message,
		})
	}

	// A submission shares its seq with the submit change; the change
	// sorts first.
	sort.SliceStable(timeline, func(i, j int) bool {
		if timeline[i].Seq != timeline[j].Seq {
			return timeline[i].Seq < timeline[j].Seq
		}
		return typeRank(timeline[i].Type) < typeRank(timeline[j].Type)
	})
	return timeline
}

func typeRank(t string) int {
	switch t {
	case "change":
		return 0
	case "submission":
		return 1
	}
	return 2
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Session: %s\n", result.SessionID)
	if verbose {
		fmt.Fprintf(w, "Config hash: %s\n", result.ConfigHash)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Changes:      %d\n", result.Stats.Changes)
	fmt.Fprintf(w, "  Submissions:  %d (%d valid)\n", result.Stats.Submissions, result.Stats.Valid)
	fmt.Fprintf(w, "  Diagnostics:  %d\n", result.Stats.Diagnostics)
}

func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	switch ev.Type {
	case "change":
		target := ev.Path
		if ev.Key != "" {
			target = "$external." + ev.Key
		}
		line := fmt.Sprintf("  [%d] %s", ev.Seq, ev.Op)
		if target != "" {
			line += " " + target
		}
		if ev.Index != nil {
			line += fmt.Sprintf("[%d]", *ev.Index)
		}
		if verbose && ev.Value != nil {
			line += " = " + formatValue(ev.Value)
		}
		fmt.Fprintln(w, line)

	case "submission":
		status := "valid"
		if ev.Valid != nil && !*ev.Valid {
			status = "invalid"
		}
		fmt.Fprintf(w, "  [%d] SUBMIT %s (%s)\n", ev.Seq, truncateID(ev.ID), status)

	case "diagnostic":
		fmt.Fprintf(w, "  [%d] %s %s: %s\n", ev.Seq, ev.Code, ev.Path, ev.Message)
	}
}

// formatValue formats a value for display with sorted keys.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, formatValue(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return fmt.Sprintf("%q", val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
