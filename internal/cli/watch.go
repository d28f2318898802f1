package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Functions string
	Set       []string
	Debounce  time.Duration
}

// WatchReport is printed after every reload.
type WatchReport struct {
	Path        string                `json:"path"`
	ConfigHash  string                `json:"config_hash,omitempty"`
	Fields      int                   `json:"fields"`
	Entries     int                   `json:"entries"`
	Valid       bool                  `json:"valid"`
	Errors      map[string][]string   `json:"errors,omitempty"`
	Diagnostics []engine.RuntimeError `json:"diagnostics,omitempty"`
	Failure     *CLIError             `json:"failure,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <config>",
		Short: "Recompile and evaluate a form whenever its files change",
		Long: `Watch a form configuration and its functions file. On every change the
form is recompiled, instantiated with the --set inputs, and summarized.

Examples:
  fieldlogic watch form.yaml
  fieldlogic watch form.yaml --functions funcs.yaml --set quantity=2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Functions, "functions", "", "YAML file declaring custom functions")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "field assignment path=value (repeatable)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "quiet period before reloading")

	return cmd
}

func runWatch(opts *WatchOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if _, err := opts.Settings(); err != nil {
		return err
	}
	if !fileExists(path) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("file not found: %s", path))
	}

	watched := []string{path}
	if opts.Functions != "" {
		watched = append(watched, opts.Functions)
	}
	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range watched {
		abs, err := filepath.Abs(p)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error())
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to create watcher", err)
	}
	defer watcher.Close()

	// Editors replace files on save; watching the directory survives that.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return WrapExitError(ExitFailure, "failed to watch "+dir, err)
		}
	}

	logger := opts.Logger(cmd.ErrOrStderr())
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reload := func() {
		report := buildWatchReport(opts, path)
		if err := printWatchReport(formatter, report); err != nil {
			logger.Error("failed to print report", "error", err)
		}
	}

	reload()
	fmt.Fprintf(formatter.GetErrWriter(), "Watching %s for changes. Press Ctrl-C to stop.\n", path)

	l := &watchLoop{
		events:  watcher.Events,
		errors:  watcher.Errors,
		targets: targets,
		delay:   opts.Debounce,
		reload:  reload,
		logger:  logger,
	}
	l.run(ctx)
	return nil
}

// watchLoop turns bursts of file events into single reloads.
type watchLoop struct {
	events  <-chan fsnotify.Event
	errors  <-chan error
	targets map[string]bool
	delay   time.Duration
	reload  func()
	logger  *slog.Logger
}

// run blocks until ctx is done or the event channel closes.
func (l *watchLoop) run(ctx context.Context) {
	timer := time.NewTimer(l.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-l.events:
			if !ok {
				return
			}
			if !l.relevant(ev) {
				continue
			}
			l.logger.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(l.delay)

		case err, ok := <-l.errors:
			if !ok {
				return
			}
			l.logger.Warn("watch error", "error", err)

		case <-timer.C:
			l.reload()
		}
	}
}

func (l *watchLoop) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return l.targets[abs]
}

// buildWatchReport compiles and evaluates the form once.
func buildWatchReport(opts *WatchOptions, path string) WatchReport {
	report := WatchReport{Path: path}
	fail := func(code, msg string) WatchReport {
		report.Failure = &CLIError{Code: code, Message: msg}
		return report
	}

	settings, err := opts.Settings()
	if err != nil {
		return fail(ErrCodeGeneric, err.Error())
	}
	form, err := LoadForm(path, opts.Functions)
	if err != nil {
		return fail(loadErrorCode(err))
	}
	plan, err := form.Compile()
	if err != nil {
		return fail(compileFailure(err))
	}
	report.ConfigHash = plan.Hash
	report.Fields = len(plan.Fields)
	report.Entries = len(plan.Entries)

	queue := &taskQueue{}
	e, err := newEngine(engineParams{
		plan:     plan,
		settings: settings,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		extra:    []engine.EngineOption{engine.WithTaskRunner(queue.run)},
	})
	if err != nil {
		return fail(ErrCodeGeneric, err.Error())
	}
	defer e.Close()
	queue.drain(e)

	for _, raw := range opts.Set {
		field, v, err := parseAssignment(raw)
		if err != nil {
			return fail(ErrCodeInvalidArgs, err.Error())
		}
		if err := e.SetValue(field, v); err != nil {
			return fail(errorCode(err), err.Error())
		}
		queue.drain(e)
	}
	e.Flush()
	queue.drain(e)

	report.Valid = e.Valid()
	for p, fs := range e.State() {
		for _, o := range fs.Errors {
			if report.Errors == nil {
				report.Errors = make(map[string][]string)
			}
			report.Errors[p] = append(report.Errors[p], o.Kind)
		}
	}
	report.Diagnostics = e.Diagnostics()
	return report
}

func printWatchReport(formatter *OutputFormatter, report WatchReport) error {
	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: report}
		if report.Failure != nil {
			resp = CLIResponse{Status: "error", Data: report, Error: report.Failure}
		}
		return formatter.Encode(resp)
	}

	w := formatter.Writer
	stamp := time.Now().Format("15:04:05")
	if report.Failure != nil {
		fmt.Fprintf(w, "[%s] ✗ %s: %s: %s\n", stamp, report.Path, report.Failure.Code, report.Failure.Message)
		return nil
	}

	status := "valid"
	if !report.Valid {
		status = "invalid"
	}
	fmt.Fprintf(w, "[%s] ✓ %s: %d field(s), %d logic entr%s, form %s\n",
		stamp, report.Path, report.Fields, report.Entries, plural(report.Entries, "y", "ies"), status)
	for _, p := range sortedKeys(report.Errors) {
		fmt.Fprintf(w, "    %s: %v\n", p, report.Errors[p])
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(w, "    ! %s\n", d.Error())
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
