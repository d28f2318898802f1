package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldlogic/internal/server"
	"github.com/roach88/fieldlogic/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	Functions string
	Initial   string
	External  string
	Database  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <config>",
		Short: "Host one live form instance over HTTP",
		Long: `Instantiate a form and expose it over HTTP.

Inputs arrive as JSON requests; engine events stream over a websocket at
/events. Async validators and debounced logic run in real time.

Examples:
  fieldlogic serve form.yaml
  fieldlogic serve form.yaml --addr 127.0.0.1:9000 --db ./forms.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from settings)")
	cmd.Flags().StringVar(&opts.Functions, "functions", "", "YAML file declaring custom functions")
	cmd.Flags().StringVar(&opts.Initial, "initial", "", "initial form value as a JSON object")
	cmd.Flags().StringVar(&opts.External, "external", "", "initial external data as a JSON object")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the session to this SQLite database")

	return cmd
}

func runServe(opts *ServeOptions, path string, cmd *cobra.Command) error {
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

	logger := opts.Logger(cmd.ErrOrStderr())
	e, err := newEngine(engineParams{
		plan:     plan,
		settings: settings,
		logger:   logger,
		initial:  initial,
		external: external,
		journal:  journal,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}

	addr := opts.Addr
	if addr == "" {
		addr = settings.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		e.Close()
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("failed to listen on %s: %v", addr, err))
	}

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

	srv := server.New(e, logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (session %s) on http://%s\n", path, e.SessionID(), ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.Serve(ctx, ln); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}
