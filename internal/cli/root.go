// Package cli implements the contractd command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-contracts/internal/configuration"
	"github.com/ahrav/go-contracts/internal/telemetry"
)

// Exit codes. A run whose contracts failed exits 1; anything that stops a
// run from being planned exits 2.
const (
	ExitCodeOK       = 0
	ExitCodeFailures = 1
	ExitCodeError    = 2
)

// ExitError carries a process exit code. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// rootOptions is shared by every subcommand once PersistentPreRunE ran.
type rootOptions struct {
	configPath string
	env        string
	format     string

	cfg      *configuration.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

// NewRoot builds the top-level contractd command.
func NewRoot() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *rootOptions) {
	o := &rootOptions{}

	root := &cobra.Command{
		Use:           "contractd",
		Short:         "Resolve data contracts against resilient external services",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "configuration file (default ./contractd.yaml)")
	root.PersistentFlags().StringVarP(&o.env, "env", "e", "", "environment overlay to merge, e.g. prod")
	root.PersistentFlags().StringVarP(&o.format, "format", "F", "text", "output format: text|json")

	root.AddCommand(
		newRunCmd(o),
		newHealthCmd(o),
		newServeCmd(o),
		newWorkerCmd(o),
		newValidateCmd(o),
	)
	return root, o
}

func (o *rootOptions) load(ctx context.Context, stderr io.Writer) error {
	if o.format != "text" && o.format != "json" {
		return &ExitError{Code: ExitCodeError, Err: fmt.Errorf("unknown output format %q (valid: text, json)", o.format)}
	}
	cfg, err := configuration.Load(o.configPath, o.env)
	if err != nil {
		return &ExitError{Code: ExitCodeError, Err: err}
	}
	o.cfg = cfg
	o.logger = cfg.Observability.Logger(stderr)
	slog.SetDefault(o.logger)

	shutdown, err := telemetry.Init(ctx, cfg.Observability, cfg.Environment)
	if err != nil {
		return &ExitError{Code: ExitCodeError, Err: err}
	}
	o.shutdown = shutdown
	return nil
}

// flushTraces stops the tracer provider installed by load, if any.
func (o *rootOptions) flushTraces(ctx context.Context) {
	if o.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.shutdown(ctx); err != nil {
		o.logger.Warn("trace flush failed", "error", err)
	}
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, o := newRoot()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	o.flushTraces(ctx)
	if err == nil {
		return ExitCodeOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "error:", err)
	return ExitCodeError
}
