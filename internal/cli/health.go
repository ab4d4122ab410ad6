package cli

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-contracts/internal/app"
)

func newHealthCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health <service>",
		Short: "Probe a service's selected invocation path without calling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), o.cfg, o.logger)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			defer a.Close()

			if _, err := a.Services.Health(args[0]); err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			status := a.Services.HealthCheck(cmd.Context(), args[0])
			if err := renderHealth(cmd.OutOrStdout(), o.format, status); err != nil {
				return err
			}
			if !status.Available {
				return &ExitError{Code: ExitCodeFailures}
			}
			return nil
		},
	}
}
