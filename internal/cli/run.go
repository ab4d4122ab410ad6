package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-contracts/internal/app"
	"github.com/ahrav/go-contracts/internal/domain"
	"github.com/ahrav/go-contracts/internal/worker"
	"github.com/ahrav/go-contracts/internal/workflow"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		contracts   []string
		viaTemporal bool
	)

	cmd := &cobra.Command{
		Use:   "run [contract-set]",
		Short: "Resolve a contract set and write its outputs",
		Long: `Resolve every contract in the named set, or the contracts given with
--contract, or every registered contract. Exits 1 when any contract failed;
skipped contracts do not count.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var set string
			if len(args) == 1 {
				set = args[0]
			}

			run := runLocal
			if viaTemporal {
				run = runTemporal
			}
			report, err := run(cmd.Context(), o, set, contracts)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}

			if err := renderReport(cmd.OutOrStdout(), o.format, report); err != nil {
				return err
			}
			if report.HasFailures() {
				return &ExitError{Code: ExitCodeFailures}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&contracts, "contract", nil, "contract ids to run when no set is named")
	cmd.Flags().BoolVar(&viaTemporal, "temporal", false, "run through the Temporal workflow and wait for the report")
	return cmd
}

func runLocal(ctx context.Context, o *rootOptions, set string, contracts []string) (*domain.RunReport, error) {
	a, err := app.Build(ctx, o.cfg, o.logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if set != "" {
		return a.Executor.RunSet(ctx, set)
	}
	return a.Executor.Run(ctx, contracts)
}

func runTemporal(ctx context.Context, o *rootOptions, set string, contracts []string) (*domain.RunReport, error) {
	c, err := worker.Dial(o.cfg.Temporal, o.logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	req := workflow.RunRequest{ContractSet: set, Contracts: contracts}
	run, err := worker.StartRun(ctx, c, o.cfg.Temporal, "contract-run-"+uuid.NewString(), req)
	if err != nil {
		return nil, err
	}
	o.logger.Info("workflow started", "workflow_id", run.GetID(), "run_id", run.GetRunID())

	var report domain.RunReport
	if err := run.Get(ctx, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
