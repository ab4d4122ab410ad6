package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-contracts/internal/configuration"
	"github.com/ahrav/go-contracts/internal/workflow"
	"github.com/ahrav/go-contracts/pkg/events"
)

// Dial connects to the Temporal frontend described by cfg, logging through logger.
func Dial(cfg configuration.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// Run registers the contract workflow on cfg.TaskQueue and blocks until
// ctx is cancelled.
func Run(ctx context.Context, c client.Client, cfg configuration.TemporalConfig,
	runner workflow.Runner, sink events.EventSink,
) error {
	w := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	RegisterAll(w, runner, sink)

	interrupt := make(chan any)
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()
	if err := w.Run(interrupt); err != nil {
		return fmt.Errorf("temporal worker: %w", err)
	}
	return nil
}

// StartRun starts ContractRunWorkflow on cfg.TaskQueue and returns the
// workflow run handle.
func StartRun(ctx context.Context, c client.Client, cfg configuration.TemporalConfig,
	workflowID string, req workflow.RunRequest,
) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, workflow.ContractRunWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("start contract run workflow: %w", err)
	}
	return run, nil
}
