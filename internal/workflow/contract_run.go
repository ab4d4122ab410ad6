package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-contracts/internal/domain"
)

// RunContractSetActivity is the registered name of Activities.RunContractSet.
const RunContractSetActivity = "RunContractSet"

// DefaultRunTimeout bounds one activity attempt when the request sets none.
const DefaultRunTimeout = 30 * time.Minute

// Application error types that the workflow retry policy never retries.
const (
	ErrTypeValidation    = "Validation"
	ErrTypeConfiguration = "Configuration"
	ErrTypeNotFound      = "NotFound"
)

// RunRequest selects the contracts for a workflow-triggered run. ContractSet
// wins over Contracts; both empty runs every registered contract.
type RunRequest struct {
	ContractSet string        `json:"contract_set,omitempty"`
	Contracts   []string      `json:"contracts,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Validate rejects blank contract ids and negative timeouts.
func (r RunRequest) Validate() error {
	for i, id := range r.Contracts {
		if id == "" {
			return fmt.Errorf("contracts[%d] is empty", i)
		}
	}
	if r.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// ContractRunWorkflow executes one contract run through the RunContractSet
// activity and returns its report.
func ContractRunWorkflow(ctx workflow.Context, req RunRequest) (*domain.RunReport, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "contract_run.v", workflow.DefaultVersion, currentVersion)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid run request", ErrTypeValidation, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultRunTimeout
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeValidation, ErrTypeConfiguration, ErrTypeNotFound},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var report domain.RunReport
	if err := workflow.ExecuteActivity(ctx, RunContractSetActivity, req).Get(ctx, &report); err != nil {
		return nil, err
	}

	workflow.GetLogger(ctx).Info("contract run finished",
		"run_id", report.RunID,
		"satisfied", report.ContractsSatisfied,
		"failed", len(report.ContractsFailed),
		"skipped", len(report.ContractsSkipped))
	return &report, nil
}
