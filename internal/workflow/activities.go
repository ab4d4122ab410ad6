package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/pkg/activity"
	"github.com/ahrav/go-contracts/pkg/events"
)

// Runner executes contract runs. *executor.Executor implements it.
type Runner interface {
	RunSet(ctx context.Context, set string) (*domain.RunReport, error)
	Run(ctx context.Context, ids []string) (*domain.RunReport, error)
}

// Activities hosts the contract run activity.
type Activities struct {
	activity.BaseActivities
	runner Runner
	now    func() time.Time
}

// NewActivities builds the activity set around runner.
func NewActivities(base activity.BaseActivities, runner Runner) *Activities {
	return &Activities{BaseActivities: base, runner: runner, now: time.Now}
}

// RunContractSet runs the requested contracts. Contract-level failures are
// part of the report and do not fail the activity; only errors that prevent
// the run from starting do.
func (a *Activities) RunContractSet(ctx context.Context, req RunRequest) (*domain.RunReport, error) {
	wfCtx := a.GetWorkflowContext(ctx)
	a.RecordHeartbeat(ctx, "starting")
	activity.SafeLog(ctx, "contract run starting",
		"workflow_id", wfCtx.WorkflowID,
		"attempt", wfCtx.Attempt,
		"contract_set", req.ContractSet)

	var (
		report *domain.RunReport
		err    error
	)
	if req.ContractSet != "" {
		report, err = a.runner.RunSet(ctx, req.ContractSet)
	} else {
		report, err = a.runner.Run(ctx, req.Contracts)
	}
	if err != nil {
		activity.SafeLogError(ctx, "contract run rejected", "error", err)
		return nil, toApplicationError(err)
	}
	a.RecordHeartbeat(ctx, report.RunID)

	payload := domain.WorkflowRunFinishedPayload{
		WorkflowID:  wfCtx.WorkflowID,
		RunID:       report.RunID,
		ContractSet: report.ContractSet,
		Satisfied:   report.ContractsSatisfied,
		Failed:      len(report.ContractsFailed),
		Skipped:     len(report.ContractsSkipped),
	}
	if err := payload.Validate(); err == nil {
		key := domain.GenerateIdempotencyKey(report.RunID, domain.EventTypeWorkflowRunFinished, wfCtx.WorkflowID)
		env, err := events.NewEnvelope(string(domain.EventTypeWorkflowRunFinished), "workflow",
			report.RunID, key, payload, a.now())
		if err == nil {
			env.WorkflowID = wfCtx.WorkflowID
			a.EmitEventSafe(context.WithoutCancel(ctx), env, "workflow run finished")
		}
	}

	return report, nil
}

// toApplicationError marks permanent run errors non-retryable so Temporal
// does not repeat a run that cannot start.
func toApplicationError(err error) error {
	switch dcerrors.KindOf(err) {
	case dcerrors.KindValidation:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeValidation, err)
	case dcerrors.KindConfiguration:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfiguration, err)
	case dcerrors.KindNotFound:
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	default:
		return err
	}
}
