// Package worker registers contract workflows and activities with a
// Temporal worker.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-contracts/internal/workflow"
	"github.com/ahrav/go-contracts/pkg/activity"
	"github.com/ahrav/go-contracts/pkg/events"
)

// Registrar is the subset of sdkworker.Worker used for registration.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

var _ Registrar = sdkworker.Worker(nil)

// RegisterAll registers ContractRunWorkflow and the RunContractSet activity.
// It must be called once, before the worker starts. A nil sink disables
// workflow events.
func RegisterAll(w Registrar, runner workflow.Runner, sink events.EventSink) {
	base := activity.NewBaseActivities(sink)
	acts := workflow.NewActivities(base, runner)

	w.RegisterWorkflow(workflow.ContractRunWorkflow)
	w.RegisterActivity(acts.RunContractSet)
}
