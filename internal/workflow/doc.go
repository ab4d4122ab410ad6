// Package workflow runs contract sets under Temporal.
//
// ContractRunWorkflow is a thin deterministic shell: it validates the
// request, applies activity options and delegates the run to the
// RunContractSet activity, which owns all I/O. Dependency ordering, retries
// and resource limits stay inside the executor the activity calls, so a
// workflow-triggered run behaves exactly like a CLI or API run.
//
// Workflow code must not read the clock, generate ids or touch the network;
// those belong to the activity.
package workflow
