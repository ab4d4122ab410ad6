package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// EventType represents the type of event emitted by the executor.
type EventType string

const (
	// EventTypeContractSatisfied is emitted when a contract's validated payload
	// has been written to its output location.
	EventTypeContractSatisfied EventType = "contract.satisfied"

	// EventTypeContractFailed is emitted when a contract fails with a typed reason.
	EventTypeContractFailed EventType = "contract.failed"

	// EventTypeContractSkipped is emitted for dependents of failed or skipped contracts.
	EventTypeContractSkipped EventType = "contract.skipped"

	// EventTypeRunCompleted is emitted once per run with the full report.
	EventTypeRunCompleted EventType = "run.completed"

	// EventTypeWorkflowRunFinished is emitted by the Temporal activity after
	// a workflow-triggered run returns.
	EventTypeWorkflowRunFinished EventType = "workflow.run_finished"
)

// ContractSatisfiedPayload contains the data for contract.satisfied events.
type ContractSatisfiedPayload struct {
	ContractID string `json:"contract_id" validate:"required"`

	OutputLocation string `json:"output_location" validate:"required"`

	// FieldsFromInventory counts fields reused from fresh local data.
	FieldsFromInventory int `json:"fields_from_inventory" validate:"min=0"`

	// FieldsFetched counts fields filled through the execution wrapper.
	FieldsFetched int `json:"fields_fetched" validate:"min=0"`

	// Sources maps each fetched field to the path that produced it.
	Sources map[string]string `json:"sources,omitempty"`
}

// Validate checks if the payload meets all requirements.
func (p *ContractSatisfiedPayload) Validate() error { return validate.Struct(p) }

// ContractFailedPayload contains the data for contract.failed events.
type ContractFailedPayload struct {
	ContractID string `json:"contract_id" validate:"required"`
	Kind       string `json:"kind" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// Validate checks if the payload meets all requirements.
func (p *ContractFailedPayload) Validate() error { return validate.Struct(p) }

// ContractSkippedPayload contains the data for contract.skipped events.
type ContractSkippedPayload struct {
	ContractID string `json:"contract_id" validate:"required"`
	BlockedBy  string `json:"blocked_by" validate:"required"`
}

// Validate checks if the payload meets all requirements.
func (p *ContractSkippedPayload) Validate() error { return validate.Struct(p) }

// WorkflowRunFinishedPayload links a Temporal workflow execution to the
// executor run it triggered.
type WorkflowRunFinishedPayload struct {
	WorkflowID  string `json:"workflow_id" validate:"required"`
	RunID       string `json:"run_id" validate:"required"`
	ContractSet string `json:"contract_set,omitempty"`
	Satisfied   int    `json:"satisfied" validate:"min=0"`
	Failed      int    `json:"failed" validate:"min=0"`
	Skipped     int    `json:"skipped" validate:"min=0"`
}

// Validate checks if the payload meets all requirements.
func (p *WorkflowRunFinishedPayload) Validate() error { return validate.Struct(p) }

// GenerateIdempotencyKey creates a deterministic key for event deduplication.
// Retries of the same run emit identical keys for the same logical event:
// H(run_id || ":" || event_type || ":" || subject).
func GenerateIdempotencyKey(runID string, eventType EventType, subject string) string {
	hasher := sha256.New()
	hasher.Write([]byte(runID + ":" + string(eventType) + ":" + subject))
	return hex.EncodeToString(hasher.Sum(nil))
}
