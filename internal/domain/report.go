package domain

import (
	"time"

	dcerrors "github.com/ahrav/go-contracts/internal/errors"
)

// ContractStatus is the terminal state of a contract within a run.
type ContractStatus string

const (
	StatusSatisfied ContractStatus = "satisfied"
	StatusFailed    ContractStatus = "failed"
	StatusSkipped   ContractStatus = "skipped"
)

// ContractFailure records why a contract failed.
type ContractFailure struct {
	ID     string        `json:"id"`
	Kind   dcerrors.Kind `json:"kind"`
	Reason string        `json:"reason"`
	// Violations lists schema violations when Kind is validation.
	Violations []Violation `json:"violations,omitempty"`
}

// ContractSkip records a contract skipped because a dependency did not resolve.
type ContractSkip struct {
	ID        string `json:"id"`
	BlockedBy string `json:"blocked_by"`
}

// Violation is a single schema violation of a contract payload.
type Violation struct {
	Field    string `json:"field"`
	Expected string `json:"expected,omitempty"`
	Message  string `json:"message"`
}

// RunReport is emitted at the end of every executor run. Every contract in
// the set appears in exactly one of Satisfied, ContractsFailed or
// ContractsSkipped.
type RunReport struct {
	RunID              string            `json:"run_id"`
	ContractSet        string            `json:"contract_set,omitempty"`
	Environment        string            `json:"environment,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	ContractsTotal     int               `json:"contracts_total"`
	ContractsSatisfied int               `json:"contracts_satisfied"`
	Satisfied          []string          `json:"satisfied"`
	ContractsFailed    []ContractFailure `json:"contracts_failed"`
	ContractsSkipped   []ContractSkip    `json:"contracts_skipped"`
	CacheHitRate       float64           `json:"cache_hit_rate"`
	ExternalCallsMade  int64             `json:"external_calls_made"`
	DurationMS         int64             `json:"duration_ms"`
}

// HasFailures reports whether any contract failed. Skipped contracts do not count.
func (r *RunReport) HasFailures() bool { return len(r.ContractsFailed) > 0 }

// StatusOf returns the terminal status of a contract, if it appears in the report.
func (r *RunReport) StatusOf(id string) (ContractStatus, bool) {
	for _, s := range r.Satisfied {
		if s == id {
			return StatusSatisfied, true
		}
	}
	for _, f := range r.ContractsFailed {
		if f.ID == id {
			return StatusFailed, true
		}
	}
	for _, s := range r.ContractsSkipped {
		if s.ID == id {
			return StatusSkipped, true
		}
	}
	return "", false
}
