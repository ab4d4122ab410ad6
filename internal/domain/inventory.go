package domain

import (
	"encoding/json"
	"time"
)

// FieldValue is a locally held value for one contract field.
type FieldValue struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	Source    string          `json:"source,omitempty"`
}

// InventoryRecord is the locally held data for a contract, keyed by field name.
type InventoryRecord struct {
	ContractID string                `json:"contract_id"`
	Fields     map[string]FieldValue `json:"fields"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NewInventoryRecord returns an empty record for contractID.
func NewInventoryRecord(contractID string) *InventoryRecord {
	return &InventoryRecord{ContractID: contractID, Fields: make(map[string]FieldValue)}
}

// IsFresh reports whether field is present and no older than window at now.
// A zero window never treats local data as fresh.
func (r *InventoryRecord) IsFresh(field string, window time.Duration, now time.Time) bool {
	if r == nil || window <= 0 {
		return false
	}
	v, ok := r.Fields[field]
	if !ok || len(v.Value) == 0 {
		return false
	}
	return now.Sub(v.UpdatedAt) <= window
}

// Set stores a field value and bumps the record timestamp.
func (r *InventoryRecord) Set(field string, value json.RawMessage, source string, at time.Time) {
	if r.Fields == nil {
		r.Fields = make(map[string]FieldValue)
	}
	r.Fields[field] = FieldValue{Value: value, UpdatedAt: at, Source: source}
	if at.After(r.UpdatedAt) {
		r.UpdatedAt = at
	}
}
