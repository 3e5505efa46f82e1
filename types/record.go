package types

import "time"

// LedgerRecord is an outcome as persisted in the execution ledger.
type LedgerRecord struct {
	ExecutionOutcome
	WorkflowIdentity string `json:"workflow_identity"`
	SequenceID       int64  `json:"sequence_id"`
}

// TimeRange bounds a ledger query on StartedAt. Zero values are open ends;
// From is inclusive, To is exclusive.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}
