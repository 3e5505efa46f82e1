package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state of one execution attempt.
type Status string

const (
	StatusSuccess            Status = "SUCCESS"
	StatusFailure            Status = "FAILURE"
	StatusTimeout            Status = "TIMEOUT"
	StatusCancelled          Status = "CANCELLED"
	StatusValidationRejected Status = "VALIDATION_REJECTED"
	StatusInternalError      Status = "INTERNAL_ERROR"
)

// AllStatuses lists every status in a stable order.
var AllStatuses = []Status{
	StatusSuccess,
	StatusFailure,
	StatusTimeout,
	StatusCancelled,
	StatusValidationRejected,
	StatusInternalError,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether s is a final state. Every recorded status is
// final; there is no pending or running state in the ledger.
func (s Status) IsTerminal() bool {
	return s.Valid()
}

// IsFailure reports whether the status takes part in failure classification.
func (s Status) IsFailure() bool {
	return s == StatusFailure || s == StatusTimeout || s == StatusInternalError
}

// Ran reports whether a child process was actually launched for the attempt.
func (s Status) Ran() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusTimeout || s == StatusCancelled
}

// Violation is one policy rule hit.
type Violation struct {
	RuleID           string `json:"rule_id"`
	MatchedSubstring string `json:"matched_substring"`
}

// ValidationVerdict is the result of screening a script against the policy.
type ValidationVerdict struct {
	Allowed       bool        `json:"allowed"`
	Violations    []Violation `json:"violations,omitempty"`
	PolicyVersion string      `json:"policy_version"`
}

// RuleIDs returns the violated rule identifiers in verdict order.
func (v ValidationVerdict) RuleIDs() []string {
	ids := make([]string, 0, len(v.Violations))
	for _, vio := range v.Violations {
		ids = append(ids, vio.RuleID)
	}
	return ids
}

// ExecutionOutcome is the normalized result of one execution attempt. It is
// built once by the runner (or the executor for rejected scripts) and not
// modified afterwards.
type ExecutionOutcome struct {
	Status          Status        `json:"status"`
	ExitCode        *int          `json:"exit_code,omitempty"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Duration        time.Duration `json:"duration"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

// NewOutcome fills the timing fields from a start/finish pair. Timestamps are
// stored in UTC; a finish before start is clamped so Duration is never
// negative.
func NewOutcome(status Status, startedAt, finishedAt time.Time) ExecutionOutcome {
	d := finishedAt.Sub(startedAt)
	if d < 0 {
		d = 0
	}
	return ExecutionOutcome{
		Status:     status,
		StartedAt:  startedAt.UTC(),
		FinishedAt: startedAt.UTC().Add(d),
		Duration:   d,
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Succeeded reports whether the outcome is SUCCESS.
func (o ExecutionOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}
