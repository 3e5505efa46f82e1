package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/flowguard/types"
)

// ErrLedgerClosed is wrapped into LEDGER_UNAVAILABLE after Close.
var ErrLedgerClosed = errors.New("ledger is closed")

// Ledger is the append-only store of execution outcomes.
//
// Append is atomic and durable before it returns. Sequence IDs are strictly
// increasing across all workflows and records are never modified. A query
// observes a prefix of the append history.
type Ledger interface {
	Append(ctx context.Context, workflow string, outcome types.ExecutionOutcome) (types.LedgerRecord, error)

	// Query returns matching records, most recent first.
	Query(ctx context.Context, q Query) ([]types.LedgerRecord, error)

	// Workflows lists the distinct workflow identities, sorted.
	Workflows(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Query selects ledger records. Zero fields do not filter.
type Query struct {
	// Workflow restricts the result to one workflow identity.
	Workflow string `json:"workflow,omitempty"`

	// Range bounds StartedAt.
	Range types.TimeRange `json:"range"`

	// Statuses keeps only records whose status is listed.
	Statuses []types.Status `json:"statuses,omitempty"`

	// Limit caps the number of records returned.
	Limit int `json:"limit,omitempty"`
}

// Validate reports malformed queries as INVALID_REQUEST.
func (q Query) Validate() error {
	if q.Limit < 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("limit must be >= 0, got %d", q.Limit))
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown status %q", s))
		}
	}
	if !q.Range.From.IsZero() && !q.Range.To.IsZero() && q.Range.From.After(q.Range.To) {
		return types.NewError(types.ErrInvalidRequest, "range start is after range end")
	}
	return nil
}

// Matches reports whether rec satisfies every filter except Limit.
func (q Query) Matches(rec types.LedgerRecord) bool {
	if q.Workflow != "" && rec.WorkflowIdentity != q.Workflow {
		return false
	}
	if !q.Range.Contains(rec.StartedAt) {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}

func (q Query) statusStrings() []string {
	out := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		out[i] = string(s)
	}
	return out
}

// checkAppend validates the arguments shared by every backend.
func checkAppend(workflow string, outcome types.ExecutionOutcome) (string, error) {
	workflow = strings.TrimSpace(workflow)
	if workflow == "" {
		return "", types.NewError(types.ErrInvalidRequest, "workflow identity is required")
	}
	if !outcome.Status.Valid() {
		return "", types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown status %q", outcome.Status))
	}
	return workflow, nil
}

// TimestampLayout is the persisted form of StartedAt and FinishedAt. It is
// UTC with a fixed nanosecond width, so lexical order equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ledger timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
