package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/flowguard/types"
)

// MemoryLedger is an in-process ledger for tests and dry runs.
// Records are lost when the process exits.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []types.LedgerRecord
	nextSeq int64
	closed  bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, workflow string, outcome types.ExecutionOutcome) (types.LedgerRecord, error) {
	workflow, err := checkAppend(workflow, outcome)
	if err != nil {
		return types.LedgerRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", ErrLedgerClosed)
	}

	l.nextSeq++
	rec := types.LedgerRecord{
		ExecutionOutcome: outcome,
		WorkflowIdentity: workflow,
		SequenceID:       l.nextSeq,
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = rec.FinishedAt.UTC()
	l.records = append(l.records, rec)
	return rec, nil
}

// Query implements Ledger.
func (l *MemoryLedger) Query(ctx context.Context, q Query) ([]types.LedgerRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewLedgerUnavailableError("query", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, types.NewLedgerUnavailableError("query", ErrLedgerClosed)
	}

	out := make([]types.LedgerRecord, 0)
	for i := len(l.records) - 1; i >= 0; i-- {
		if !q.Matches(l.records[i]) {
			continue
		}
		out = append(out, l.records[i])
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Workflows implements Ledger.
func (l *MemoryLedger) Workflows(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, types.NewLedgerUnavailableError("list workflows", ErrLedgerClosed)
	}

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, rec := range l.records {
		if _, ok := seen[rec.WorkflowIdentity]; ok {
			continue
		}
		seen[rec.WorkflowIdentity] = struct{}{}
		out = append(out, rec.WorkflowIdentity)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Ledger.
func (l *MemoryLedger) Ping(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return types.NewLedgerUnavailableError("ping", ErrLedgerClosed)
	}
	return nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Len returns the number of stored records.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
