package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowguard/ledger"
	"github.com/BaSui01/flowguard/types"
)

func seedLedger(t *testing.T, l ledger.Ledger, workflow string, outcomes ...types.ExecutionOutcome) {
	t.Helper()
	for _, o := range outcomes {
		_, err := l.Append(context.Background(), workflow, o)
		require.NoError(t, err)
	}
}

func outcome(status types.Status, stderr string, at time.Time) types.ExecutionOutcome {
	o := types.NewOutcome(status, at, at.Add(time.Second))
	o.Stderr = stderr
	return o
}

func TestReporter_Report(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "sync-db",
		outcome(types.StatusSuccess, "", t0),
		outcome(types.StatusFailure, "connection refused", t0.Add(time.Minute)),
		outcome(types.StatusFailure, "connection refused", t0.Add(2*time.Minute)),
		outcome(types.StatusFailure, "jq: command not found", t0.Add(3*time.Minute)),
	)
	seedLedger(t, l, "other", outcome(types.StatusFailure, "permission denied", t0))

	r := NewReporter(l, DefaultReporterConfig(), zaptest.NewLogger(t))
	rep, err := r.Report(context.Background(), " sync-db ", ReportOptions{})
	require.NoError(t, err)

	assert.Equal(t, "sync-db", rep.Workflow)
	assert.Equal(t, TaxonomyVersion, rep.TaxonomyVersion)
	assert.Equal(t, 4, rep.Records)
	require.Len(t, rep.Patterns, 2)
	assert.Equal(t, types.PatternNetwork, rep.Patterns[0].PatternType)
	assert.Equal(t, types.PatternMissingDependency, rep.Patterns[1].PatternType)
	assert.Equal(t, 4, rep.Stats.Total)
	assert.InDelta(t, 0.25, rep.Stats.SuccessRate, 1e-9)
	assert.Equal(t, types.TrendDegrading, rep.Stats.Trend)
}

func TestReporter_ReportOptions(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "wf",
		outcome(types.StatusFailure, "connection refused", t0),
		outcome(types.StatusFailure, "connection refused", t0.Add(time.Minute)),
		outcome(types.StatusFailure, "permission denied", t0.Add(2*time.Minute)),
	)
	r := NewReporter(l, ReporterConfig{MinOccurrences: 2}, nil)

	rep, err := r.Report(context.Background(), "wf", ReportOptions{})
	require.NoError(t, err)
	require.Len(t, rep.Patterns, 1, "config min occurrences drops single failures")
	assert.Equal(t, types.PatternNetwork, rep.Patterns[0].PatternType)
	assert.Equal(t, 3, rep.Stats.Total, "stats still cover every record")

	rep, err = r.Report(context.Background(), "wf", ReportOptions{MinOccurrences: 1})
	require.NoError(t, err)
	assert.Len(t, rep.Patterns, 2)

	rep, err = r.Report(context.Background(), "wf", ReportOptions{HistoryLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Records)

	rep, err = r.Report(context.Background(), "wf", ReportOptions{
		MinOccurrences: 1,
		Range:          types.TimeRange{From: t0.Add(time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Records)
}

func TestReporter_InvalidWorkflow(t *testing.T) {
	r := NewReporter(ledger.NewMemoryLedger(), DefaultReporterConfig(), nil)
	_, err := r.Report(context.Background(), "  ", ReportOptions{})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestReporter_ReportAll(t *testing.T) {
	l := ledger.NewMemoryLedger()
	for i := 0; i < 10; i++ {
		seedLedger(t, l, fmt.Sprintf("wf-%02d", i), outcome(types.StatusSuccess, "", t0))
	}

	r := NewReporter(l, ReporterConfig{Concurrency: 3}, nil)
	reports, err := r.ReportAll(context.Background(), ReportOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 10)
	for i, rep := range reports {
		assert.Equal(t, fmt.Sprintf("wf-%02d", i), rep.Workflow)
		assert.Equal(t, 1, rep.Stats.Succeeded)
	}

	empty, err := NewReporter(ledger.NewMemoryLedger(), DefaultReporterConfig(), nil).
		ReportAll(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// flakyHistory 在查询到指定工作流时失败
type flakyHistory struct {
	ledger.Ledger
	failOn  string
	queries atomic.Int32
}

func (f *flakyHistory) Query(ctx context.Context, q ledger.Query) ([]types.LedgerRecord, error) {
	f.queries.Add(1)
	if q.Workflow == f.failOn {
		return nil, types.NewLedgerUnavailableError("query", errors.New("connection reset by peer"))
	}
	return f.Ledger.Query(ctx, q)
}

func TestReporter_LedgerErrorsPropagate(t *testing.T) {
	l := ledger.NewMemoryLedger()
	seedLedger(t, l, "a", outcome(types.StatusSuccess, "", t0))
	seedLedger(t, l, "b", outcome(types.StatusSuccess, "", t0))
	h := &flakyHistory{Ledger: l, failOn: "b"}

	r := NewReporter(h, DefaultReporterConfig(), nil)
	_, err := r.Report(context.Background(), "b", ReportOptions{})
	assert.True(t, types.IsCode(err, types.ErrLedgerUnavailable))

	_, err = r.ReportAll(context.Background(), ReportOptions{})
	assert.True(t, types.IsCode(err, types.ErrLedgerUnavailable))

	require.NoError(t, l.Close())
	_, err = r.ReportAll(context.Background(), ReportOptions{})
	assert.True(t, types.IsCode(err, types.ErrLedgerUnavailable), "workflow listing fails on a closed ledger")
}

func TestFilterPatterns(t *testing.T) {
	patterns := []types.FailurePattern{
		{PatternType: types.PatternNetwork, OccurrenceCount: 5},
		{PatternType: types.PatternTimeout, OccurrenceCount: 2},
		{PatternType: types.PatternUnclassified, OccurrenceCount: 1},
	}
	assert.Equal(t, patterns, FilterPatterns(patterns, 0))
	assert.Len(t, FilterPatterns(patterns, 2), 2)
	assert.Empty(t, FilterPatterns(patterns, 6))
}
