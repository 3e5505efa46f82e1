package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/execution"
	"github.com/BaSui01/flowguard/types"
)

// 编译期检查：Collector 可以直接交给 Executor
var _ execution.MetricsRecorder = (*Collector)(nil)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	assert.NotNil(t, collector.Registry())
	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.executionDuration)
	assert.NotNil(t, collector.rejectionsTotal)
	assert.NotNil(t, collector.ledgerAppendsTotal)

	// 各实例使用独立 Registry，可重复创建
	assert.NotPanics(t, func() { NewCollector("flowguard", nil) })
}

func TestCollector_ObserveExecution(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	collector.ObserveExecution(types.LangShell, types.StatusSuccess, 100*time.Millisecond)
	collector.ObserveExecution(types.LangShell, types.StatusSuccess, 200*time.Millisecond)
	collector.ObserveExecution(types.LangInterpreted, types.StatusTimeout, 5*time.Second)
	collector.ObserveExecution("", types.StatusValidationRejected, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("SHELL", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("INTERPRETED", "TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("unknown", "VALIDATION_REJECTED")))
	assert.Equal(t, 3, testutil.CollectAndCount(collector.executionDuration))
}

func TestCollector_ObserveRejection(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	collector.ObserveRejection("priv.sudo")
	collector.ObserveRejection("priv.sudo")
	collector.ObserveRejection("disk.mkfs")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.rejectionsTotal.WithLabelValues("priv.sudo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.rejectionsTotal.WithLabelValues("disk.mkfs")))
}

func TestCollector_InFlight(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	collector.AddInFlight(1)
	collector.AddInFlight(1)
	collector.AddInFlight(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inFlight))
}

func TestCollector_ObserveLedgerAppend(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	collector.ObserveLedgerAppend(time.Millisecond, nil)
	collector.ObserveLedgerAppend(time.Millisecond, types.NewLedgerUnavailableError("append", errors.New("disk full")))
	collector.ObserveLedgerAppend(time.Millisecond, types.NewError(types.ErrInvalidRequest, "empty workflow"))
	collector.ObserveLedgerAppend(time.Millisecond, errors.New("boom"))

	for _, result := range []string{"ok", "unavailable", "invalid", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.ledgerAppendsTotal.WithLabelValues(result)), result)
	}
	assert.Equal(t, 1, testutil.CollectAndCount(collector.ledgerAppendDuration))
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector("fgtest", zap.NewNop())
	collector.ObserveExecution(types.LangShell, types.StatusFailure, time.Second)

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fgtest_executions_total{language="SHELL",status="FAILURE"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCollector_SetWorkflowReport(t *testing.T) {
	collector := NewCollector("flowguard", zap.NewNop())

	stats := types.StatsSummary{
		Total:       4,
		SuccessRate: 0.25,
		ByStatus:    map[types.Status]int{types.StatusSuccess: 1, types.StatusFailure: 3},
	}
	collector.SetWorkflowReport("sync-db", stats, []types.FailurePattern{
		{PatternType: types.PatternNetwork, OccurrenceCount: 2},
		{PatternType: types.PatternTimeout, OccurrenceCount: 1},
	})

	assert.Equal(t, 0.25, testutil.ToFloat64(collector.workflowSuccessRatio.WithLabelValues("sync-db")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.workflowRecords.WithLabelValues("sync-db", "FAILURE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.workflowRecords.WithLabelValues("sync-db", "TIMEOUT")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.workflowPatterns))

	// 刷新后只保留当前模式
	collector.SetWorkflowReport("sync-db", stats, []types.FailurePattern{
		{PatternType: types.PatternNetwork, OccurrenceCount: 5},
	})
	assert.Equal(t, 1, testutil.CollectAndCount(collector.workflowPatterns))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.workflowPatterns.WithLabelValues("sync-db", "NETWORK")))
}
