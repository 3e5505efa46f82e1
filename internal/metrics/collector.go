package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 execution.MetricsRecorder
type Collector struct {
	registry *prometheus.Registry

	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	rejectionsTotal   *prometheus.CounterVec
	inFlight          prometheus.Gauge

	// 账本指标
	ledgerAppendsTotal   *prometheus.CounterVec
	ledgerAppendDuration prometheus.Histogram

	// 工作流报告指标，由 serve-metrics 定期刷新
	workflowSuccessRatio *prometheus.GaugeVec
	workflowRecords      *prometheus.GaugeVec
	workflowPatterns     *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册在独立的 Registry 上
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of execution attempts",
		},
		[]string{"language", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Script execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"language", "status"},
	)

	c.rejectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Total number of policy rule hits",
		},
		[]string{"rule_id"},
	)

	c.inFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Number of scripts currently running",
		},
	)

	c.ledgerAppendsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Total number of ledger appends by result",
		},
		[]string{"result"},
	)

	c.ledgerAppendDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_append_duration_seconds",
			Help:      "Ledger append latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	c.workflowSuccessRatio = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_success_ratio",
			Help:      "Success rate of the recorded executions of a workflow",
		},
		[]string{"workflow"},
	)

	c.workflowRecords = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_records",
			Help:      "Recorded executions of a workflow by status",
		},
		[]string{"workflow", "status"},
	)

	c.workflowPatterns = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_failure_pattern_occurrences",
			Help:      "Occurrences of each failure pattern of a workflow",
		},
		[]string{"workflow", "pattern"},
	)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回收集器使用的 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回暴露全部指标的 HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// =============================================================================
// 🚀 执行指标记录
// =============================================================================

// ObserveExecution 记录一次执行尝试
func (c *Collector) ObserveExecution(language types.Language, status types.Status, duration time.Duration) {
	lang := string(language)
	if lang == "" {
		lang = "unknown"
	}
	c.executionsTotal.WithLabelValues(lang, string(status)).Inc()
	c.executionDuration.WithLabelValues(lang, string(status)).Observe(duration.Seconds())
}

// ObserveRejection 记录一次策略规则命中
func (c *Collector) ObserveRejection(ruleID string) {
	c.rejectionsTotal.WithLabelValues(ruleID).Inc()
}

// AddInFlight 调整运行中的脚本数
func (c *Collector) AddInFlight(delta float64) {
	c.inFlight.Add(delta)
}

// =============================================================================
// 🗄️ 账本指标记录
// =============================================================================

// ObserveLedgerAppend 记录一次账本追加
func (c *Collector) ObserveLedgerAppend(duration time.Duration, err error) {
	c.ledgerAppendsTotal.WithLabelValues(appendResult(err)).Inc()
	c.ledgerAppendDuration.Observe(duration.Seconds())
}

// =============================================================================
// 📈 工作流报告指标
// =============================================================================

// SetWorkflowReport 用一份最新报告替换该工作流的指标
func (c *Collector) SetWorkflowReport(workflow string, stats types.StatsSummary, patterns []types.FailurePattern) {
	c.workflowSuccessRatio.WithLabelValues(workflow).Set(stats.SuccessRate)

	for _, st := range types.AllStatuses {
		c.workflowRecords.WithLabelValues(workflow, string(st)).Set(float64(stats.ByStatus[st]))
	}

	// 已消失的模式不应残留旧值
	c.workflowPatterns.DeletePartialMatch(prometheus.Labels{"workflow": workflow})
	for _, p := range patterns {
		c.workflowPatterns.WithLabelValues(workflow, string(p.PatternType)).Set(float64(p.OccurrenceCount))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// appendResult 将追加错误归类为标签值
func appendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case types.IsCode(err, types.ErrLedgerUnavailable):
		return "unavailable"
	case types.IsCode(err, types.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
