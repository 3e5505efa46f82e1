package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowguard/types"
)

const instrumentationName = "github.com/BaSui01/flowguard/execution"

// Appender persists one outcome for a workflow and returns the committed
// record. Satisfied by every ledger backend.
type Appender interface {
	Append(ctx context.Context, workflow string, outcome types.ExecutionOutcome) (types.LedgerRecord, error)
}

// MetricsRecorder receives execution telemetry. A nil recorder is replaced
// by a no-op.
type MetricsRecorder interface {
	ObserveExecution(language types.Language, status types.Status, duration time.Duration)
	ObserveRejection(ruleID string)
	ObserveLedgerAppend(duration time.Duration, err error)
	AddInFlight(delta float64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveExecution(types.Language, types.Status, time.Duration) {}
func (nopMetrics) ObserveRejection(string)                                      {}
func (nopMetrics) ObserveLedgerAppend(time.Duration, error)                     {}
func (nopMetrics) AddInFlight(float64)                                          {}

// ExecutorConfig bounds how many scripts run at once and how fast new ones
// are admitted.
type ExecutorConfig struct {
	MaxConcurrent int     `json:"max_concurrent" yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	RateLimit     float64 `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"` // scripts per second, 0 = unlimited
	RateBurst     int     `json:"rate_burst" yaml:"rate_burst" env:"RATE_BURST"`
	// AppendTimeout bounds the ledger append, which outlives caller cancellation.
	AppendTimeout time.Duration `json:"append_timeout" yaml:"append_timeout" env:"APPEND_TIMEOUT"`
}

// DefaultExecutorConfig returns the default admission limits.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent: 8,
		RateLimit:     0,
		RateBurst:     1,
		AppendTimeout: 10 * time.Second,
	}
}

// ExecutorStats tracks execution statistics.
type ExecutorStats struct {
	TotalExecutions     int64         `json:"total_executions"`
	SuccessExecutions   int64         `json:"success_executions"`
	FailedExecutions    int64         `json:"failed_executions"`
	TimeoutExecutions   int64         `json:"timeout_executions"`
	CancelledExecutions int64         `json:"cancelled_executions"`
	RejectedExecutions  int64         `json:"rejected_executions"`
	LedgerFailures      int64         `json:"ledger_failures"`
	TotalDuration       time.Duration `json:"total_duration"`
}

// Executor is the single entry point that turns a script into a ledger
// record. A script is validated first; only an allowed script reaches the
// runner. Every attempt, including rejections, is appended to the ledger.
type Executor struct {
	validator *Validator
	runner    Runner
	ledger    Appender
	metrics   MetricsRecorder
	logger    *zap.Logger
	tracer    trace.Tracer
	runs      metric.Int64Counter
	runTime   metric.Float64Histogram

	sem           *semaphore.Weighted
	limiter       *rate.Limiter
	appendTimeout time.Duration

	mu    sync.RWMutex
	stats ExecutorStats
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewExecutor wires a validator, a runner and a ledger together.
func NewExecutor(cfg ExecutorConfig, validator *Validator, runner Runner, ledger Appender, logger *zap.Logger, opts ...ExecutorOption) (*Executor, error) {
	if runner == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "runner is required")
	}
	if ledger == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "ledger is required")
	}
	if validator == nil {
		validator = NewValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultExecutorConfig().MaxConcurrent
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = DefaultExecutorConfig().AppendTimeout
	}

	limit := rate.Inf
	burst := cfg.RateBurst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}

	e := &Executor{
		validator: validator,
		runner:    runner,
		ledger:    ledger,
		metrics:   nopMetrics{},
		logger:    logger.With(zap.String("component", "executor")),
		tracer:    otel.Tracer(instrumentationName),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:   rate.NewLimiter(limit, burst),

		appendTimeout: cfg.AppendTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if e.runs, err = meter.Int64Counter("flowguard.executions",
		metric.WithDescription("Execution attempts by status")); err != nil {
		return nil, fmt.Errorf("create executions counter: %w", err)
	}
	if e.runTime, err = meter.Float64Histogram("flowguard.execution.duration",
		metric.WithDescription("Execution wall-clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return e, nil
}

// Validator returns the validator the executor gates on.
func (e *Executor) Validator() *Validator {
	return e.validator
}

// Execute validates, runs and records one script for workflow.
//
// The returned record always carries the outcome, even when the error is
// non-nil. The only error returned after the script has been considered is
// LEDGER_UNAVAILABLE: the outcome is then known but not persisted.
func (e *Executor) Execute(ctx context.Context, workflow string, script types.Script) (types.LedgerRecord, error) {
	workflow = strings.TrimSpace(workflow)
	if workflow == "" {
		return types.LedgerRecord{}, types.NewError(types.ErrInvalidRequest, "workflow identity is required")
	}

	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "flowguard.execute",
		trace.WithAttributes(
			attribute.String("flowguard.workflow", workflow),
			attribute.String("flowguard.run_id", runID),
			attribute.String("flowguard.language", string(script.Language)),
		))
	defer span.End()

	log := e.logger.With(
		zap.String("workflow", workflow),
		zap.String("run_id", runID),
		zap.String("language", string(script.Language)),
	)

	outcome := e.evaluate(ctx, script, log)

	span.SetAttributes(attribute.String("flowguard.status", string(outcome.Status)))
	if outcome.Status != types.StatusSuccess {
		span.SetStatus(codes.Error, outcome.ErrorMessage)
	}

	e.metrics.ObserveExecution(script.Language, outcome.Status, outcome.Duration)
	statusAttr := metric.WithAttributes(attribute.String("status", string(outcome.Status)))
	e.runs.Add(ctx, 1, statusAttr)
	e.runTime.Record(ctx, outcome.Duration.Seconds(), statusAttr)
	e.record(outcome)

	// Cancelled attempts are recorded too.
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.appendTimeout)
	defer cancel()

	appendStart := time.Now()
	rec, err := e.ledger.Append(appendCtx, workflow, outcome)
	e.metrics.ObserveLedgerAppend(time.Since(appendStart), err)
	if err != nil {
		e.mu.Lock()
		e.stats.LedgerFailures++
		e.mu.Unlock()

		span.RecordError(err)
		log.Error("failed to record outcome", zap.String("status", string(outcome.Status)), zap.Error(err))

		rec = types.LedgerRecord{ExecutionOutcome: outcome, WorkflowIdentity: workflow}
		if types.IsCode(err, types.ErrLedgerUnavailable) {
			return rec, err
		}
		return rec, types.NewLedgerUnavailableError("append", err)
	}

	log.Info("execution recorded",
		zap.Int64("sequence_id", rec.SequenceID),
		zap.String("status", string(rec.Status)),
		zap.Duration("duration", rec.Duration),
	)
	return rec, nil
}

// evaluate produces the outcome for one script without persisting it.
func (e *Executor) evaluate(ctx context.Context, script types.Script, log *zap.Logger) types.ExecutionOutcome {
	verdict := e.validator.Validate(script)
	if !verdict.Allowed {
		ids := verdict.RuleIDs()
		for _, id := range ids {
			e.metrics.ObserveRejection(id)
		}
		log.Warn("script rejected by policy",
			zap.Strings("rules", ids),
			zap.String("policy_version", verdict.PolicyVersion),
		)
		now := time.Now()
		out := types.NewOutcome(types.StatusValidationRejected, now, now)
		out.ErrorMessage = fmt.Sprintf("rejected by policy %s: %s", verdict.PolicyVersion, strings.Join(ids, ", "))
		return out
	}

	admitted := time.Now()
	if err := e.admit(ctx); err != nil {
		log.Info("script cancelled before launch", zap.Error(err))
		out := types.NewOutcome(types.StatusCancelled, admitted, time.Now())
		out.ErrorMessage = fmt.Sprintf("execution cancelled before launch: %v", err)
		return out
	}
	defer e.sem.Release(1)

	e.metrics.AddInFlight(1)
	defer e.metrics.AddInFlight(-1)

	timeout := script.EffectiveTimeout(e.validator.Policy().MaxDuration())
	return e.runner.Run(ctx, script, timeout)
}

// admit waits for a concurrency slot and a rate token. The slot is held on
// success and must be released by the caller.
func (e *Executor) admit(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		e.sem.Release(1)
		return err
	}
	return nil
}

func (e *Executor) record(outcome types.ExecutionOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalExecutions++
	e.stats.TotalDuration += outcome.Duration
	switch outcome.Status {
	case types.StatusSuccess:
		e.stats.SuccessExecutions++
	case types.StatusTimeout:
		e.stats.TimeoutExecutions++
		e.stats.FailedExecutions++
	case types.StatusCancelled:
		e.stats.CancelledExecutions++
	case types.StatusValidationRejected:
		e.stats.RejectedExecutions++
	default:
		e.stats.FailedExecutions++
	}
}

// Stats returns execution statistics.
func (e *Executor) Stats() ExecutorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
