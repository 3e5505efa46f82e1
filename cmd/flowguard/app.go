package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowguard/analysis"
	"github.com/BaSui01/flowguard/config"
	"github.com/BaSui01/flowguard/execution"
	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/internal/metrics"
	"github.com/BaSui01/flowguard/internal/telemetry"
	"github.com/BaSui01/flowguard/internal/tlsutil"
	"github.com/BaSui01/flowguard/ledger"
)

// =============================================================================
// 🧩 命令共享的运行环境
// =============================================================================

// app 持有根命令的全局参数以及按需创建的依赖
type app struct {
	configPath string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger

	closers []func() error
}

// setup 加载配置并初始化日志，重复调用只生效一次
func (a *app) setup() error {
	if a.cfg != nil {
		return nil
	}
	loader := config.NewLoader()
	if a.configPath != "" {
		loader = loader.WithConfigPath(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = initLogger(cfg.Log)
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})
	return nil
}

// close 逆序释放 setup 之后打开的资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("release resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// openLedger 按配置的后端打开账本，账本关闭时一并释放连接
func (a *app) openLedger(ctx context.Context) (ledger.Ledger, error) {
	var (
		deps    ledger.Deps
		release func() error
	)

	switch a.cfg.Ledger.Type {
	case ledger.TypeSQL:
		dsn, err := a.cfg.Database.ConnectionString()
		if err != nil {
			return nil, fmt.Errorf("database config: %w", err)
		}
		pool, err := database.Open(a.cfg.Database.Driver, dsn, a.cfg.Database.Pool, a.logger)
		if err != nil {
			return nil, err
		}
		release = pool.Close
		deps.Pool = pool

	case ledger.TypeRedis:
		rc := a.cfg.Redis
		opts := &redis.Options{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			DialTimeout:  rc.DialTimeout,
		}
		if rc.TLS {
			opts.TLSConfig = tlsutil.ClientConfig(rc.Addr)
		}
		client := redis.NewClient(opts)
		release = client.Close
		deps.Redis = client
	}

	l, err := ledger.New(a.cfg.Ledger, deps, a.logger)
	if err != nil {
		if release != nil {
			_ = release()
		}
		return nil, err
	}
	a.closers = append(a.closers, l.Close)

	if err := l.Ping(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// newCollector 在启用指标时创建收集器
func (a *app) newCollector() *metrics.Collector {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector(a.cfg.Metrics.Namespace, a.logger)
}

// initTelemetry 初始化 OTel，失败时降级为 noop 并继续
func (a *app) initTelemetry(ctx context.Context) {
	providers, err := telemetry.Init(ctx, a.cfg.Telemetry, Version, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
		return
	}
	a.closers = append(a.closers, func() error {
		return providers.Shutdown(context.Background())
	})
}

// newExecutor 组装策略、校验器、进程执行器和账本
func (a *app) newExecutor(l ledger.Ledger, collector *metrics.Collector) (*execution.Executor, error) {
	policy, err := execution.NewPolicy(a.cfg.Policy)
	if err != nil {
		return nil, err
	}
	runner := execution.NewProcessRunner(execution.RunnerConfigForPolicy(a.cfg.Runner, policy), a.logger)

	var opts []execution.ExecutorOption
	if collector != nil {
		opts = append(opts, execution.WithMetrics(collector))
	}
	return execution.NewExecutor(a.cfg.Executor, execution.NewValidator(policy), runner, l, a.logger, opts...)
}

// newReporter 按分析配置创建报告器
func (a *app) newReporter(h analysis.History) *analysis.Reporter {
	return analysis.NewReporter(h, analysis.ReporterConfig{
		MinOccurrences: a.cfg.Analysis.MinOccurrences,
		HistoryLimit:   a.cfg.Analysis.HistoryLimit,
		Concurrency:    a.cfg.Analysis.Concurrency,
	}, a.logger)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// 📤 输出
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
