// =============================================================================
// 📦 FlowGuard 默认配置
// =============================================================================
// 默认使用本地 sqlite 账本，开箱即可运行
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/flowguard/execution"
	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/ledger"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Policy:    execution.DefaultPolicyConfig(),
		Runner:    execution.DefaultRunnerConfig(),
		Executor:  execution.DefaultExecutorConfig(),
		Ledger:    DefaultLedgerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Analysis:  DefaultAnalysisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultLedgerConfig 返回默认账本配置
// 本地 sqlite 默认自动建表；生产环境应关闭并使用 flowguard migrate up
func DefaultLedgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.AutoMigrate = true
	return cfg
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          database.DriverSQLite,
		Path:            "flowguard.db",
		Port:            5432,
		SSLMode:         "disable",
		MigrationsTable: "schema_migrations",
		Pool:            database.DefaultPoolConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// DefaultAnalysisConfig 返回默认分析配置
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MinOccurrences: 1,
		HistoryLimit:   0,
		Concurrency:    4,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "flowguard",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:         true,
		Addr:            ":9091",
		Path:            "/metrics",
		Namespace:       "flowguard",
		ShutdownTimeout: 5 * time.Second,
	}
}
