// =============================================================================
// 📦 FlowGuard 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("flowguard.yaml").
//	    WithEnvPrefix("FLOWGUARD").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 校验
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowguard/execution"
	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/ledger"
	"github.com/BaSui01/flowguard/types"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "FLOWGUARD"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FlowGuard 的完整配置结构
type Config struct {
	// Policy 安全策略
	Policy execution.PolicyConfig `yaml:"policy" env:"POLICY"`

	// Runner 进程执行器
	Runner execution.RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Executor 并发与限流
	Executor execution.ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Ledger 执行账本后端
	Ledger ledger.Config `yaml:"ledger" env:"LEDGER"`

	// Database SQL 账本的数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis Redis 账本的连接
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Analysis 失败模式分析
	Analysis AnalysisConfig `yaml:"analysis" env:"ANALYSIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 完整连接串，设置后忽略下面的拆分字段
	DSN string `yaml:"dsn" env:"DSN"`
	// sqlite 文件路径
	Path string `yaml:"path" env:"PATH"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 迁移版本表
	MigrationsTable string `yaml:"migrations_table" env:"MIGRATIONS_TABLE"`
	// 连接池
	Pool database.PoolConfig `yaml:"pool" env:"POOL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 拨号超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// AnalysisConfig 分析配置
type AnalysisConfig struct {
	// 报告中模式的最少出现次数
	MinOccurrences int `yaml:"min_occurrences" env:"MIN_OCCURRENCES"`
	// 单个工作流最多读取的账本记录数，0 表示不限制
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// ReportAll 的并发度
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否注册指标
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// serve-metrics 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 暴露路径
	Path string `yaml:"path" env:"PATH"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// TLS 证书，与私钥同时设置时以 HTTPS 暴露
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	// TLS 私钥
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器，在内置校验之后运行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewError(types.ErrConfigInvalid, "failed to load config file").WithCause(err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, types.NewError(types.ErrConfigInvalid, "failed to load config from env").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewError(types.ErrConfigInvalid, "config validation failed").WithCause(err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，未知字段视为错误
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", l.configPath, err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(envKey)
		if !ok || value == "" {
			continue
		}

		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值；切片按逗号拆分
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			elem := reflect.New(field.Type().Elem()).Elem()
			if err := setFieldValue(elem, p); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 一次性报告所有配置问题
func (c *Config) Validate() error {
	var errs []string

	if _, err := execution.NewPolicy(c.Policy); err != nil {
		errs = append(errs, fmt.Sprintf("policy: %v", err))
	}

	if c.Runner.TerminationGrace < 0 {
		errs = append(errs, "runner.termination_grace must be >= 0")
	}
	if c.Runner.MaxOutputBytes < 0 {
		errs = append(errs, "runner.max_output_bytes must be >= 0")
	}

	if c.Executor.MaxConcurrent < 0 {
		errs = append(errs, "executor.max_concurrent must be >= 0")
	}
	if c.Executor.RateLimit < 0 {
		errs = append(errs, "executor.rate_limit must be >= 0")
	}

	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: %v", err))
	}
	switch c.Ledger.Type {
	case ledger.TypeSQL:
		if _, err := c.Database.ConnectionString(); err != nil {
			errs = append(errs, fmt.Sprintf("database: %v", err))
		}
		if err := c.Database.Pool.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("database.pool: %v", err))
		}
	case ledger.TypeRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis ledger")
		}
	}

	if c.Analysis.MinOccurrences < 0 {
		errs = append(errs, "analysis.min_occurrences must be >= 0")
	}
	if c.Analysis.HistoryLimit < 0 {
		errs = append(errs, "analysis.history_limit must be >= 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}
	if (c.Metrics.TLSCertFile == "") != (c.Metrics.TLSKeyFile == "") {
		errs = append(errs, "metrics.tls_cert_file and metrics.tls_key_file must be set together")
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrConfigInvalid, "config validation errors: "+strings.Join(errs, "; "))
	}
	return nil
}

// ConnectionString 返回 database.Open 与迁移器共用的连接串
func (d DatabaseConfig) ConnectionString() (string, error) {
	driver, err := database.NormalizeDriver(d.Driver)
	if err != nil {
		return "", err
	}
	if d.DSN != "" {
		return d.DSN, nil
	}

	switch driver {
	case database.DriverSQLite:
		if d.Path == "" {
			return "", errors.New("sqlite requires path or dsn")
		}
		return database.SQLiteDSN(d.Path), nil
	case database.DriverPostgres:
		if d.Host == "" || d.Name == "" {
			return "", errors.New("postgres requires host and name, or dsn")
		}
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, sslMode), nil
	default:
		if d.Host == "" || d.Name == "" {
			return "", errors.New("mysql requires host and name, or dsn")
		}
		// multiStatements 供迁移文件使用
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name), nil
	}
}
