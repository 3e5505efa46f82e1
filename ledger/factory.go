package ledger

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/types"
)

// Type selects a ledger backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeSQL    Type = "sql"
	TypeRedis  Type = "redis"
)

// Config selects and tunes the ledger backend.
type Config struct {
	// Type is the storage backend (memory, sql, redis).
	Type Type `yaml:"type" json:"type" env:"TYPE"`

	// AutoMigrate creates SQL tables on startup instead of relying on
	// versioned migrations. Only honored by the sql backend.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`

	// AppendRetries bounds attempts on retryable SQL errors.
	AppendRetries int `yaml:"append_retries" json:"append_retries" env:"APPEND_RETRIES"`

	// RedisKeyPrefix namespaces every Redis key.
	RedisKeyPrefix string `yaml:"redis_key_prefix" json:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
}

// DefaultConfig returns a sql ledger with three append attempts.
func DefaultConfig() Config {
	return Config{
		Type:           TypeSQL,
		AppendRetries:  3,
		RedisKeyPrefix: DefaultRedisKeyPrefix,
	}
}

// Validate checks the backend type.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory, TypeSQL, TypeRedis:
	default:
		return fmt.Errorf("unsupported ledger type: %q", c.Type)
	}
	if c.AppendRetries < 0 {
		return fmt.Errorf("append_retries must be >= 0")
	}
	return nil
}

// Deps are the connections a backend may need. Only the one matching
// Config.Type is used.
type Deps struct {
	Pool  *database.PoolManager
	Redis redis.UniversalClient
}

// New creates the ledger selected by cfg.
func New(cfg Config, deps Deps, logger *zap.Logger) (Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfigInvalid, err.Error())
	}

	switch cfg.Type {
	case TypeMemory:
		return NewMemoryLedger(), nil
	case TypeSQL:
		l, err := NewGormLedger(deps.Pool, GormLedgerOptions{
			AutoMigrate:   cfg.AutoMigrate,
			AppendRetries: cfg.AppendRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		l, err := NewRedisLedger(deps.Redis, cfg.RedisKeyPrefix, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
