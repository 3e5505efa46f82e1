package ledger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/types"
)

// GormLedger stores records in the execution_ledger table through GORM.
//
// The sequence lives in a counter row that every append increments inside
// its own transaction. The row lock is held until commit, so no two
// processes can commit sequence numbers out of order.
type GormLedger struct {
	pool    *database.PoolManager
	logger  *zap.Logger
	retries int

	// serializes appends within this process so they do not fight over
	// the counter row lock
	mu sync.Mutex
}

// GormLedgerOptions tunes a GormLedger.
type GormLedgerOptions struct {
	// AutoMigrate creates the tables from the row models. Production
	// deployments run the versioned migrations instead.
	AutoMigrate bool

	// AppendRetries bounds attempts on retryable storage errors.
	AppendRetries int
}

// NewGormLedger creates a ledger on top of an open pool.
func NewGormLedger(pool *database.PoolManager, opts GormLedgerOptions, logger *zap.Logger) (*GormLedger, error) {
	if pool == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "database pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AppendRetries <= 0 {
		opts.AppendRetries = 3
	}

	l := &GormLedger{
		pool:    pool,
		logger:  logger.With(zap.String("component", "gorm_ledger")),
		retries: opts.AppendRetries,
	}

	if opts.AutoMigrate {
		if err := l.autoMigrate(); err != nil {
			return nil, types.NewLedgerUnavailableError("migrate", err)
		}
	}
	return l, nil
}

func (l *GormLedger) autoMigrate() error {
	db := l.pool.DB()
	if err := db.AutoMigrate(&ledgerRow{}, &sequenceRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	seed := sequenceRow{Name: globalSequence}
	if err := db.Where(sequenceRow{Name: globalSequence}).FirstOrCreate(&seed).Error; err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	return nil
}

// Append implements Ledger.
func (l *GormLedger) Append(ctx context.Context, workflow string, outcome types.ExecutionOutcome) (types.LedgerRecord, error) {
	workflow, err := checkAppend(workflow, outcome)
	if err != nil {
		return types.LedgerRecord{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var row ledgerRow
	err = l.pool.WithTransactionRetry(ctx, l.retries, func(tx *gorm.DB) error {
		res := tx.Exec("UPDATE ledger_sequence SET current_value = current_value + 1 WHERE name = ?", globalSequence)
		if res.Error != nil {
			return fmt.Errorf("advance sequence: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("sequence row %q is missing", globalSequence)
		}

		var seq int64
		if err := tx.Raw("SELECT current_value FROM ledger_sequence WHERE name = ?", globalSequence).Scan(&seq).Error; err != nil {
			return fmt.Errorf("read sequence: %w", err)
		}

		row = newLedgerRow(seq, workflow, outcome)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("append failed", zap.String("workflow", workflow), zap.Error(err))
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return types.LedgerRecord{}, types.NewLedgerUnavailableError("append", err)
	}
	return rec, nil
}

// Query implements Ledger.
func (l *GormLedger) Query(ctx context.Context, q Query) ([]types.LedgerRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	db := l.pool.DB().WithContext(ctx).Model(&ledgerRow{})
	if q.Workflow != "" {
		db = db.Where("workflow_identity = ?", q.Workflow)
	}
	if !q.Range.From.IsZero() {
		db = db.Where("started_at >= ?", FormatTimestamp(q.Range.From))
	}
	if !q.Range.To.IsZero() {
		db = db.Where("started_at < ?", FormatTimestamp(q.Range.To))
	}
	if len(q.Statuses) > 0 {
		db = db.Where("status IN ?", q.statusStrings())
	}
	db = db.Order("sequence_id DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var rows []ledgerRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, types.NewLedgerUnavailableError("query", err)
	}
	recs, err := rowsToRecords(rows)
	if err != nil {
		return nil, types.NewLedgerUnavailableError("query", err)
	}
	return recs, nil
}

// Workflows implements Ledger.
func (l *GormLedger) Workflows(ctx context.Context) ([]string, error) {
	var out []string
	err := l.pool.DB().WithContext(ctx).
		Model(&ledgerRow{}).
		Distinct("workflow_identity").
		Order("workflow_identity").
		Pluck("workflow_identity", &out).Error
	if err != nil {
		return nil, types.NewLedgerUnavailableError("list workflows", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Ping implements Ledger.
func (l *GormLedger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return types.NewLedgerUnavailableError("ping", err)
	}
	return nil
}

// Close releases the underlying pool.
func (l *GormLedger) Close() error {
	return l.pool.Close()
}
