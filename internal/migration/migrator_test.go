package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowguard/config"
	"github.com/BaSui01/flowguard/internal/database"
	"github.com/BaSui01/flowguard/ledger"
	"github.com/BaSui01/flowguard/types"
)

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	m, err := NewMigrator(Config{Driver: "sqlite3", DSN: database.SQLiteDSN(path)}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, path
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(Config{Driver: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = NewMigrator(Config{Driver: "sqlite"}, nil)
	assert.ErrorContains(t, err, "dsn is required")
}

func TestListMigrations(t *testing.T) {
	for _, driver := range []string{database.DriverSQLite, database.DriverPostgres, database.DriverMySQL} {
		t.Run(driver, func(t *testing.T) {
			migs, err := listMigrations(driver)
			require.NoError(t, err)
			require.Len(t, migs, 2)
			assert.Equal(t, uint(1), migs[0].Version)
			assert.Equal(t, "create_execution_ledger", migs[0].Name)
			assert.Equal(t, uint(2), migs[1].Version)
			assert.Equal(t, "create_ledger_sequence", migs[1].Name)
		})
	}
}

func TestMigrator_SQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)
	defer m.Close()

	assert.Equal(t, database.DriverSQLite, m.Driver())

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行没有变更，不报错
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationInfo{CurrentVersion: 2, TotalMigrations: 2, AppliedMigrations: 2}, info)

	require.NoError(t, m.Down(ctx))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, m.Steps(ctx, -2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.DownAll(ctx))
	info, err = m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.PendingMigrations)
}

func TestMigrator_Force(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)
	defer m.Close()

	require.NoError(t, m.Force(ctx, 1))
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Up(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// 迁移出的表结构必须能直接承载 SQL 账本
func TestMigrator_SchemaServesGormLedger(t *testing.T) {
	ctx := context.Background()
	m, path := newSQLiteMigrator(t)
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Close())

	pool, err := database.Open(database.DriverSQLite, database.SQLiteDSN(path), database.DefaultPoolConfig(), nil)
	require.NoError(t, err)
	defer pool.Close()

	l, err := ledger.NewGormLedger(pool, ledger.GormLedgerOptions{}, nil)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	out := types.NewOutcome(types.StatusFailure, start, start.Add(time.Second))
	out.ExitCode = types.IntPtr(1)
	out.Stderr = "curl: (7) connection refused"

	rec, err := l.Append(ctx, "nightly-backup", out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SequenceID)

	got, err := l.Query(ctx, ledger.Query{Workflow: "nightly-backup"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, out.Stderr, got[0].Stderr)
	assert.Equal(t, 1, *got[0].ExitCode)
}

func TestNewMigratorFromDatabaseConfig(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Path = filepath.Join(t.TempDir(), "fg.db")

	m, err := NewMigratorFromDatabaseConfig(cfg, nil)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Up(context.Background()))

	_, err = NewMigratorFromConfig(nil, nil)
	assert.Error(t, err)

	bad := config.DefaultDatabaseConfig()
	bad.Path = ""
	_, err = NewMigratorFromDatabaseConfig(bad, nil)
	assert.ErrorContains(t, err, "invalid database config")
}

func TestCLI_Output(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)
	defer m.Close()

	var buf bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&buf)

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, buf.String(), "No migrations applied.")

	buf.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, buf.String(), "Ledger schema is at version 2")

	buf.Reset()
	require.NoError(t, cli.RunSteps(ctx, -1))
	assert.Contains(t, buf.String(), "Rolling back 1 migration(s)")
	assert.Contains(t, buf.String(), "version 1")

	buf.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	out := buf.String()
	assert.Contains(t, out, "000001   create_execution_ledger  applied")
	assert.Contains(t, out, "000002   create_ledger_sequence   pending")
	assert.Contains(t, out, "version 1: 1 applied, 1 pending")

	buf.Reset()
	cli.SetJSON(true)
	require.NoError(t, cli.RunStatus(ctx))
	var decoded struct {
		Migrations []MigrationStatus `json:"migrations"`
		Summary    MigrationInfo     `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Migrations, 2)
	assert.Equal(t, uint(1), decoded.Summary.CurrentVersion)

	buf.Reset()
	require.NoError(t, cli.RunReset(ctx))
	assert.Contains(t, buf.String(), "Ledger schema is at version 2")

	assert.Error(t, cli.RunSteps(ctx, 0))
}
