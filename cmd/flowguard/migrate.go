package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/flowguard/internal/migration"
	"github.com/BaSui01/flowguard/ledger"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

func newMigrateCmd(a *app) *cobra.Command {
	var driver string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL ledger schema",
		Long: `Manage the SQL ledger schema with versioned migrations.

The database section of the config selects the target. With
ledger.auto_migrate disabled, run "flowguard migrate up" before the first run.`,
	}
	cmd.PersistentFlags().StringVar(&driver, "db-type", "", "Override database.driver (sqlite, postgres, mysql)")

	// withCLI 打开迁移器并在 fn 返回后关闭
	withCLI := func(fn func(ctx context.Context, c *migration.CLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			if a.cfg.Ledger.Type != ledger.TypeSQL {
				return fmt.Errorf("migrations apply to the sql ledger, configured type is %q", a.cfg.Ledger.Type)
			}
			dbCfg := a.cfg.Database
			if driver != "" {
				dbCfg.Driver = driver
			}
			m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, a.logger)
			if err != nil {
				return err
			}
			defer m.Close()

			c := migration.NewCLI(m)
			c.SetOutput(cmd.OutOrStdout())
			c.SetJSON(a.jsonOutput)
			return fn(cmd.Context(), c)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunUp(ctx) }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunDown(ctx) }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunStatus(ctx) }),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunVersion(ctx) }),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Roll back every migration and apply them again (drops ledger data)",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunReset(ctx) }),
		},
	)

	var gotoVersion uint
	var forceVersion, steps int
	cmd.AddCommand(
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a specific version",
			Args:  parseArg(func(s string) (err error) { gotoVersion, err = parseUint(s); return }),
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunGoto(ctx, gotoVersion) }),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations (clears dirty state)",
			Args:  parseArg(func(s string) (err error) { forceVersion, err = strconv.Atoi(s); return }),
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunForce(ctx, forceVersion) }),
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or roll back -n",
			Args:  parseArg(func(s string) (err error) { steps, err = strconv.Atoi(s); return }),
			RunE:  withCLI(func(ctx context.Context, c *migration.CLI) error { return c.RunSteps(ctx, steps) }),
		},
	)
	return cmd
}

// parseArg 要求恰好一个参数并交给 parse 解析
func parseArg(parse func(string) error) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%s requires exactly one argument", cmd.Name())
		}
		if err := parse(args[0]); err != nil {
			return fmt.Errorf("invalid argument %q: %w", args[0], err)
		}
		return nil
	}
}

func parseUint(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, errors.New("must be a non-negative integer")
	}
	return uint(v), nil
}
