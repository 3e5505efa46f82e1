// =============================================================================
// FlowGuard 命令行入口
// =============================================================================
// 在本机安全执行工作流脚本，并基于执行账本分析失败模式
//
// 使用方法:
//
//	flowguard run --workflow nightly-backup -c 'pg_dump app > /tmp/app.sql'
//	flowguard validate --file deploy.sh
//	flowguard history nightly-backup --status FAILURE
//	flowguard patterns nightly-backup
//	flowguard stats --all
//	flowguard migrate up
//	flowguard serve-metrics
//	flowguard version
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.err)
		}
		stop()
		os.Exit(exitErr.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	stop()
	os.Exit(1)
}

// exitError 携带非零退出码；err 为空时不再打印
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}
