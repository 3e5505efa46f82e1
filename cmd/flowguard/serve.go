package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/analysis"
	"github.com/BaSui01/flowguard/internal/metrics"
	"github.com/BaSui01/flowguard/internal/server"
	"github.com/BaSui01/flowguard/ledger"
)

// =============================================================================
// 📊 serve-metrics
// =============================================================================

func newServeMetricsCmd(a *app) *cobra.Command {
	var (
		addr    string
		refresh time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose Prometheus metrics derived from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			l, err := a.openLedger(ctx)
			if err != nil {
				return &exitError{code: exitLedger, err: err}
			}

			// 此命令的唯一用途就是暴露指标，忽略 metrics.enabled
			collector := metrics.NewCollector(a.cfg.Metrics.Namespace, a.logger)
			reporter := a.newReporter(l)

			srvCfg := server.DefaultConfig()
			srvCfg.Addr = a.cfg.Metrics.Addr
			if addr != "" {
				srvCfg.Addr = addr
			}
			srvCfg.TLSCertFile = a.cfg.Metrics.TLSCertFile
			srvCfg.TLSKeyFile = a.cfg.Metrics.TLSKeyFile
			if a.cfg.Metrics.ShutdownTimeout > 0 {
				srvCfg.ShutdownTimeout = a.cfg.Metrics.ShutdownTimeout
			}

			mgr := server.NewManager(metricsMux(a.cfg.Metrics.Path, collector, l), srvCfg, a.logger)

			refreshCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				refreshReports(refreshCtx, reporter, collector, refresh, a.logger)
			}()

			err = mgr.Run(ctx)
			cancel()
			<-done
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from metrics.addr)")
	cmd.Flags().DurationVar(&refresh, "refresh", 30*time.Second, "How often workflow reports are recomputed")
	return cmd
}

// metricsMux 挂载指标与账本健康检查
func metricsMux(path string, collector *metrics.Collector, l ledger.Ledger) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := l.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// refreshReports 定期把全部工作流报告写入收集器，直到 ctx 结束
func refreshReports(ctx context.Context, reporter *analysis.Reporter, collector *metrics.Collector, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := publishReports(ctx, reporter, collector); err != nil && ctx.Err() == nil {
			logger.Warn("refresh workflow reports", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func publishReports(ctx context.Context, reporter *analysis.Reporter, collector *metrics.Collector) error {
	reports, err := reporter.ReportAll(ctx, analysis.ReportOptions{})
	if err != nil {
		return err
	}
	for _, rep := range reports {
		collector.SetWorkflowReport(rep.Workflow, rep.Stats, rep.Patterns)
	}
	return nil
}
