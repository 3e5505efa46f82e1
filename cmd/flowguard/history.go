package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/flowguard/analysis"
	"github.com/BaSui01/flowguard/ledger"
	"github.com/BaSui01/flowguard/types"
)

// rangeFlags 是查询类命令共用的时间窗口参数
type rangeFlags struct {
	since string
	until string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.since, "since", "", "Only records started at or after this time (RFC3339 or a duration such as 24h)")
	cmd.Flags().StringVar(&f.until, "until", "", "Only records started before this time (RFC3339 or a duration)")
}

func (f *rangeFlags) timeRange(now time.Time) (types.TimeRange, error) {
	from, err := parseInstant(f.since, now)
	if err != nil {
		return types.TimeRange{}, fmt.Errorf("--since: %w", err)
	}
	to, err := parseInstant(f.until, now)
	if err != nil {
		return types.TimeRange{}, fmt.Errorf("--until: %w", err)
	}
	return types.TimeRange{From: from, To: to}, nil
}

// parseInstant 接受 RFC3339 时间，或表示 now 之前多久的时长
func parseInstant(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor a duration", s)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("duration %q must not be negative", s)
	}
	return now.Add(-d).UTC(), nil
}

// =============================================================================
// 📜 history
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		rf       rangeFlags
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history [workflow]",
		Short: "List recorded executions, most recent first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ledger.Query{Limit: limit}
			if len(args) == 1 {
				q.Workflow = strings.TrimSpace(args[0])
			}
			var err error
			if q.Range, err = rf.timeRange(time.Now()); err != nil {
				return err
			}
			for _, s := range statuses {
				st, err := types.ParseStatus(s)
				if err != nil {
					return err
				}
				q.Statuses = append(q.Statuses, st)
			}

			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return &exitError{code: exitLedger, err: err}
			}
			records, err := l.Query(cmd.Context(), q)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}

	rf.register(cmd)
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only these statuses (repeatable or comma separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show, 0 for all")
	return cmd
}

func printHistory(out io.Writer, records []types.LedgerRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No executions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWORKFLOW\tSTATUS\tEXIT\tSTARTED\tDURATION")
	for _, r := range records {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.SequenceID, r.WorkflowIdentity, r.Status, exit,
			r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

// =============================================================================
// 🔍 patterns / stats
// =============================================================================

// reportFlags 是 patterns 与 stats 共用的参数
type reportFlags struct {
	rangeFlags
	all      bool
	minCount int
	limit    int
}

func (f *reportFlags) register(cmd *cobra.Command) {
	f.rangeFlags.register(cmd)
	cmd.Flags().BoolVar(&f.all, "all", false, "Report on every workflow in the ledger")
	cmd.Flags().IntVar(&f.limit, "history-limit", 0, "Read at most this many recent records per workflow (default from config)")
}

// reports 根据参数生成单个或全部工作流的报告
func (f *reportFlags) reports(cmd *cobra.Command, a *app, args []string) ([]*analysis.Report, error) {
	if f.all == (len(args) == 1) {
		return nil, errors.New("give exactly one workflow or --all")
	}
	if f.minCount < 0 || f.limit < 0 {
		return nil, errors.New("--min-count and --history-limit must be >= 0")
	}
	tr, err := f.timeRange(time.Now())
	if err != nil {
		return nil, err
	}

	if err := a.setup(); err != nil {
		return nil, err
	}
	l, err := a.openLedger(cmd.Context())
	if err != nil {
		return nil, &exitError{code: exitLedger, err: err}
	}

	reporter := a.newReporter(l)
	opts := analysis.ReportOptions{Range: tr, MinOccurrences: f.minCount, HistoryLimit: f.limit}
	if f.all {
		return reporter.ReportAll(cmd.Context(), opts)
	}
	rep, err := reporter.Report(cmd.Context(), args[0], opts)
	if err != nil {
		return nil, err
	}
	return []*analysis.Report{rep}, nil
}

func newPatternsCmd(a *app) *cobra.Command {
	var rf reportFlags

	cmd := &cobra.Command{
		Use:   "patterns [workflow]",
		Short: "Group recorded failures into recurring patterns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			reports, err := rf.reports(cmd, a, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if rf.all {
					return writeJSON(out, reports)
				}
				return writeJSON(out, reports[0])
			}
			for i, rep := range reports {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printPatterns(out, rep)
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().IntVar(&rf.minCount, "min-count", 0, "Hide patterns seen fewer times (default from config)")
	return cmd
}

func printPatterns(out io.Writer, rep *analysis.Report) {
	fmt.Fprintf(out, "%s: %d failure pattern(s) in %d record(s) [%s]\n",
		rep.Workflow, len(rep.Patterns), rep.Records, rep.TaxonomyVersion)
	for _, p := range rep.Patterns {
		fmt.Fprintf(out, "\n  %s x%d, last seen %s\n", p.PatternType, p.OccurrenceCount, p.LastSeen.Format(time.RFC3339))
		for _, m := range p.SampleMessages {
			fmt.Fprintf(out, "    - %s\n", m)
		}
		if p.SuggestedRemedyHint != "" {
			fmt.Fprintf(out, "    hint: %s\n", p.SuggestedRemedyHint)
		}
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var rf reportFlags

	cmd := &cobra.Command{
		Use:   "stats [workflow]",
		Short: "Summarize success rate, durations and trend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			reports, err := rf.reports(cmd, a, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if rf.all {
					stats := make(map[string]types.StatsSummary, len(reports))
					for _, rep := range reports {
						stats[rep.Workflow] = rep.Stats
					}
					return writeJSON(out, stats)
				}
				return writeJSON(out, reports[0].Stats)
			}
			return printStats(out, reports)
		},
	}

	rf.register(cmd)
	return cmd
}

func printStats(out io.Writer, reports []*analysis.Report) error {
	if len(reports) == 0 {
		fmt.Fprintln(out, "No executions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKFLOW\tTOTAL\tFAILED\tSUCCESS\tAVG\tP50\tP95\tTREND")
	for _, rep := range reports {
		s := rep.Stats
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%s\t%s\t%s\t%s\n",
			rep.Workflow, s.Total, s.Failed, s.SuccessRate*100,
			s.AvgDuration.Round(time.Millisecond),
			s.P50Duration.Round(time.Millisecond),
			s.P95Duration.Round(time.Millisecond),
			s.Trend)
	}
	return tw.Flush()
}
