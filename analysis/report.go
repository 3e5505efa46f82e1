package analysis

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowguard/ledger"
	"github.com/BaSui01/flowguard/types"
)

// History is the read side of a ledger.
type History interface {
	Query(ctx context.Context, q ledger.Query) ([]types.LedgerRecord, error)
	Workflows(ctx context.Context) ([]string, error)
}

// Report is the failure patterns and statistics of one workflow.
type Report struct {
	Workflow        string                 `json:"workflow"`
	TaxonomyVersion string                 `json:"taxonomy_version"`
	Records         int                    `json:"records"`
	Patterns        []types.FailurePattern `json:"patterns"`
	Stats           types.StatsSummary     `json:"stats"`
}

// ReportOptions narrows the ledger slice a report is computed over. Zero
// fields fall back to the reporter's config.
type ReportOptions struct {
	Range          types.TimeRange
	MinOccurrences int
	HistoryLimit   int
}

// ReporterConfig holds reporter defaults.
type ReporterConfig struct {
	// MinOccurrences drops patterns seen fewer times. Values below 1 mean 1.
	MinOccurrences int
	// HistoryLimit caps the records read per workflow, 0 means no cap.
	HistoryLimit int
	// Concurrency bounds parallel workflow reports in ReportAll.
	Concurrency int
}

// DefaultReporterConfig returns the reporter defaults.
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{MinOccurrences: 1, Concurrency: 4}
}

// Reporter reads ledger history and derives reports from it.
type Reporter struct {
	history History
	cfg     ReporterConfig
	logger  *zap.Logger
}

// NewReporter creates a reporter over h.
func NewReporter(h History, cfg ReporterConfig, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Reporter{
		history: h,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "reporter")),
	}
}

// Report builds the report for one workflow. Ledger errors are returned
// unchanged so callers still see LEDGER_UNAVAILABLE.
func (r *Reporter) Report(ctx context.Context, workflow string, opts ReportOptions) (*Report, error) {
	workflow = strings.TrimSpace(workflow)
	if workflow == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "workflow identity is required")
	}

	limit := opts.HistoryLimit
	if limit == 0 {
		limit = r.cfg.HistoryLimit
	}
	records, err := r.history.Query(ctx, ledger.Query{
		Workflow: workflow,
		Range:    opts.Range,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	minCount := opts.MinOccurrences
	if minCount == 0 {
		minCount = r.cfg.MinOccurrences
	}

	rep := &Report{
		Workflow:        workflow,
		TaxonomyVersion: TaxonomyVersion,
		Records:         len(records),
		Patterns:        FilterPatterns(Classify(records), minCount),
		Stats:           Summarize(records),
	}
	r.logger.Debug("report built",
		zap.String("workflow", workflow),
		zap.Int("records", rep.Records),
		zap.Int("patterns", len(rep.Patterns)),
	)
	return rep, nil
}

// ReportAll builds a report for every workflow in the ledger, ordered by
// workflow identity. The first error cancels the remaining reports.
func (r *Reporter) ReportAll(ctx context.Context, opts ReportOptions) ([]*Report, error) {
	workflows, err := r.history.Workflows(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, len(workflows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, wf := range workflows {
		i, wf := i, wf
		g.Go(func() error {
			rep, err := r.Report(gctx, wf, opts)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// FilterPatterns drops patterns seen fewer than minCount times, keeping order.
func FilterPatterns(patterns []types.FailurePattern, minCount int) []types.FailurePattern {
	if minCount <= 1 {
		return patterns
	}
	out := make([]types.FailurePattern, 0, len(patterns))
	for _, p := range patterns {
		if p.OccurrenceCount >= minCount {
			out = append(out, p)
		}
	}
	return out
}
