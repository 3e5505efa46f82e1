package ledger

import (
	"time"

	"github.com/BaSui01/flowguard/types"
)

// ledgerRow is the persisted form of a record, shared by the SQL table and
// the Redis hash payload.
type ledgerRow struct {
	SequenceID       int64   `gorm:"column:sequence_id;primaryKey;autoIncrement:false" json:"sequence_id"`
	WorkflowIdentity string  `gorm:"column:workflow_identity;size:255;not null;index:idx_execution_ledger_workflow_started,priority:1" json:"workflow_identity"`
	Status           string  `gorm:"column:status;size:32;not null" json:"status"`
	ExitCode         *int    `gorm:"column:exit_code" json:"exit_code,omitempty"`
	Stdout           string  `gorm:"column:stdout;not null" json:"stdout"`
	StdoutTruncated  bool    `gorm:"column:stdout_truncated;not null" json:"stdout_truncated"`
	Stderr           string  `gorm:"column:stderr;not null" json:"stderr"`
	StderrTruncated  bool    `gorm:"column:stderr_truncated;not null" json:"stderr_truncated"`
	StartedAt        string  `gorm:"column:started_at;size:30;not null;index:idx_execution_ledger_workflow_started,priority:2" json:"started_at"`
	FinishedAt       string  `gorm:"column:finished_at;size:30;not null" json:"finished_at"`
	DurationNS       int64   `gorm:"column:duration_ns;not null" json:"duration_ns"`
	ErrorMessage     *string `gorm:"column:error_message" json:"error_message,omitempty"`
}

// TableName 表名
func (ledgerRow) TableName() string {
	return "execution_ledger"
}

// sequenceRow holds the global sequence counter.
type sequenceRow struct {
	Name         string `gorm:"column:name;primaryKey;size:64"`
	CurrentValue int64  `gorm:"column:current_value;not null"`
}

// TableName 表名
func (sequenceRow) TableName() string {
	return "ledger_sequence"
}

const globalSequence = "global"

func newLedgerRow(seq int64, workflow string, o types.ExecutionOutcome) ledgerRow {
	row := ledgerRow{
		SequenceID:       seq,
		WorkflowIdentity: workflow,
		Status:           string(o.Status),
		Stdout:           o.Stdout,
		StdoutTruncated:  o.StdoutTruncated,
		Stderr:           o.Stderr,
		StderrTruncated:  o.StderrTruncated,
		StartedAt:        FormatTimestamp(o.StartedAt),
		FinishedAt:       FormatTimestamp(o.FinishedAt),
		DurationNS:       int64(o.Duration),
	}
	if o.ExitCode != nil {
		row.ExitCode = types.IntPtr(*o.ExitCode)
	}
	if o.ErrorMessage != "" {
		msg := o.ErrorMessage
		row.ErrorMessage = &msg
	}
	return row
}

func (r ledgerRow) toRecord() (types.LedgerRecord, error) {
	started, err := ParseTimestamp(r.StartedAt)
	if err != nil {
		return types.LedgerRecord{}, err
	}
	finished, err := ParseTimestamp(r.FinishedAt)
	if err != nil {
		return types.LedgerRecord{}, err
	}

	rec := types.LedgerRecord{
		ExecutionOutcome: types.ExecutionOutcome{
			Status:          types.Status(r.Status),
			Stdout:          r.Stdout,
			Stderr:          r.Stderr,
			StdoutTruncated: r.StdoutTruncated,
			StderrTruncated: r.StderrTruncated,
			StartedAt:       started,
			FinishedAt:      finished,
			Duration:        time.Duration(r.DurationNS),
		},
		WorkflowIdentity: r.WorkflowIdentity,
		SequenceID:       r.SequenceID,
	}
	if r.ExitCode != nil {
		rec.ExitCode = types.IntPtr(*r.ExitCode)
	}
	if r.ErrorMessage != nil {
		rec.ErrorMessage = *r.ErrorMessage
	}
	return rec, nil
}

func rowsToRecords(rows []ledgerRow) ([]types.LedgerRecord, error) {
	out := make([]types.LedgerRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
