//go:build !windows

package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowguard/types"
)

func TestExecutor_Execute_CancelledMidRunIsRecorded(t *testing.T) {
	ledger := &testAppender{}
	e := newTestExecutor(t, newTestRunner(t), ledger)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	rec, err := e.Execute(ctx, "wf", shell("sleep 10"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, rec.Status)
	assert.Equal(t, int64(1), rec.SequenceID)
	require.Len(t, ledger.records, 1)
	assert.Equal(t, types.StatusCancelled, ledger.records[0].Status)
	assert.Zero(t, e.Stats().LedgerFailures)
}
