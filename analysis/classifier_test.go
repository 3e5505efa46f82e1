package analysis

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/flowguard/types"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func failing(seq int64, status types.Status, stderr, msg string, at time.Time) types.LedgerRecord {
	out := types.NewOutcome(status, at, at.Add(time.Second))
	out.Stderr = stderr
	out.ErrorMessage = msg
	if status == types.StatusFailure {
		out.ExitCode = types.IntPtr(1)
	}
	return types.LedgerRecord{ExecutionOutcome: out, WorkflowIdentity: "wf", SequenceID: seq}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name   string
		status types.Status
		stderr string
		msg    string
		want   types.PatternType
	}{
		{"timeout status wins", types.StatusTimeout, "connection refused", "timed out after 1s", types.PatternTimeout},
		{"deadline text", types.StatusFailure, "context deadline exceeded", "", types.PatternTimeout},
		{"http 429", types.StatusFailure, "HTTP/1.1 429 Too Many Requests", "", types.PatternRateLimit},
		{"throttled", types.StatusFailure, "request was throttled", "", types.PatternRateLimit},
		{"ssh publickey", types.StatusFailure, "git@github.com: Permission denied (publickey).", "", types.PatternAuthentication},
		{"invalid api key", types.StatusFailure, "Error: Invalid API key provided", "", types.PatternAuthentication},
		{"http 401", types.StatusFailure, "server returned 401", "", types.PatternAuthentication},
		{"permission denied", types.StatusFailure, "cp: /etc/shadow: Permission denied", "", types.PatternPermission},
		{"eacces", types.StatusFailure, "Error: EACCES: open '/root/x'", "", types.PatternPermission},
		{"curl refused", types.StatusFailure, "curl: (7) Failed to connect to db port 5432: Connection refused", "", types.PatternNetwork},
		{"dns", types.StatusFailure, "ping: api.internal: Name or service not known", "", types.PatternNetwork},
		{"missing binary", types.StatusFailure, "sh: 1: jq: command not found", "", types.PatternMissingDependency},
		{"python module", types.StatusFailure, "ModuleNotFoundError: No module named 'requests'", "", types.PatternMissingDependency},
		{"missing interpreter", types.StatusInternalError, "", `exec: "python3": executable file not found in $PATH`, types.PatternMissingDependency},
		{"digits inside numbers do not match", types.StatusFailure, "processed 14290 rows then failed", "", types.PatternUnclassified},
		{"unknown", types.StatusFailure, "segmentation fault", "process exited with code 139", types.PatternUnclassified},
		{"truncation marker 429", types.StatusFailure, "some unknown failure\n[output truncated: 429 bytes discarded]", "", types.PatternUnclassified},
		{"truncation marker 401", types.StatusFailure, "some unknown failure\n[output truncated: 401 bytes discarded]", "", types.PatternUnclassified},
		{"truncation marker 403", types.StatusFailure, "some unknown failure\n[output truncated: 403 bytes discarded]", "", types.PatternUnclassified},
		{"signature above truncation marker", types.StatusFailure, "connection refused\n[output truncated: 403 bytes discarded]", "", types.PatternNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := failing(1, tt.status, tt.stderr, tt.msg, t0)
			assert.Equal(t, tt.want, Categorize(rec))
		})
	}
}

func TestTaxonomy(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 7)
	assert.Equal(t, types.PatternTimeout, cats[0])
	assert.Equal(t, types.PatternUnclassified, cats[len(cats)-1])

	for i, c := range cats {
		assert.Equal(t, i, Priority(c))
		assert.NotEmpty(t, RemedyHint(c))
	}
	assert.Equal(t, "taxonomy/v1", TaxonomyVersion)
}

// 三次连续的 connection refused 失败归为一个 NETWORK 模式
func TestClassify_RepeatedNetworkFailures(t *testing.T) {
	records := []types.LedgerRecord{
		failing(3, types.StatusFailure, "psql: error: connection refused", "process exited with code 2", t0.Add(2*time.Minute)),
		failing(2, types.StatusFailure, "psql: error: connection refused", "process exited with code 2", t0.Add(time.Minute)),
		failing(1, types.StatusFailure, "psql: error: connection refused", "process exited with code 2", t0),
	}

	patterns := Classify(records)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, types.PatternNetwork, p.PatternType)
	assert.Equal(t, 3, p.OccurrenceCount)
	assert.Equal(t, t0.Add(2*time.Minute+time.Second), p.LastSeen)
	assert.Equal(t, []string{"psql: error: connection refused"}, p.SampleMessages)
	assert.Equal(t, RemedyHint(types.PatternNetwork), p.SuggestedRemedyHint)
}

func TestClassify_IgnoresNonFailures(t *testing.T) {
	records := []types.LedgerRecord{
		failing(1, types.StatusSuccess, "", "", t0),
		failing(2, types.StatusCancelled, "", "execution cancelled", t0),
		failing(3, types.StatusValidationRejected, "", "rejected by policy builtin/v2: priv.sudo", t0),
	}
	assert.Empty(t, Classify(records))
	assert.Empty(t, Classify(nil))
}

func TestClassify_SampleMessages(t *testing.T) {
	var records []types.LedgerRecord
	for i := 0; i < 6; i++ {
		// 消息 2、1、0 依次循环，最新的在最后
		stderr := fmt.Sprintf("traceback\nValueError: bad input %d\n[output truncated: 10 bytes discarded]", i%3)
		records = append(records, failing(int64(i+1), types.StatusFailure, stderr, "process exited with code 1", t0.Add(time.Duration(i)*time.Minute)))
	}
	records = append(records, failing(7, types.StatusFailure, "", "process exited with code 9", t0.Add(-time.Hour)))

	patterns := Classify(records)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, 7, p.OccurrenceCount)
	assert.Equal(t, []string{
		"ValueError: bad input 2",
		"ValueError: bad input 1",
		"ValueError: bad input 0",
	}, p.SampleMessages)
}

func TestClassify_SampleFromErrorMessage(t *testing.T) {
	rec := failing(1, types.StatusTimeout, "partial output", "timed out after 30s", t0)
	patterns := Classify([]types.LedgerRecord{rec})
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"timed out after 30s"}, patterns[0].SampleMessages)

	long := failing(2, types.StatusInternalError, "", strings.Repeat("x", 500), t0)
	patterns = Classify([]types.LedgerRecord{long})
	require.Len(t, patterns, 1)
	assert.Len(t, []rune(patterns[0].SampleMessages[0]), maxSampleLength+3)
}

func TestClassify_Ordering(t *testing.T) {
	records := []types.LedgerRecord{
		// NETWORK x2, last seen t0+1m
		failing(1, types.StatusFailure, "connection refused", "", t0),
		failing(2, types.StatusFailure, "connection refused", "", t0.Add(time.Minute)),
		// PERMISSION x2, last seen t0+5m
		failing(3, types.StatusFailure, "permission denied", "", t0.Add(5*time.Minute)),
		failing(4, types.StatusFailure, "permission denied", "", t0),
		// UNCLASSIFIED x1 and MISSING_DEPENDENCY x1 at the same instant
		failing(5, types.StatusFailure, "boom", "", t0.Add(time.Hour)),
		failing(6, types.StatusFailure, "command not found", "", t0.Add(time.Hour)),
		// TIMEOUT x3
		failing(7, types.StatusTimeout, "", "timed out", t0),
		failing(8, types.StatusTimeout, "", "timed out", t0),
		failing(9, types.StatusTimeout, "", "timed out", t0),
	}

	var got []types.PatternType
	for _, p := range Classify(records) {
		got = append(got, p.PatternType)
	}
	assert.Equal(t, []types.PatternType{
		types.PatternTimeout,
		types.PatternPermission,
		types.PatternNetwork,
		types.PatternMissingDependency,
		types.PatternUnclassified,
	}, got)
}

var messageCorpus = []string{
	"connection refused",
	"permission denied",
	"command not found",
	"429 too many requests",
	"unauthorized",
	"deadline exceeded",
	"something odd",
	"",
}

// recordsFromSeeds 把整数种子映射为记录，便于属性测试生成
func recordsFromSeeds(seeds []int) []types.LedgerRecord {
	out := make([]types.LedgerRecord, len(seeds))
	for i, s := range seeds {
		status := types.AllStatuses[s%len(types.AllStatuses)]
		msg := messageCorpus[(s/len(types.AllStatuses))%len(messageCorpus)]
		at := t0.Add(time.Duration(s%17) * time.Minute)
		out[i] = failing(int64(i+1), status, msg, "", at)
	}
	return out
}

func TestProperty_ClassifyIsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("occurrence counts sum to the number of failing records", prop.ForAll(
		func(seeds []int) bool {
			records := recordsFromSeeds(seeds)
			failingCount := 0
			for _, r := range records {
				if r.Status.IsFailure() {
					failingCount++
				}
			}

			sum := 0
			seen := make(map[types.PatternType]bool)
			for _, p := range Classify(records) {
				if seen[p.PatternType] || p.OccurrenceCount < 1 || len(p.SampleMessages) > MaxSampleMessages {
					return false
				}
				seen[p.PatternType] = true
				sum += p.OccurrenceCount
			}
			return sum == failingCount
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestProperty_ClassifyIgnoresInputOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seeds := rapid.SliceOfN(rapid.IntRange(0, 1000), 0, 40).Draw(t, "seeds")
		records := recordsFromSeeds(seeds)
		shuffled := rapid.Permutation(records).Draw(t, "shuffled")

		want := Classify(records)
		got := Classify(shuffled)
		if fmt.Sprintf("%+v", want) != fmt.Sprintf("%+v", got) {
			t.Fatalf("order changed the result:\n%+v\n%+v", want, got)
		}
	})
}
