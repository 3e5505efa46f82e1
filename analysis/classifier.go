package analysis

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/flowguard/types"
)

const (
	// MaxSampleMessages bounds FailurePattern.SampleMessages.
	MaxSampleMessages = 3

	maxSampleLength  = 240
	truncationMarker = "[output truncated:"
)

// Classify groups failing records (FAILURE, TIMEOUT, INTERNAL_ERROR) by
// category. Every failing record lands in exactly one pattern, so the
// occurrence counts sum to the number of failing records. The result does
// not depend on input order.
func Classify(records []types.LedgerRecord) []types.FailurePattern {
	groups := make(map[types.PatternType][]types.LedgerRecord)
	for _, rec := range records {
		if !rec.Status.IsFailure() {
			continue
		}
		p := Categorize(rec)
		groups[p] = append(groups[p], rec)
	}

	patterns := make([]types.FailurePattern, 0, len(groups))
	for p, recs := range groups {
		sortNewestFirst(recs)
		patterns = append(patterns, types.FailurePattern{
			PatternType:         p,
			OccurrenceCount:     len(recs),
			LastSeen:            recs[0].FinishedAt,
			SampleMessages:      sampleMessages(recs),
			SuggestedRemedyHint: RemedyHint(p),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return Priority(a.PatternType) < Priority(b.PatternType)
	})
	return patterns
}

// sortNewestFirst orders by FinishedAt desc. Ties fall back to SequenceID and
// then the message so the order is total.
func sortNewestFirst(recs []types.LedgerRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.After(b.FinishedAt)
		}
		if a.SequenceID != b.SequenceID {
			return a.SequenceID > b.SequenceID
		}
		return failureMessage(a) > failureMessage(b)
	})
}

func sampleMessages(recs []types.LedgerRecord) []string {
	seen := make(map[string]struct{}, MaxSampleMessages)
	out := make([]string, 0, MaxSampleMessages)
	for _, rec := range recs {
		msg := failureMessage(rec)
		if msg == "" {
			continue
		}
		if _, dup := seen[msg]; dup {
			continue
		}
		seen[msg] = struct{}{}
		out = append(out, msg)
		if len(out) == MaxSampleMessages {
			break
		}
	}
	return out
}

// failureMessage picks the line that best describes a failure. For FAILURE
// the last stderr line says more than the generic exit-code message; for
// TIMEOUT and INTERNAL_ERROR the engine's own message carries the cause.
func failureMessage(rec types.LedgerRecord) string {
	var msg string
	if rec.Status == types.StatusFailure {
		msg = lastLine(rec.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(rec.ErrorMessage)
		}
	} else {
		msg = strings.TrimSpace(rec.ErrorMessage)
		if msg == "" {
			msg = lastLine(rec.Stderr)
		}
	}
	return clip(msg, maxSampleLength)
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, truncationMarker) {
			continue
		}
		return line
	}
	return ""
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}
