package analysis

import (
	"sort"
	"time"

	"github.com/BaSui01/flowguard/types"
)

const (
	// MinTrendRecords is the smallest slice for which a trend is computed.
	MinTrendRecords = 4

	// TrendThreshold is the success-rate delta between halves that counts as
	// a change rather than noise.
	TrendThreshold = 0.1
)

// Summarize computes reliability statistics for a ledger slice. It never
// fails: an empty slice yields zero rates and INSUFFICIENT_DATA.
func Summarize(records []types.LedgerRecord) types.StatsSummary {
	s := types.StatsSummary{
		Total:    len(records),
		ByStatus: make(map[types.Status]int),
		Trend:    types.TrendInsufficientData,
	}
	if len(records) == 0 {
		return s
	}

	durations := make([]time.Duration, 0, len(records))
	for _, rec := range records {
		s.ByStatus[rec.Status]++
		if rec.Status == types.StatusSuccess {
			s.Succeeded++
		}

		d, clamped := effectiveDuration(rec)
		if clamped {
			s.ClampedRecords++
		}
		if rec.Status.Ran() {
			durations = append(durations, d)
		}
	}
	s.Failed = s.Total - s.Succeeded
	s.SuccessRate = float64(s.Succeeded) / float64(s.Total)

	if len(durations) > 0 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		s.MinDuration = durations[0]
		s.MaxDuration = durations[len(durations)-1]
		s.P50Duration = nearestRank(durations, 50)
		s.P95Duration = nearestRank(durations, 95)
		s.AvgDuration = mean(durations)
	}

	s.Trend = trend(records)
	return s
}

// effectiveDuration clamps malformed records (finish before start, negative
// duration) to zero.
func effectiveDuration(rec types.LedgerRecord) (time.Duration, bool) {
	if rec.Duration < 0 || rec.FinishedAt.Before(rec.StartedAt) {
		return 0, true
	}
	return rec.Duration, false
}

// nearestRank returns the p-th percentile of an ascending slice:
// the value at rank ceil(p/100 * n).
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// mean avoids int64 overflow on long slices by averaging incrementally.
func mean(ds []time.Duration) time.Duration {
	var avg, rem int64
	n := int64(len(ds))
	for _, d := range ds {
		v := int64(d)
		avg += v / n
		rem += v % n
		if rem >= n {
			avg++
			rem -= n
		}
	}
	return time.Duration(avg)
}

// trend compares the success rate of the newer half with the older half.
// Records are ordered by StartedAt, SequenceID and Status so the result does
// not depend on slice order; the middle record of an odd slice is ignored.
func trend(records []types.LedgerRecord) types.Trend {
	if len(records) < MinTrendRecords {
		return types.TrendInsufficientData
	}

	ordered := append([]types.LedgerRecord(nil), records...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		if a.SequenceID != b.SequenceID {
			return a.SequenceID < b.SequenceID
		}
		return a.Status < b.Status
	})

	half := len(ordered) / 2
	older := successRate(ordered[:half])
	newer := successRate(ordered[len(ordered)-half:])

	switch delta := newer - older; {
	case delta > TrendThreshold:
		return types.TrendImproving
	case delta < -TrendThreshold:
		return types.TrendDegrading
	default:
		return types.TrendStable
	}
}

func successRate(recs []types.LedgerRecord) float64 {
	ok := 0
	for _, r := range recs {
		if r.Status == types.StatusSuccess {
			ok++
		}
	}
	return float64(ok) / float64(len(recs))
}
