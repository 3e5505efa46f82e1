package types

import "time"

// PatternType is a failure category from the classification taxonomy.
type PatternType string

const (
	PatternTimeout           PatternType = "TIMEOUT"
	PatternRateLimit         PatternType = "RATE_LIMIT"
	PatternAuthentication    PatternType = "AUTHENTICATION"
	PatternPermission        PatternType = "PERMISSION"
	PatternNetwork           PatternType = "NETWORK"
	PatternMissingDependency PatternType = "MISSING_DEPENDENCY"
	PatternUnclassified      PatternType = "UNCLASSIFIED"
)

// FailurePattern groups failing records of one category. It is derived from
// a ledger slice and never stored.
type FailurePattern struct {
	PatternType         PatternType `json:"pattern_type"`
	OccurrenceCount     int         `json:"occurrence_count"`
	LastSeen            time.Time   `json:"last_seen"`
	SampleMessages      []string    `json:"sample_messages"`
	SuggestedRemedyHint string      `json:"suggested_remedy_hint"`
}

// Trend compares the success rate of the newer half of a slice with the
// older half.
type Trend string

const (
	TrendImproving        Trend = "IMPROVING"
	TrendDegrading        Trend = "DEGRADING"
	TrendStable           Trend = "STABLE"
	TrendInsufficientData Trend = "INSUFFICIENT_DATA"
)

// StatsSummary is the reliability summary of a ledger slice.
type StatsSummary struct {
	Total          int            `json:"total"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	ByStatus       map[Status]int `json:"by_status"`
	SuccessRate    float64        `json:"success_rate"`
	AvgDuration    time.Duration  `json:"avg_duration"`
	P50Duration    time.Duration  `json:"p50_duration"`
	P95Duration    time.Duration  `json:"p95_duration"`
	MinDuration    time.Duration  `json:"min_duration"`
	MaxDuration    time.Duration  `json:"max_duration"`
	ClampedRecords int            `json:"clamped_records"`
	Trend          Trend          `json:"trend"`
}
