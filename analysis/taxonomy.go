package analysis

import (
	"regexp"
	"strings"

	"github.com/BaSui01/flowguard/types"
)

// TaxonomyVersion identifies the signature set below. Bump it whenever a
// category or signature is added, removed or reordered.
const TaxonomyVersion = "taxonomy/v1"

// category 一个失败类别：签名按顺序匹配，任意命中即归入该类别
type category struct {
	patternType types.PatternType
	signatures  []*regexp.Regexp
	remedy      string
}

// taxonomy 按优先级排列，首个命中的类别胜出
var taxonomy = []category{
	{
		patternType: types.PatternTimeout,
		signatures: compileSignatures(
			`timed out`,
			`deadline exceeded`,
			`timeout`,
		),
		remedy: "Raise the declared timeout or the policy max_duration, or split the script into smaller steps.",
	},
	{
		patternType: types.PatternRateLimit,
		signatures: compileSignatures(
			`rate limit`,
			`too many requests`,
			`\b429\b`,
			`quota exceeded`,
			`throttl`,
		),
		remedy: "Back off between runs or request a higher quota from the upstream service.",
	},
	{
		patternType: types.PatternAuthentication,
		signatures: compileSignatures(
			`authentication failed`,
			`unauthorized`,
			`\b401\b`,
			`invalid (?:api )?(?:key|token|credentials)`,
			`permission denied \(publickey`,
		),
		remedy: "Check that the credentials passed through env overrides are present and not expired.",
	},
	{
		patternType: types.PatternPermission,
		signatures: compileSignatures(
			`permission denied`,
			`operation not permitted`,
			`access denied`,
			`\b403\b`,
			`\beacces\b`,
		),
		remedy: "Verify file modes and ownership of the paths the script touches; the engine never escalates privileges.",
	},
	{
		patternType: types.PatternNetwork,
		signatures: compileSignatures(
			`connection refused`,
			`connection reset`,
			`network is unreachable`,
			`no route to host`,
			`could not resolve host`,
			`name or service not known`,
			`temporary failure in name resolution`,
			`\beconnrefused\b`,
		),
		remedy: "Confirm the remote host is reachable from this machine and that the service is running.",
	},
	{
		patternType: types.PatternMissingDependency,
		signatures: compileSignatures(
			`command not found`,
			`no such file or directory`,
			`executable file not found`,
			`modulenotfounderror`,
			`no module named`,
			`cannot find module`,
			`importerror`,
		),
		remedy: "Install the missing binary or package, or add its location to an allowed PATH.",
	},
}

const unclassifiedRemedy = "Inspect the sample messages; no known signature matched."

func compileSignatures(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Categories returns the pattern types in priority order, UNCLASSIFIED last.
func Categories() []types.PatternType {
	out := make([]types.PatternType, 0, len(taxonomy)+1)
	for _, c := range taxonomy {
		out = append(out, c.patternType)
	}
	return append(out, types.PatternUnclassified)
}

// Priority returns the rank of p in the taxonomy; lower wins.
func Priority(p types.PatternType) int {
	for i, c := range taxonomy {
		if c.patternType == p {
			return i
		}
	}
	return len(taxonomy)
}

// RemedyHint returns the suggested fix for a category.
func RemedyHint(p types.PatternType) string {
	for _, c := range taxonomy {
		if c.patternType == p {
			return c.remedy
		}
	}
	return unclassifiedRemedy
}

// Categorize assigns a failing record to exactly one category.
func Categorize(rec types.LedgerRecord) types.PatternType {
	if rec.Status == types.StatusTimeout {
		return types.PatternTimeout
	}
	text := rec.ErrorMessage + "\n" + stripMarkers(rec.Stderr)
	for _, c := range taxonomy {
		for _, sig := range c.signatures {
			if sig.MatchString(text) {
				return c.patternType
			}
		}
	}
	return types.PatternUnclassified
}

// stripMarkers drops the runner's truncation marker lines, whose byte counts
// would otherwise match status-code signatures.
func stripMarkers(s string) string {
	if !strings.Contains(s, truncationMarker) {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), truncationMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
