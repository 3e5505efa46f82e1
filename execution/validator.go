package execution

import (
	"strings"

	"github.com/BaSui01/flowguard/types"
)

// RuleLanguageNotAllowed is reported when the script's declared language is
// unknown or disabled by the policy.
const RuleLanguageNotAllowed = "policy.language-not-allowed"

// Validator screens scripts against a Policy before execution. It performs no
// I/O and keeps no mutable state, so it is safe for concurrent use and always
// returns the same verdict for the same script.
type Validator struct {
	policy *Policy
}

// NewValidator creates a validator. A nil policy means the built-in policy.
func NewValidator(policy *Policy) *Validator {
	if policy == nil {
		policy = MustDefaultPolicy()
	}
	return &Validator{policy: policy}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() *Policy {
	return v.policy
}

// Validate checks a script against every deny rule. All violated rules are
// reported, each once, in policy order.
func (v *Validator) Validate(script types.Script) types.ValidationVerdict {
	verdict := types.ValidationVerdict{PolicyVersion: v.policy.version}

	if !v.policy.LanguageAllowed(script.Language) {
		verdict.Violations = append(verdict.Violations, types.Violation{
			RuleID:           RuleLanguageNotAllowed,
			MatchedSubstring: string(script.Language),
		})
	}

	normalized := NormalizeSource(script.Source)
	for i, re := range v.policy.compiled {
		loc := re.FindStringIndex(normalized)
		if loc == nil {
			continue
		}
		verdict.Violations = append(verdict.Violations, types.Violation{
			RuleID:           v.policy.rules[i].ID,
			MatchedSubstring: strings.TrimSpace(normalized[loc[0]:loc[1]]),
		})
	}

	verdict.Allowed = len(verdict.Violations) == 0
	return verdict
}

// NormalizeSource lowercases src and collapses every run of whitespace
// (including newlines) into a single space.
func NormalizeSource(src string) string {
	return strings.Join(strings.Fields(strings.ToLower(src)), " ")
}
