package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/flowguard/types"
)

// BuiltinPolicyVersion identifies the built-in deny rule set. Bump it whenever
// a built-in rule is added, removed or its pattern changes.
const BuiltinPolicyVersion = "builtin/v2"

// Rule is a single deny rule. Pattern is an RE2 expression matched against
// the normalized (lowercased, whitespace-collapsed) script source.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Pattern     string `json:"pattern" yaml:"pattern"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// BuiltinRules returns the built-in deny rules in evaluation order.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "fs.recursive-root-delete",
			Pattern:     `\brm\s+(?:-{1,2}[a-z-]+\s+)*-(?:[a-z]*r[a-z]*|-recursive)\s+(?:-{1,2}[a-z-]+\s+)*(?:/\*?|~/?|\$home/?|"/"|'/')(?:\s|;|&|\||\)|$)`,
			Description: "recursive deletion of the filesystem root or home directory",
		},
		{
			ID:          "priv.sudo",
			Pattern:     "(?:^|[\\s;&|(`])sudo(?:\\s|$)",
			Description: "privilege escalation via sudo",
		},
		{
			ID:          "priv.su",
			Pattern:     "(?:^|[;&|(`])\\s*su\\s*(?:$|[;&|)])|(?:^|[\\s;&|(`])su\\s+(?:-|-l|--login|root)(?:\\s|$|[;&|)])|(?:^|[\\s;&|(`])su\\s+-c\\s",
			Description: "privilege escalation via su",
		},
		{
			ID:          "priv.doas",
			Pattern:     "(?:^|[\\s;&|(`])(?:doas|pkexec)(?:\\s|$)",
			Description: "privilege escalation via doas or pkexec",
		},
		{
			ID:          "disk.mkfs",
			Pattern:     `\bmkfs(?:\.[a-z0-9]+)?(?:\s|$)`,
			Description: "filesystem creation",
		},
		{
			ID:          "disk.partition",
			Pattern:     `(?:^|[\s;&|(])(?:fdisk|sfdisk|parted|wipefs)(?:\s|$)`,
			Description: "partition table manipulation",
		},
		{
			ID:          "disk.dd-device",
			Pattern:     `\bdd\s+(?:[^;&|]*\s)?of=/dev/(?:sd|hd|vd|xvd|nvme|mmcblk|disk|mapper)`,
			Description: "raw write to a block device with dd",
		},
		{
			ID:          "disk.redirect-device",
			Pattern:     `>\s*/dev/(?:sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d|disk\d)`,
			Description: "shell redirection onto a block device",
		},
		{
			ID:          "proc.fork-bomb",
			Pattern:     `:\s*\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
			Description: "shell fork bomb",
		},
		{
			ID:          "proc.fork-loop",
			Pattern:     `while\s+(?:true|1)\s*:\s*os\.fork\(\)|\bfork\s+while\s+fork\b|while\s*\(\s*1\s*\)\s*\{?\s*fork\(\)`,
			Description: "unbounded fork loop",
		},
	}
}

// DefaultAllowedEnvKeys are copied from the parent environment into every
// child process.
func DefaultAllowedEnvKeys() []string {
	return []string{"PATH", "HOME", "USER", "LOGNAME", "LANG", "LC_ALL", "TZ", "TMPDIR", "SHELL"}
}

// PolicyConfig is the data form of a safety policy.
type PolicyConfig struct {
	DenyPatterns        []string         `json:"deny_patterns" yaml:"deny_patterns" env:"DENY_PATTERNS"`
	DenyRules           []Rule           `json:"deny_rules" yaml:"deny_rules" env:"-"`
	DisableBuiltinRules bool             `json:"disable_builtin_rules" yaml:"disable_builtin_rules" env:"DISABLE_BUILTIN_RULES"`
	MaxOutputBytes      int              `json:"max_output_bytes" yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	MaxDuration         time.Duration    `json:"max_duration" yaml:"max_duration" env:"MAX_DURATION"`
	AllowedEnvKeys      []string         `json:"allowed_env_keys" yaml:"allowed_env_keys" env:"ALLOWED_ENV_KEYS"`
	AllowedLanguages    []types.Language `json:"allowed_languages" yaml:"allowed_languages" env:"ALLOWED_LANGUAGES"`
}

// DefaultPolicyConfig returns secure defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxOutputBytes:   1024 * 1024, // 1MB
		MaxDuration:      5 * time.Minute,
		AllowedEnvKeys:   DefaultAllowedEnvKeys(),
		AllowedLanguages: []types.Language{types.LangShell, types.LangInterpreted},
	}
}

// Policy is a compiled, immutable safety policy.
type Policy struct {
	version          string
	rules            []Rule
	compiled         []*regexp.Regexp
	maxOutputBytes   int
	maxDuration      time.Duration
	allowedEnvKeys   []string
	allowedLanguages map[types.Language]struct{}
}

// NewPolicy compiles cfg. Rule order is: built-in rules, then DenyRules, then
// DenyPatterns (given IDs custom.1, custom.2, ...).
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	var rules []Rule
	if !cfg.DisableBuiltinRules {
		rules = append(rules, BuiltinRules()...)
	}
	custom := make([]Rule, 0, len(cfg.DenyRules)+len(cfg.DenyPatterns))
	custom = append(custom, cfg.DenyRules...)
	for i, p := range cfg.DenyPatterns {
		custom = append(custom, Rule{ID: fmt.Sprintf("custom.%d", i+1), Pattern: p})
	}
	rules = append(rules, custom...)

	seen := make(map[string]struct{}, len(rules))
	compiled := make([]*regexp.Regexp, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("deny rule with pattern %q has no id", r.Pattern)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate deny rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("deny rule %q has an empty pattern", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("deny rule %q: %w", r.ID, err)
		}
		compiled = append(compiled, re)
	}

	if cfg.MaxOutputBytes < 0 {
		return nil, fmt.Errorf("max_output_bytes must not be negative")
	}
	if cfg.MaxDuration < 0 {
		return nil, fmt.Errorf("max_duration must not be negative")
	}

	langs := cfg.AllowedLanguages
	if len(langs) == 0 {
		langs = []types.Language{types.LangShell, types.LangInterpreted}
	}
	allowed := make(map[types.Language]struct{}, len(langs))
	for _, l := range langs {
		if !l.Valid() {
			return nil, fmt.Errorf("unknown language in allowed_languages: %q", l)
		}
		allowed[l] = struct{}{}
	}

	envKeys := append([]string(nil), cfg.AllowedEnvKeys...)

	return &Policy{
		version:          policyVersion(cfg.DisableBuiltinRules, custom),
		rules:            rules,
		compiled:         compiled,
		maxOutputBytes:   cfg.MaxOutputBytes,
		maxDuration:      cfg.MaxDuration,
		allowedEnvKeys:   envKeys,
		allowedLanguages: allowed,
	}, nil
}

// MustDefaultPolicy returns the built-in policy with default limits.
func MustDefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		panic(fmt.Sprintf("built-in policy does not compile: %v", err))
	}
	return p
}

// policyVersion derives a version string that changes whenever the custom
// rule set changes.
func policyVersion(builtinDisabled bool, custom []Rule) string {
	base := BuiltinPolicyVersion
	if builtinDisabled {
		base = "none"
	}
	if len(custom) == 0 {
		return base
	}
	h := sha256.New()
	for _, r := range custom {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(r.Pattern))
		h.Write([]byte{0})
	}
	return base + "+custom/" + hex.EncodeToString(h.Sum(nil))[:8]
}

// Version returns the policy version recorded in verdicts.
func (p *Policy) Version() string { return p.version }

// Rules returns a copy of the rules in evaluation order.
func (p *Policy) Rules() []Rule { return append([]Rule(nil), p.rules...) }

// MaxOutputBytes is the per-stream capture cap.
func (p *Policy) MaxOutputBytes() int { return p.maxOutputBytes }

// MaxDuration is the global wall-clock ceiling for a run.
func (p *Policy) MaxDuration() time.Duration { return p.maxDuration }

// AllowedEnvKeys returns the parent environment keys passed to children.
func (p *Policy) AllowedEnvKeys() []string { return append([]string(nil), p.allowedEnvKeys...) }

// LanguageAllowed reports whether scripts in lang may run.
func (p *Policy) LanguageAllowed(lang types.Language) bool {
	_, ok := p.allowedLanguages[lang]
	return ok
}
