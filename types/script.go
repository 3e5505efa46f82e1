package types

import (
	"fmt"
	"strings"
	"time"
)

// Language is the interpreter family a script targets.
type Language string

const (
	// LangShell scripts are passed to the shell with -c.
	LangShell Language = "SHELL"
	// LangInterpreted scripts are written to a temp file and handed to an
	// interpreter (python3 by default).
	LangInterpreted Language = "INTERPRETED"
)

// ParseLanguage accepts the canonical names plus the common aliases used by
// the generation layer ("bash", "sh", "python").
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shell", "sh", "bash":
		return LangShell, nil
	case "interpreted", "python", "python3", "py":
		return LangInterpreted, nil
	default:
		return "", fmt.Errorf("unsupported language: %q", s)
	}
}

// Valid reports whether l is a known language.
func (l Language) Valid() bool {
	return l == LangShell || l == LangInterpreted
}

// Script is an approved script handed to the engine. The engine never mutates
// it; EnvOverrides is copied before use.
type Script struct {
	Language        Language          `json:"language" yaml:"language"`
	Source          string            `json:"source" yaml:"source"`
	DeclaredTimeout time.Duration     `json:"declared_timeout" yaml:"declared_timeout"`
	EnvOverrides    map[string]string `json:"env_overrides,omitempty" yaml:"env_overrides,omitempty"`
	WorkingDir      string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
}

// EffectiveTimeout returns the lesser of the declared timeout and ceiling.
// A non-positive declared timeout means "use the ceiling".
func (s Script) EffectiveTimeout(ceiling time.Duration) time.Duration {
	if s.DeclaredTimeout <= 0 {
		return ceiling
	}
	if ceiling > 0 && ceiling < s.DeclaredTimeout {
		return ceiling
	}
	return s.DeclaredTimeout
}
