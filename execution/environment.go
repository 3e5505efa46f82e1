package execution

import (
	"sort"
	"strings"
)

// buildEnvironment assembles a child environment from the allow-listed keys
// present in the parent plus the caller overrides. The result is sorted so
// the same inputs always produce the same environment.
func buildEnvironment(allowed []string, overrides map[string]string, lookup func(string) (string, bool)) []string {
	env := make(map[string]string, len(allowed)+len(overrides))
	for _, key := range allowed {
		if v, ok := lookup(key); ok {
			env[key] = v
		}
	}
	for k, v := range overrides {
		if k == "" || strings.ContainsRune(k, '=') {
			continue
		}
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
