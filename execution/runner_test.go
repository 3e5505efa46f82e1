//go:build !windows

package execution

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowguard/types"
)

func newTestRunner(t *testing.T, mut ...func(*RunnerConfig)) *ProcessRunner {
	t.Helper()
	cfg := DefaultRunnerConfig()
	cfg.TerminationGrace = 200 * time.Millisecond
	cfg.TempDir = t.TempDir()
	for _, m := range mut {
		m(&cfg)
	}
	return NewProcessRunner(cfg, nil)
}

// processGone reports whether pid has exited. A zombie still answers
// Kill(pid, 0), so on Linux its /proc state is checked as well.
func processGone(pid int) bool {
	if errors.Is(syscall.Kill(pid, 0), syscall.ESRCH) {
		return true
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...
	s := string(stat)
	if i := strings.LastIndexByte(s, ')'); i >= 0 && i+2 < len(s) {
		return s[i+2] == 'Z'
	}
	return false
}

func TestProcessRunner_Success(t *testing.T) {
	r := newTestRunner(t)

	out := r.Run(context.Background(), shell("echo hello"), 5*time.Second)

	assert.Equal(t, types.StatusSuccess, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Empty(t, out.Stderr)
	assert.Empty(t, out.ErrorMessage)
	assert.False(t, out.StdoutTruncated)
	assert.False(t, out.FinishedAt.Before(out.StartedAt))
	assert.Equal(t, out.FinishedAt.Sub(out.StartedAt), out.Duration)
	assert.Equal(t, time.UTC, out.StartedAt.Location())
}

func TestProcessRunner_EmptySource(t *testing.T) {
	r := newTestRunner(t)

	for _, lang := range []types.Language{types.LangShell, types.LangInterpreted} {
		if lang == types.LangInterpreted {
			if _, err := exec.LookPath(DefaultRunnerConfig().InterpreterPath); err != nil {
				continue
			}
		}
		out := r.Run(context.Background(), types.Script{Language: lang, Source: ""}, 5*time.Second)

		assert.Equal(t, types.StatusSuccess, out.Status, lang)
		require.NotNil(t, out.ExitCode)
		assert.Equal(t, 0, *out.ExitCode)
		assert.Empty(t, out.Stdout)
		assert.Empty(t, out.Stderr)
	}
}

func TestProcessRunner_Failure(t *testing.T) {
	r := newTestRunner(t)

	out := r.Run(context.Background(), shell("echo oops >&2; exit 3"), 5*time.Second)

	assert.Equal(t, types.StatusFailure, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 3, *out.ExitCode)
	assert.Equal(t, "oops\n", out.Stderr)
	assert.Equal(t, "process exited with code 3", out.ErrorMessage)
}

func TestProcessRunner_SignalExitCode(t *testing.T) {
	r := newTestRunner(t)

	out := r.Run(context.Background(), shell("kill -9 $$"), 5*time.Second)

	assert.Equal(t, types.StatusFailure, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 128+int(syscall.SIGKILL), *out.ExitCode)
}

func TestProcessRunner_Timeout(t *testing.T) {
	r := newTestRunner(t)

	start := time.Now()
	out := r.Run(context.Background(), shell("sleep 10"), 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, types.StatusTimeout, out.Status)
	assert.Contains(t, out.ErrorMessage, "timed out after 200ms")
	assert.Less(t, elapsed, 5*time.Second)
	assert.GreaterOrEqual(t, out.Duration, 200*time.Millisecond)
}

func TestProcessRunner_TimeoutEscalatesToKill(t *testing.T) {
	r := newTestRunner(t)

	start := time.Now()
	out := r.Run(context.Background(), shell("trap '' TERM; sleep 10"), 100*time.Millisecond)

	assert.Equal(t, types.StatusTimeout, out.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessRunner_TimeoutKillsBackgroundChildren(t *testing.T) {
	r := newTestRunner(t)

	out := r.Run(context.Background(), shell("sleep 30 >/dev/null 2>&1 & echo $!; sleep 10"), 300*time.Millisecond)
	require.Equal(t, types.StatusTimeout, out.Status)

	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 20*time.Millisecond)
}

func TestProcessRunner_NormalExitKillsBackgroundChildren(t *testing.T) {
	r := newTestRunner(t)

	out := r.Run(context.Background(), shell("sleep 30 >/dev/null 2>&1 & echo $!"), 5*time.Second)
	require.Equal(t, types.StatusSuccess, out.Status)

	pid, err := strconv.Atoi(strings.TrimSpace(out.Stdout))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 20*time.Millisecond)
}

func TestProcessRunner_BackgroundChildHoldingPipe(t *testing.T) {
	r := newTestRunner(t)

	start := time.Now()
	out := r.Run(context.Background(), shell("sleep 30 & echo started"), 10*time.Second)

	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, "started\n", out.Stdout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessRunner_Cancel(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out := r.Run(ctx, shell("sleep 10"), 10*time.Second)

	assert.Equal(t, types.StatusCancelled, out.Status)
	assert.Contains(t, out.ErrorMessage, "execution cancelled")
}

func TestProcessRunner_CancelledBeforeLaunch(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := r.Run(ctx, shell("echo should-not-run"), time.Second)

	assert.Equal(t, types.StatusCancelled, out.Status)
	assert.Nil(t, out.ExitCode)
	assert.Empty(t, out.Stdout)
}

func TestProcessRunner_OutputTruncation(t *testing.T) {
	r := newTestRunner(t, func(c *RunnerConfig) { c.MaxOutputBytes = 100 })

	src := `i=0; while [ $i -lt 200 ]; do printf 'abcdefghij'; i=$((i+1)); done`
	out := r.Run(context.Background(), shell(src), 10*time.Second)

	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.True(t, out.StdoutTruncated)
	assert.False(t, out.StderrTruncated)
	assert.True(t, strings.HasPrefix(out.Stdout, strings.Repeat("abcdefghij", 10)))
	assert.Contains(t, out.Stdout, "[output truncated: 1900 bytes discarded]")
}

func TestProcessRunner_EnvironmentIsolation(t *testing.T) {
	t.Setenv("FLOWGUARD_TEST_SECRET", "hunter2")
	r := newTestRunner(t)

	script := shell(`echo "secret=${FLOWGUARD_TEST_SECRET:-unset} extra=$EXTRA"`)
	script.EnvOverrides = map[string]string{"EXTRA": "x"}
	out := r.Run(context.Background(), script, 5*time.Second)

	assert.Equal(t, types.StatusSuccess, out.Status)
	assert.Equal(t, "secret=unset extra=x\n", out.Stdout)
}

func TestProcessRunner_WorkingDirectory(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()

	script := shell("pwd")
	script.WorkingDir = dir
	out := r.Run(context.Background(), script, 5*time.Second)

	require.Equal(t, types.StatusSuccess, out.Status)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out.Stdout))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestProcessRunner_InternalErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	tests := []struct {
		name   string
		mut    func(*RunnerConfig)
		script types.Script
		want   string
	}{
		{
			name:   "missing interpreter",
			mut:    func(c *RunnerConfig) { c.InterpreterPath = "flowguard-no-such-interpreter" },
			script: types.Script{Language: types.LangInterpreted, Source: "print(1)"},
			want:   "not available",
		},
		{
			name:   "missing shell",
			mut:    func(c *RunnerConfig) { c.ShellPath = "/nonexistent/sh" },
			script: shell("echo hi"),
			want:   "not available",
		},
		{
			name:   "missing working directory",
			script: types.Script{Language: types.LangShell, Source: "echo hi", WorkingDir: "/nonexistent/flowguard"},
			want:   "working directory",
		},
		{
			name:   "working directory is a file",
			script: types.Script{Language: types.LangShell, Source: "echo hi", WorkingDir: file},
			want:   "not a directory",
		},
		{
			name:   "unknown language",
			script: types.Script{Language: "COBOL", Source: "DISPLAY 'HI'"},
			want:   "unsupported language",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var muts []func(*RunnerConfig)
			if tt.mut != nil {
				muts = append(muts, tt.mut)
			}
			r := newTestRunner(t, muts...)

			out := r.Run(context.Background(), tt.script, time.Second)

			assert.Equal(t, types.StatusInternalError, out.Status)
			assert.Nil(t, out.ExitCode)
			assert.Contains(t, out.ErrorMessage, tt.want)
		})
	}
}

func TestProcessRunner_InterpretedScriptFileRemoved(t *testing.T) {
	tmp := t.TempDir()
	// Any interpreter that takes a file path works; sh keeps the test hermetic.
	r := newTestRunner(t, func(c *RunnerConfig) {
		c.InterpreterPath = "/bin/sh"
		c.TempDir = tmp
	})

	script := types.Script{Language: types.LangInterpreted, Source: `echo "from file $0"`}
	out := r.Run(context.Background(), script, 5*time.Second)

	require.Equal(t, types.StatusSuccess, out.Status)
	assert.Contains(t, out.Stdout, "from file "+tmp)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunnerConfigForPolicy(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MaxOutputBytes = 42
	cfg.MaxDuration = 3 * time.Second
	cfg.AllowedEnvKeys = []string{"PATH"}
	p, err := NewPolicy(cfg)
	require.NoError(t, err)

	rc := RunnerConfigForPolicy(DefaultRunnerConfig(), p)
	assert.Equal(t, 42, rc.MaxOutputBytes)
	assert.Equal(t, 3*time.Second, rc.DefaultTimeout)
	assert.Equal(t, []string{"PATH"}, rc.AllowedEnvKeys)

	assert.Equal(t, DefaultRunnerConfig(), RunnerConfigForPolicy(DefaultRunnerConfig(), nil))
}
