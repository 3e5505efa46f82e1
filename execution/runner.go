package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowguard/types"
)

// Runner executes one script and reports the outcome. Implementations never
// return Go errors; every fault is expressed through the outcome status.
type Runner interface {
	Run(ctx context.Context, script types.Script, maxDuration time.Duration) types.ExecutionOutcome
}

// RunnerConfig configures the process runner.
type RunnerConfig struct {
	ShellPath        string        `json:"shell_path" yaml:"shell_path" env:"SHELL_PATH"`
	InterpreterPath  string        `json:"interpreter_path" yaml:"interpreter_path" env:"INTERPRETER_PATH"`
	TempDir          string        `json:"temp_dir" yaml:"temp_dir" env:"TEMP_DIR"`
	TerminationGrace time.Duration `json:"termination_grace" yaml:"termination_grace" env:"TERMINATION_GRACE"`
	MaxOutputBytes   int           `json:"max_output_bytes" yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	DefaultTimeout   time.Duration `json:"default_timeout" yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	AllowedEnvKeys   []string      `json:"allowed_env_keys" yaml:"allowed_env_keys" env:"ALLOWED_ENV_KEYS"`
}

// DefaultRunnerConfig returns the defaults used when a field is left zero.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ShellPath:        "/bin/sh",
		InterpreterPath:  "python3",
		TerminationGrace: 2 * time.Second,
		MaxOutputBytes:   1024 * 1024, // 1MB
		DefaultTimeout:   5 * time.Minute,
		AllowedEnvKeys:   DefaultAllowedEnvKeys(),
	}
}

// RunnerConfigForPolicy derives runner limits from a policy so the capture
// cap and environment allow-list come from one place.
func RunnerConfigForPolicy(base RunnerConfig, p *Policy) RunnerConfig {
	cfg := base
	if p == nil {
		return cfg
	}
	if p.MaxOutputBytes() > 0 {
		cfg.MaxOutputBytes = p.MaxOutputBytes()
	}
	if p.MaxDuration() > 0 {
		cfg.DefaultTimeout = p.MaxDuration()
	}
	cfg.AllowedEnvKeys = p.AllowedEnvKeys()
	return cfg
}

// ProcessRunner runs scripts as isolated local child processes.
//
// Each call owns exactly one process group. On deadline or cancellation the
// group receives SIGTERM, then SIGKILL after the grace window. After the
// leader exits the group is always killed so background children cannot
// outlive the call.
type ProcessRunner struct {
	cfg      RunnerConfig
	logger   *zap.Logger
	lookPath func(string) (string, error)
	lookEnv  func(string) (string, bool)
}

// NewProcessRunner creates a process runner.
func NewProcessRunner(cfg RunnerConfig, logger *zap.Logger) *ProcessRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRunnerConfig()
	if cfg.ShellPath == "" {
		cfg.ShellPath = def.ShellPath
	}
	if cfg.InterpreterPath == "" {
		cfg.InterpreterPath = def.InterpreterPath
	}
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = def.TerminationGrace
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.AllowedEnvKeys == nil {
		cfg.AllowedEnvKeys = def.AllowedEnvKeys
	}
	return &ProcessRunner{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "process_runner")),
		lookPath: exec.LookPath,
		lookEnv:  os.LookupEnv,
	}
}

// Config returns the effective runner configuration.
func (r *ProcessRunner) Config() RunnerConfig {
	return r.cfg
}

// Run executes script with a wall-clock limit of maxDuration (the runner's
// default timeout when maxDuration is not positive).
func (r *ProcessRunner) Run(ctx context.Context, script types.Script, maxDuration time.Duration) types.ExecutionOutcome {
	startedAt := time.Now()
	if maxDuration <= 0 {
		maxDuration = r.cfg.DefaultTimeout
	}

	if err := ctx.Err(); err != nil {
		return r.interrupted(types.StatusCancelled, startedAt, fmt.Sprintf("execution cancelled before launch: %v", context.Cause(ctx)), nil, nil, nil)
	}

	if script.WorkingDir != "" {
		info, err := os.Stat(script.WorkingDir)
		if err != nil {
			return r.internalError(startedAt, fmt.Errorf("working directory: %w", err))
		}
		if !info.IsDir() {
			return r.internalError(startedAt, fmt.Errorf("working directory %s is not a directory", script.WorkingDir))
		}
	}

	argv, cleanup, err := r.materialize(script)
	if err != nil {
		return r.internalError(startedAt, err)
	}
	defer cleanup()

	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnvironment(r.cfg.AllowedEnvKeys, script.EnvOverrides, r.lookEnv)
	cmd.Dir = script.WorkingDir
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bounds Wait when a descendant that escaped the group keeps a pipe open.
	cmd.WaitDelay = r.cfg.TerminationGrace
	isolateProcess(cmd)

	r.logger.Debug("launching script",
		zap.String("language", string(script.Language)),
		zap.String("program", argv[0]),
		zap.Int("source_length", len(script.Source)),
		zap.Duration("timeout", maxDuration),
	)

	if err := cmd.Start(); err != nil {
		return r.internalError(startedAt, fmt.Errorf("start %s: %w", argv[0], err))
	}
	pid := cmd.Process.Pid

	// cmd.Wait returns only after both output copiers have finished, so the
	// outcome is never built while a stream is still being drained.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(maxDuration)
	defer timer.Stop()

	var (
		waitErr   error
		interrupt types.Status
	)
	select {
	case waitErr = <-done:
	case <-timer.C:
		interrupt = types.StatusTimeout
		waitErr = r.terminate(pid, done)
	case <-ctx.Done():
		interrupt = types.StatusCancelled
		waitErr = r.terminate(pid, done)
	}
	if err := killGroup(pid); err != nil {
		r.logger.Warn("failed to reap process group", zap.Int("pid", pid), zap.Error(err))
	}

	var exitCode *int
	if code, ok := exitCodeOf(cmd.ProcessState); ok {
		exitCode = types.IntPtr(code)
	}

	switch interrupt {
	case types.StatusTimeout:
		return r.interrupted(types.StatusTimeout, startedAt,
			fmt.Sprintf("execution timed out after %s", maxDuration), exitCode, stdout, stderr)
	case types.StatusCancelled:
		return r.interrupted(types.StatusCancelled, startedAt,
			fmt.Sprintf("execution cancelled: %v", context.Cause(ctx)), exitCode, stdout, stderr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay), errors.As(waitErr, &exitErr):
		// exit status decides
	default:
		return r.finish(types.StatusInternalError, startedAt, exitCode, stdout, stderr,
			fmt.Sprintf("wait for process: %v", waitErr))
	}

	if exitCode == nil {
		return r.finish(types.StatusInternalError, startedAt, nil, stdout, stderr,
			"process exited without a status")
	}
	if *exitCode == 0 {
		return r.finish(types.StatusSuccess, startedAt, exitCode, stdout, stderr, "")
	}
	return r.finish(types.StatusFailure, startedAt, exitCode, stdout, stderr,
		fmt.Sprintf("process exited with code %d", *exitCode))
}

// terminate escalates from SIGTERM to SIGKILL on the whole process group and
// waits for cmd.Wait to return. The wait is bounded: after SIGKILL the pipes
// close, and WaitDelay covers descendants that left the group.
func (r *ProcessRunner) terminate(pid int, done <-chan error) error {
	if err := terminateGroup(pid); err != nil {
		r.logger.Warn("failed to signal process group", zap.Int("pid", pid), zap.Error(err))
	}
	grace := time.NewTimer(r.cfg.TerminationGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
	}

	r.logger.Debug("process group ignored SIGTERM, escalating", zap.Int("pid", pid))
	if err := killGroup(pid); err != nil {
		r.logger.Warn("failed to kill process group", zap.Int("pid", pid), zap.Error(err))
	}
	return <-done
}

// materialize turns the script into an argv. Interpreted scripts are written
// to a private temp file; the returned cleanup removes it and must be
// deferred by the caller.
func (r *ProcessRunner) materialize(script types.Script) ([]string, func(), error) {
	noop := func() {}

	switch script.Language {
	case types.LangShell:
		shell, err := r.lookPath(r.cfg.ShellPath)
		if err != nil {
			return nil, noop, fmt.Errorf("shell %q not available: %w", r.cfg.ShellPath, err)
		}
		return []string{shell, "-c", script.Source}, noop, nil

	case types.LangInterpreted:
		interp, err := r.lookPath(r.cfg.InterpreterPath)
		if err != nil {
			return nil, noop, fmt.Errorf("interpreter %q not available: %w", r.cfg.InterpreterPath, err)
		}
		f, err := os.CreateTemp(r.cfg.TempDir, "flowguard-*.py")
		if err != nil {
			return nil, noop, fmt.Errorf("create script file: %w", err)
		}
		path := f.Name()
		cleanup := func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("failed to remove script file", zap.String("path", path), zap.Error(err))
			}
		}
		if _, err := f.WriteString(script.Source); err != nil {
			f.Close()
			cleanup()
			return nil, noop, fmt.Errorf("write script file: %w", err)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("close script file: %w", err)
		}
		return []string{interp, path}, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("unsupported language: %q", script.Language)
	}
}

func (r *ProcessRunner) internalError(startedAt time.Time, err error) types.ExecutionOutcome {
	r.logger.Error("script could not be launched", zap.Error(err))
	return r.finish(types.StatusInternalError, startedAt, nil, nil, nil, err.Error())
}

func (r *ProcessRunner) interrupted(status types.Status, startedAt time.Time, msg string, exitCode *int, stdout, stderr *cappedBuffer) types.ExecutionOutcome {
	r.logger.Info("script interrupted", zap.String("status", string(status)), zap.String("reason", msg))
	return r.finish(status, startedAt, exitCode, stdout, stderr, msg)
}

func (r *ProcessRunner) finish(status types.Status, startedAt time.Time, exitCode *int, stdout, stderr *cappedBuffer, msg string) types.ExecutionOutcome {
	out := types.NewOutcome(status, startedAt, time.Now())
	out.ExitCode = exitCode
	out.ErrorMessage = msg
	if stdout != nil {
		out.Stdout = stdout.String()
		out.StdoutTruncated = stdout.Truncated()
	}
	if stderr != nil {
		out.Stderr = stderr.String()
		out.StderrTruncated = stderr.Truncated()
	}
	return out
}
