package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/flowguard/execution"
	"github.com/BaSui01/flowguard/types"
)

// 非零退出码，与 timeout(1) 和 shell 习惯保持一致
const (
	exitRejected = 2
	exitLedger   = 3
	exitTimeout  = 124
	exitCanceled = 130
)

// scriptFlags 是 run 与 validate 共用的脚本来源参数
type scriptFlags struct {
	source   string
	file     string
	language string
	timeout  time.Duration
	env      map[string]string
	workdir  string
}

func (f *scriptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.source, "command", "c", "", "Script source given inline")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the script from a file, - for stdin")
	cmd.Flags().StringVarP(&f.language, "language", "l", "shell", "Script language: shell or python")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Declared timeout, capped by policy.max_duration")
	cmd.Flags().StringToStringVarP(&f.env, "env", "e", nil, "Environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&f.workdir, "workdir", "", "Working directory for the script")
	cmd.MarkFlagsMutuallyExclusive("command", "file")
}

// script 组装 types.Script，空脚本是合法输入
func (f *scriptFlags) script(cmd *cobra.Command) (types.Script, error) {
	lang, err := types.ParseLanguage(f.language)
	if err != nil {
		return types.Script{}, err
	}

	var source string
	switch {
	case cmd.Flags().Changed("command"):
		source = f.source
	case f.file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return types.Script{}, fmt.Errorf("read script from stdin: %w", err)
		}
		source = string(b)
	case f.file != "":
		b, err := os.ReadFile(f.file)
		if err != nil {
			return types.Script{}, fmt.Errorf("read script: %w", err)
		}
		source = string(b)
	default:
		return types.Script{}, errors.New("one of --command or --file is required")
	}
	return types.Script{
		Language:        lang,
		Source:          source,
		DeclaredTimeout: f.timeout,
		EnvOverrides:    f.env,
		WorkingDir:      f.workdir,
	}, nil
}

// =============================================================================
// ▶️ run
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	var (
		workflow string
		sf       scriptFlags
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate, run and record one script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := sf.script(cmd)
			if err != nil {
				return err
			}
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.initTelemetry(ctx)
			l, err := a.openLedger(ctx)
			if err != nil {
				return &exitError{code: exitLedger, err: err}
			}
			executor, err := a.newExecutor(l, a.newCollector())
			if err != nil {
				return err
			}

			rec, execErr := executor.Execute(ctx, workflow, script)
			if execErr != nil && rec.Status == "" {
				return execErr
			}

			if a.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
					return err
				}
			} else {
				printRecord(cmd.OutOrStdout(), cmd.ErrOrStderr(), rec, execErr == nil)
			}

			if execErr != nil {
				return &exitError{code: exitLedger, err: execErr}
			}
			if code := exitCodeFor(rec.ExecutionOutcome); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "Workflow identity the outcome is recorded under")
	_ = cmd.MarkFlagRequired("workflow")
	sf.register(cmd)
	return cmd
}

// printRecord 将脚本输出原样转发，摘要写到 stderr
func printRecord(out, errOut io.Writer, rec types.LedgerRecord, recorded bool) {
	io.WriteString(out, rec.Stdout)
	io.WriteString(errOut, rec.Stderr)
	if rec.StdoutTruncated || rec.StderrTruncated {
		fmt.Fprintln(errOut, "flowguard: output was truncated")
	}

	summary := fmt.Sprintf("flowguard: %s %s in %s", rec.WorkflowIdentity, rec.Status, rec.Duration.Round(time.Millisecond))
	if rec.ExitCode != nil {
		summary += fmt.Sprintf(" (exit %d)", *rec.ExitCode)
	}
	if recorded {
		summary += fmt.Sprintf(", recorded as #%d", rec.SequenceID)
	} else {
		summary += ", NOT recorded"
	}
	fmt.Fprintln(errOut, summary)
	if rec.ErrorMessage != "" && rec.Status != types.StatusSuccess {
		fmt.Fprintf(errOut, "flowguard: %s\n", rec.ErrorMessage)
	}
}

// exitCodeFor 把执行结果映射为进程退出码，脚本失败时沿用其退出码
func exitCodeFor(o types.ExecutionOutcome) int {
	switch o.Status {
	case types.StatusSuccess:
		return 0
	case types.StatusFailure:
		if o.ExitCode != nil && *o.ExitCode > 0 && *o.ExitCode < 256 {
			return *o.ExitCode
		}
		return 1
	case types.StatusTimeout:
		return exitTimeout
	case types.StatusCancelled:
		return exitCanceled
	case types.StatusValidationRejected:
		return exitRejected
	default:
		return 1
	}
}

// =============================================================================
// 🛡️ validate
// =============================================================================

func newValidateCmd(a *app) *cobra.Command {
	var sf scriptFlags

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a script against the safety policy without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := sf.script(cmd)
			if err != nil {
				return err
			}
			if err := a.setup(); err != nil {
				return err
			}
			defer a.close()

			policy, err := execution.NewPolicy(a.cfg.Policy)
			if err != nil {
				return err
			}
			verdict := execution.NewValidator(policy).Validate(script)

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if err := writeJSON(out, verdict); err != nil {
					return err
				}
			} else if verdict.Allowed {
				fmt.Fprintf(out, "allowed (policy %s)\n", verdict.PolicyVersion)
			} else {
				fmt.Fprintf(out, "rejected (policy %s)\n", verdict.PolicyVersion)
				for _, v := range verdict.Violations {
					fmt.Fprintf(out, "  %-24s %q\n", v.RuleID, v.MatchedSubstring)
				}
			}

			if !verdict.Allowed {
				return &exitError{code: exitRejected}
			}
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}
