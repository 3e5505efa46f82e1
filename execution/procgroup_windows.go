//go:build windows

package execution

import (
	"os"
	"os/exec"
)

// Windows has no POSIX process groups; the runner falls back to killing the
// leader only.
func isolateProcess(cmd *exec.Cmd) {}

func terminateGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	_ = p.Kill()
	return nil
}

func exitCodeOf(state *os.ProcessState) (int, bool) {
	if state == nil || state.ExitCode() < 0 {
		return 0, false
	}
	return state.ExitCode(), true
}
