//go:build !windows

package execution

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// isolateProcess puts the child in a new session. It becomes leader of its
// own process group and has no controlling terminal.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminateGroup asks every process in the group to exit.
func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// killGroup forcibly kills every process in the group.
func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	// Negative PID targets the process group.
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitCodeOf maps a process state to a shell-style exit code: signals become
// 128+signo.
func exitCodeOf(state *os.ProcessState) (int, bool) {
	if state == nil {
		return 0, false
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	code := state.ExitCode()
	if code < 0 {
		return 0, false
	}
	return code, true
}
