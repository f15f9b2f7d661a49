//go:build windows

package pyengine

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
)

// prepareCommandForTermination groups the worker process so taskkill
// can bring down anything it spawned, matching the unix Setpgid intent.
func prepareCommandForTermination(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcessTree shells out to taskkill /T to terminate the
// worker and its descendants; there is no SIGKILL-equivalent syscall
// available here.
func terminateProcessTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := strconv.Itoa(cmd.Process.Pid)
	killCmd := exec.Command("taskkill", "/T", "/F", "/PID", pid)
	if err := killCmd.Run(); err != nil {
		return fmt.Errorf("taskkill failed for pid %s: %w", pid, err)
	}
	return nil
}
