//go:build !windows

package pyengine

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// prepareCommandForTermination puts cmd in its own process group so
// terminateProcessTree can kill the whole tree a Python worker might
// spawn (pip subprocesses, os.system calls) rather than just the
// immediate child. Adapted from picoclaw's host sandbox, which needs
// the same guarantee when killing a container's exec session.
func prepareCommandForTermination(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
}

// terminateProcessTree SIGKILLs the entire process group, falling
// back to killing just the direct child if the group signal fails
// (e.g. the group already exited).
func terminateProcessTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	_ = cmd.Process.Kill()
	return nil
}
