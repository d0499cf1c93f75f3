//go:build unix

package cmdutil

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillGroup sends SIGKILL to every process in the group led by pgid.
func KillGroup(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// GroupAlive reports whether any process is left in the group led by pgid.
func GroupAlive(pgid int) bool {
	return syscall.Kill(-pgid, 0) == nil
}
