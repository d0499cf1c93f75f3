//go:build !unix

package cmdutil

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// KillGroup kills the process pgid. Without process groups its children
// are not reached.
func KillGroup(pgid int) error {
	p, err := os.FindProcess(pgid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// GroupAlive always reports false where process groups are not available.
func GroupAlive(pgid int) bool {
	return false
}
