//go:build windows

package procutil

import (
	"os/exec"
	"strconv"
	"syscall"
)

type platformKiller struct{}

// KillTree terminates the process tree via taskkill. /T covers children,
// /F skips the unreliable graceful path.
func (platformKiller) KillTree(pid int) error {
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}

// GroupAttr returns the SysProcAttr that places a child in its own process
// group, so KillTree can take out the child and all of its descendants.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
