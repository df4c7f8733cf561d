//go:build !windows

package procutil

import "syscall"

type platformKiller struct{}

// KillTree sends SIGKILL to the whole process group. A graceful signal is
// deliberately skipped: the processes we reap (browser, driver, credential
// subprocess) are unreliable under orderly shutdown.
func (platformKiller) KillTree(pid int) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process group unknown; fall back to the single process.
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// GroupAttr returns the SysProcAttr that places a child in its own process
// group, so KillTree can take out the child and all of its descendants.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
