//go:build !windows

package procutil

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKillTreeTerminatesProcessGroup(t *testing.T) {
	// The shell spawns a child sleep; killing the group must take out both.
	cmd := exec.Command("/bin/sh", "-c", "sleep 60")
	cmd.SysProcAttr = GroupAttr()
	require.NoError(t, cmd.Start())

	killer := NewTreeKiller()
	require.NoError(t, killer.KillTree(cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		require.Error(t, err, "process should have been killed, not exited cleanly")
	case <-time.After(5 * time.Second):
		t.Fatal("process did not die after KillTree")
	}
}

func TestKillTreeDeadProcess(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	cmd.SysProcAttr = GroupAttr()
	require.NoError(t, cmd.Run())

	// Best-effort contract: killing an exited process returns an error
	// (or nil), but never panics. Callers ignore the result.
	_ = NewTreeKiller().KillTree(cmd.Process.Pid)
}
