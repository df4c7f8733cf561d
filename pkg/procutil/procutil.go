// Package procutil abstracts OS process-tree control so the rest of the
// application never shells out to platform tools directly.
package procutil

// TreeKiller forcibly terminates a process and everything spawned under it.
// Implementations are per-platform; callers depend only on this interface.
type TreeKiller interface {
	// KillTree terminates the process identified by pid together with its
	// process group (or, on Windows, its process tree). It is best-effort:
	// killing an already-dead process is not an error worth acting on.
	KillTree(pid int) error
}

// NewTreeKiller returns the TreeKiller for the current platform.
func NewTreeKiller() TreeKiller {
	return platformKiller{}
}
