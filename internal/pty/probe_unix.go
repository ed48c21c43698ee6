//go:build !windows

package pty

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Stopped probes the OS scheduler state of the child and reports whether it
// is currently stopped (SIGSTOP delivered and not yet continued). Unlike
// IsPaused this is a fresh kernel query, useful for verifying that a pause
// actually froze the process.
func (t *Terminal) Stopped() bool {
	pid := t.PID()
	if pid <= 0 {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range states {
		if s == gopsproc.Stop {
			return true
		}
	}
	return false
}
