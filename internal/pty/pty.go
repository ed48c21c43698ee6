//go:build !windows

// Package pty runs one shell command inside a pseudo-terminal-backed child
// process and exposes coarse OS-level control over it: pause and resume via
// SIGSTOP/SIGCONT, liveness, bounded wait, and idempotent termination.
//
// A real pty, not pipes, is used because many commands change buffering and
// coloring when not attached to a terminal. SIGSTOP/SIGCONT stop the child at
// the scheduler level, so a paused process produces no further output at all.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const readPollInterval = 100 * time.Millisecond

var (
	// ErrAlreadyStarted is returned by Start on a Terminal that was started
	// before. A Terminal runs at most one child over its lifetime.
	ErrAlreadyStarted = errors.New("pty: terminal already started")
	// ErrSpawn wraps failures to allocate a pty or fork the child.
	ErrSpawn = errors.New("pty: spawn failed")
)

// OutputFunc receives decoded output chunks in the order the OS delivered them.
type OutputFunc func(chunk string)

// Terminal owns exactly one pty-backed child process.
// The master descriptor is closed exactly once, on Terminate.
type Terminal struct {
	command  string
	onOutput OutputFunc

	mu       sync.Mutex
	cmd      *exec.Cmd
	master   *os.File
	pid      int
	started  bool
	paused   bool
	waitDone chan struct{} // closed by the waiter goroutine after reaping
	exitCode int
	stop     chan struct{}

	closeOnce sync.Once
}

// New prepares a Terminal for the given shell command. onOutput may be nil.
func New(command string, onOutput OutputFunc) *Terminal {
	return &Terminal{command: command, onOutput: onOutput}
}

// Start spawns /bin/sh -c command attached to a new pty. The child becomes a
// session leader with the pty slave bound to stdin, stdout and stderr. A
// reader goroutine streams master output to the callback until EOF or stop.
// Start may be called at most once; a spawn failure leaves the Terminal dead
// and is returned loudly.
func (t *Terminal) Start() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return 0, ErrAlreadyStarted
	}
	t.started = true

	// #nosec G204 -- executing caller-supplied commands is this type's purpose
	cmd := exec.Command("/bin/sh", "-c", t.command)
	master, err := pty.Start(cmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	t.cmd = cmd
	t.master = master
	t.pid = cmd.Process.Pid
	t.waitDone = make(chan struct{})
	t.stop = make(chan struct{})

	go t.reap(cmd)
	go t.readLoop(master)
	return t.pid, nil
}

// reap owns cmd.Wait for this run; waitDone latches the exit permanently.
func (t *Terminal) reap(cmd *exec.Cmd) {
	// Non-zero exits surface through the exit code, not the error.
	_ = cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	t.mu.Lock()
	t.exitCode = code
	close(t.waitDone)
	t.mu.Unlock()
}

// readLoop polls the master with a bounded deadline so it can observe stop
// without blocking forever, decodes bytes permissively, and forwards chunks.
func (t *Terminal) readLoop(master *os.File) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		_ = master.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := master.Read(buf)
		if n > 0 && t.onOutput != nil {
			t.onOutput(strings.ToValidUTF8(string(buf[:n]), "�"))
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			// EOF, EIO after child exit, or master closed by Terminate.
			return
		}
	}
}

// PID returns the child's pid, or 0 before Start.
func (t *Terminal) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// Pause delivers SIGSTOP to the child's process group. A false return means
// the signal had no effect (never started, already exited, or already
// paused); that is a normal outcome of racing a natural exit, not an error.
func (t *Terminal) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 || t.paused || t.exitedLocked() {
		return false
	}
	if err := syscall.Kill(-t.pid, syscall.SIGSTOP); err != nil {
		return false
	}
	t.paused = true
	return true
}

// Resume delivers SIGCONT, symmetric to Pause.
func (t *Terminal) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 || !t.paused {
		return false
	}
	if err := syscall.Kill(-t.pid, syscall.SIGCONT); err != nil {
		t.paused = false
		return false
	}
	t.paused = false
	return true
}

// IsRunning reports whether the child has not yet been reaped. The first
// observed exit latches false permanently.
func (t *Terminal) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waitDone == nil {
		return false
	}
	return !t.exitedLocked()
}

// IsPaused reflects the last Pause/Resume call; it is bookkeeping, not a
// fresh OS query. See Stopped for the scheduler's view.
func (t *Terminal) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// exitedLocked is the non-blocking reap check; t.mu must be held.
func (t *Terminal) exitedLocked() bool {
	if t.waitDone == nil {
		return true
	}
	select {
	case <-t.waitDone:
		return true
	default:
		return false
	}
}

// Wait blocks up to timeout for the child to exit and returns its exit code.
// ok is false when the timeout elapsed first; the child keeps running and is
// not affected. timeout <= 0 waits indefinitely.
func (t *Terminal) Wait(timeout time.Duration) (code int, ok bool) {
	t.mu.Lock()
	wd := t.waitDone
	t.mu.Unlock()
	if wd == nil {
		return 0, false
	}
	if timeout <= 0 {
		<-wd
	} else {
		select {
		case <-wd:
		case <-time.After(timeout):
			return 0, false
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, true
}

// Terminate un-sticks a possibly paused process group with SIGCONT, sends
// SIGTERM, stops the reader, and closes the master exactly once. Safe to call
// any number of times, from any state.
func (t *Terminal) Terminate() {
	t.mu.Lock()
	pid := t.pid
	exited := t.pid != 0 && t.exitedLocked()
	t.paused = false
	t.started = true // no restart through a dead wrapper
	stop := t.stop
	master := t.master
	t.mu.Unlock()

	if pid != 0 && !exited {
		// SIGCONT first so a stopped process actually sees the SIGTERM.
		_ = syscall.Kill(-pid, syscall.SIGCONT)
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
	t.closeOnce.Do(func() {
		if stop != nil {
			close(stop)
		}
		if master != nil {
			_ = master.Close()
		}
	})
}
