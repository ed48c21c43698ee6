package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/termrun/internal/pty"
)

// monitorInterval bounds how stale a RUNNING status can be after the process
// has actually exited. Shorter means faster status updates, longer means less
// polling; read-path reconciliation can commit the transition earlier anyway.
const monitorInterval = 200 * time.Millisecond

// transitionFunc observes a committed status transition. It is called after
// the session lock has been released, so it may do blocking I/O.
type transitionFunc func(s *Session, from, to Status)

// Session binds one shell command to one pty-backed process, a durable
// append-only log file, and a status state machine. All status mutations,
// whether from control calls, the monitor goroutine, or read-path
// reconciliation, are linearized through one mutex so a terminal status is
// never left and no transition is committed twice.
type Session struct {
	id        string
	command   string
	logFile   string
	createdAt time.Time

	mu      sync.Mutex
	status  Status
	term    *pty.Terminal
	stopMon chan struct{}

	// logMu serializes log appends and reads independently of mu, so one
	// session's log traffic never blocks its own or others' control calls.
	logMu sync.Mutex

	onTransition transitionFunc
}

// newSession creates a PENDING session and its empty log file under logDir.
func newSession(id, command, logDir string, onTransition transitionFunc) (*Session, error) {
	logFile := filepath.Join(logDir, id+".log")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	_ = f.Close()
	return &Session{
		id:           id,
		command:      command,
		logFile:      logFile,
		createdAt:    time.Now().UTC(),
		status:       StatusPending,
		onTransition: onTransition,
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Command() string      { return s.command }
func (s *Session) LogFile() string      { return s.logFile }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the current status without reconciliation.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start spawns the pty-backed process and moves PENDING -> RUNNING, then
// launches the exit monitor. A spawn failure moves the session to FAILED and
// is returned; the session holds no live process in that case.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != StatusPending {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("session %s: cannot start from %s", s.id, st)
	}
	term := pty.New(s.command, s.appendLog)
	if _, err := term.Start(); err != nil {
		s.status = StatusFailed
		s.mu.Unlock()
		s.notify(StatusPending, StatusFailed)
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.term = term
	s.status = StatusRunning
	s.stopMon = make(chan struct{})
	stop := s.stopMon
	s.mu.Unlock()

	s.notify(StatusPending, StatusRunning)
	go s.monitor(stop)
	return nil
}

// monitor polls process liveness until the session reaches a terminal status
// or Terminate tells it to stop. Checks are skipped while paused: a stopped
// process cannot exit, and the pause window must not race status updates.
func (s *Session) monitor(stop <-chan struct{}) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.status.Terminal() {
			s.mu.Unlock()
			return
		}
		done := s.reconcileLocked()
		s.mu.Unlock()
		if done {
			s.notify(StatusRunning, StatusCompleted)
			return
		}
	}
}

// reconcileLocked commits RUNNING -> COMPLETED when the process has exited.
// It is the single linearization point shared by the monitor goroutine and
// opportunistic status reads; s.mu must be held. Returns whether the
// transition happened; the caller must then notify outside the lock.
func (s *Session) reconcileLocked() bool {
	if s.status != StatusRunning || s.term == nil {
		return false
	}
	if s.term.IsPaused() || s.term.IsRunning() {
		return false
	}
	s.status = StatusCompleted
	return true
}

// StatusReconciled returns the status after committing a pending
// RUNNING -> COMPLETED transition, atomically with respect to the monitor.
func (s *Session) StatusReconciled() Status {
	s.mu.Lock()
	done := s.reconcileLocked()
	st := s.status
	s.mu.Unlock()
	if done {
		s.notify(StatusRunning, StatusCompleted)
	}
	return st
}

// Pause suspends the process and moves RUNNING -> PAUSED. It reports whether
// the pause took effect; a pause racing a natural exit is a no-op.
func (s *Session) Pause() bool {
	s.mu.Lock()
	if s.status != StatusRunning || s.term == nil || !s.term.Pause() {
		s.mu.Unlock()
		return false
	}
	s.status = StatusPaused
	s.mu.Unlock()
	s.notify(StatusRunning, StatusPaused)
	return true
}

// Resume continues the process and moves PAUSED -> RUNNING.
func (s *Session) Resume() bool {
	s.mu.Lock()
	if s.status != StatusPaused || s.term == nil || !s.term.Resume() {
		s.mu.Unlock()
		return false
	}
	s.status = StatusRunning
	s.mu.Unlock()
	s.notify(StatusPaused, StatusRunning)
	return true
}

// Terminate stops the monitor, terminates the process, and forces EXITED.
// Idempotent: once terminal the call is a no-op and the status stands.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.stopMon != nil {
		close(s.stopMon)
		s.stopMon = nil
	}
	from := s.status
	s.status = StatusExited
	term := s.term
	s.mu.Unlock()

	if term != nil {
		term.Terminate()
	}
	s.notify(from, StatusExited)
}

// Logs returns the full current log content. Safe at any lifecycle point and
// concurrently with ongoing appends.
func (s *Session) Logs() (string, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	b, err := os.ReadFile(s.logFile)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session log: %w", err)
	}
	return string(b), nil
}

// Paused reports the wrapper's pause bookkeeping; false without a process.
func (s *Session) Paused() bool {
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	return term != nil && term.IsPaused()
}

// appendLog is the pty output callback. Chunks arrive from a single reader
// goroutine; the open-append-close per chunk keeps every byte on disk even
// if the agent dies mid-session.
func (s *Session) appendLog(chunk string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(s.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	_, _ = f.WriteString(chunk)
	_ = f.Close()
}

// notify reports a committed transition; called outside s.mu.
func (s *Session) notify(from, to Status) {
	if s.onTransition != nil {
		s.onTransition(s, from, to)
	}
}
