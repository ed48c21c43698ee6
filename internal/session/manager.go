package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/termrun/internal/history"
	"github.com/loykin/termrun/internal/metrics"
	"github.com/loykin/termrun/internal/store"
)

// maxIDAttempts bounds id regeneration on collision with a live or stored id.
const maxIDAttempts = 5

// ErrUnknownSession marks a session id absent from the live registry.
// Read and control paths never return it to steady-state pollers; it exists
// for callers that need the distinction explicitly.
var ErrUnknownSession = errors.New("unknown session")

// Manager is the addressable registry of every session created during the
// agent's run. It owns the durable metadata store (write-through on every
// status mutation) and optional history sinks. Multiple independent managers
// can coexist; there is no package-level registry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	st     store.Store
	sinks  []history.Sink
	logDir string
	logger *slog.Logger
	genID  func() string
}

// Options configures a Manager.
type Options struct {
	Store  store.Store    // required; system of record for session metadata
	LogDir string         // required; one append-only log file per session
	Logger *slog.Logger   // optional; defaults to slog.Default()
	Sinks  []history.Sink // optional transition audit sinks, best-effort
}

// NewManager creates the registry, ensures the log directory and the store
// schema, and returns a handle the orchestration layer calls into.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if opts.LogDir == "" {
		return nil, errors.New("session manager requires a log dir")
	}
	if err := os.MkdirAll(opts.LogDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := opts.Store.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		st:       opts.Store,
		sinks:    append([]history.Sink(nil), opts.Sinks...),
		logDir:   opts.LogDir,
		logger:   lg,
		genID:    func() string { return uuid.NewString()[:8] },
	}, nil
}

// Create allocates a session in PENDING for the given shell command and
// persists its metadata. Execution does not begin until StartSession.
// The command string is executed as given; validation is the caller's job.
// A colliding id is regenerated rather than overwriting the existing session.
func (m *Manager) Create(command string) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := m.genID()
		if _, err := m.st.GetByID(context.Background(), id); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("check session id: %w", err)
		}
		s, err := newSession(id, command, m.logDir, m.onTransition)
		if err != nil {
			return "", err
		}
		m.mu.Lock()
		if _, taken := m.sessions[id]; taken {
			m.mu.Unlock()
			continue
		}
		m.sessions[id] = s
		m.mu.Unlock()

		if err := m.persist(s); err != nil {
			m.logger.Warn("persist session", "session", id, "err", err)
		}
		metrics.IncCreated()
		m.logger.Info("session created", "session", id, "command", command)
		return id, nil
	}
	return "", errors.New("could not allocate a unique session id")
}

// StartSession begins execution. Unknown ids are a no-op so a stale id from
// the loop above never crashes it; spawn failures surface as status FAILED
// rather than an error to pollers.
func (m *Manager) StartSession(id string) {
	s := m.get(id)
	if s == nil {
		return
	}
	if err := s.Start(); err != nil {
		metrics.IncSpawnFailure()
		m.logger.Error("session start failed", "session", id, "err", err)
	}
}

// PauseSession suspends a running session. No-op for unknown ids and for
// sessions not currently RUNNING.
func (m *Manager) PauseSession(id string) {
	if s := m.get(id); s != nil {
		s.Pause()
	}
}

// ResumeSession continues a paused session.
func (m *Manager) ResumeSession(id string) {
	if s := m.get(id); s != nil {
		s.Resume()
	}
}

// TerminateSession terminates a session from any state. Idempotent.
func (m *Manager) TerminateSession(id string) {
	if s := m.get(id); s != nil {
		s.Terminate()
	}
}

// Status returns the live status. When the process has already exited but the
// monitor has not committed it yet, the read itself commits RUNNING ->
// COMPLETED, atomically with the monitor. Unknown ids get StatusUnknown,
// never an error: this path is polled in a tight loop.
func (m *Manager) Status(id string) Status {
	s := m.get(id)
	if s == nil {
		return StatusUnknown
	}
	return s.StatusReconciled()
}

// Logs returns the session's full log; "" for unknown ids or read failures.
func (m *Manager) Logs(id string) string {
	s := m.get(id)
	if s == nil {
		return ""
	}
	out, err := s.Logs()
	if err != nil {
		m.logger.Warn("read session logs", "session", id, "err", err)
		return ""
	}
	return out
}

// Session returns the live session object, or ErrUnknownSession.
func (m *Manager) Session(id string) (*Session, error) {
	if s := m.get(id); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
}

// Record returns the persisted metadata row for id. Unlike Status it also
// answers for sessions created by previous agent runs against this store.
func (m *Manager) Record(ctx context.Context, id string) (store.Record, error) {
	return m.st.GetByID(ctx, id)
}

// List reads from the durable store, not the in-memory map: it includes
// sessions from previous agent lifetimes. Their status stops updating once
// the terminal behind them is gone; that is a documented limitation.
func (m *Manager) List(ctx context.Context) ([]store.Record, error) {
	return m.st.List(ctx)
}

// Shutdown terminates every non-terminal session and closes the store.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		if !s.Status().Terminal() {
			s.Terminate()
		}
	}
	if err := m.st.Close(); err != nil {
		m.logger.Warn("close store", "err", err)
	}
}

func (m *Manager) get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// onTransition runs after every committed status transition, outside the
// session lock: metrics, write-through persistence, then audit sinks.
func (m *Manager) onTransition(s *Session, from, to Status) {
	metrics.IncTransition(from.String(), to.String())
	if from.active() != to.active() {
		if to.active() {
			metrics.AddRunning(1)
		} else {
			metrics.AddRunning(-1)
		}
	}
	if err := m.persist(s); err != nil {
		m.logger.Warn("persist session", "session", s.ID(), "err", err)
	}
	m.emit(history.Event{
		SessionID:  s.ID(),
		Command:    s.Command(),
		From:       from.String(),
		To:         to.String(),
		OccurredAt: time.Now().UTC(),
	})
	m.logger.Debug("session transition", "session", s.ID(), "from", from, "to", to)
}

func (m *Manager) persist(s *Session) error {
	return m.st.Upsert(context.Background(), store.Record{
		SessionID: s.ID(),
		Command:   s.Command(),
		Status:    s.Status().String(),
		CreatedAt: s.CreatedAt(),
		UpdatedAt: time.Now().UTC(),
		LogFile:   s.LogFile(),
	})
}

func (m *Manager) emit(e history.Event) {
	for _, sink := range m.sinks {
		if err := sink.Send(context.Background(), e); err != nil {
			m.logger.Warn("history sink", "session", e.SessionID, "err", err)
		}
	}
}
