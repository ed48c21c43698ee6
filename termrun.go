// Package termrun executes shell commands inside pseudo-terminal-backed
// sessions that can be paused, resumed, and terminated independently, with
// durable per-session metadata and append-only output logs.
//
// The package is a thin facade over the internal session manager, providing
// a stable API for embedding. Command strings are executed as given; any
// safety validation belongs to the caller.
package termrun

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/termrun/internal/config"
	"github.com/loykin/termrun/internal/history"
	"github.com/loykin/termrun/internal/history/clickhouse"
	"github.com/loykin/termrun/internal/metrics"
	"github.com/loykin/termrun/internal/session"
	"github.com/loykin/termrun/internal/store"
	"github.com/loykin/termrun/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = session.Status

const (
	StatusPending   = session.StatusPending
	StatusRunning   = session.StatusRunning
	StatusPaused    = session.StatusPaused
	StatusCompleted = session.StatusCompleted
	StatusExited    = session.StatusExited
	StatusFailed    = session.StatusFailed
	StatusUnknown   = session.StatusUnknown
)

type Record = store.Record

type Config = cfg.Config

type HistorySink = history.Sink

// Manager wraps the internal session manager together with the resources it
// owns (store, sinks, log writer).
type Manager struct {
	inner   *session.Manager
	closers []io.Closer
}

// LoadConfig reads a TOML config file; empty path yields defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// New builds a Manager from config: durable store, optional history sinks,
// and the agent logger. Independent managers can coexist as long as they use
// separate data directories.
func New(c *Config) (*Manager, error) {
	lg, logCloser := c.Log.New()
	slog.SetDefault(lg)

	st, err := factory.New(c.Store)
	if err != nil {
		closeIf(logCloser)
		return nil, err
	}
	var sinks []history.Sink
	var closers []io.Closer
	if logCloser != nil {
		closers = append(closers, logCloser)
	}
	if c.HistoryDSN != "" {
		sq, err := history.NewSQLSinkFromDSN(c.HistoryDSN)
		if err != nil {
			_ = st.Close()
			closeAll(closers)
			return nil, err
		}
		sinks = append(sinks, sq)
		closers = append(closers, sq)
	}
	if c.ClickHouse.Addr != "" {
		ch, err := clickhouse.New(c.ClickHouse.Addr, c.ClickHouse.Table)
		if err != nil {
			_ = st.Close()
			closeAll(closers)
			return nil, err
		}
		sinks = append(sinks, ch)
		closers = append(closers, ch)
	}
	inner, err := session.NewManager(session.Options{
		Store:  st,
		LogDir: c.LogDir,
		Logger: lg,
		Sinks:  sinks,
	})
	if err != nil {
		_ = st.Close()
		closeAll(closers)
		return nil, err
	}
	return &Manager{inner: inner, closers: closers}, nil
}

// Create registers a new PENDING session for command and returns its id.
func (m *Manager) Create(command string) (string, error) { return m.inner.Create(command) }

// Start begins execution of a session. Unknown ids are a no-op.
func (m *Manager) Start(id string) { m.inner.StartSession(id) }

// Pause suspends a running session via SIGSTOP. Unknown ids are a no-op.
func (m *Manager) Pause(id string) { m.inner.PauseSession(id) }

// Resume continues a paused session via SIGCONT. Unknown ids are a no-op.
func (m *Manager) Resume(id string) { m.inner.ResumeSession(id) }

// Terminate stops a session from any state. Idempotent.
func (m *Manager) Terminate(id string) { m.inner.TerminateSession(id) }

// Status returns the live status; StatusUnknown for unrecognized ids.
func (m *Manager) Status(id string) Status { return m.inner.Status(id) }

// Logs returns the session's full captured output; "" for unknown ids.
func (m *Manager) Logs(id string) string { return m.inner.Logs(id) }

// Record returns the persisted metadata row for id, including rows written
// by previous agent runs against the same store.
func (m *Manager) Record(ctx context.Context, id string) (Record, error) {
	return m.inner.Record(ctx, id)
}

// List returns every persisted session record, including ones created by
// previous agent runs against the same store.
func (m *Manager) List(ctx context.Context) ([]Record, error) { return m.inner.List(ctx) }

// Shutdown terminates live sessions and releases the store and sinks.
func (m *Manager) Shutdown() {
	m.inner.Shutdown()
	closeAll(m.closers)
}

// RegisterMetrics registers the session metrics with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers with the default Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		closeIf(c)
	}
}
