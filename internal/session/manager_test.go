package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/termrun/internal/history"
	"github.com/loykin/termrun/internal/store"
	"github.com/loykin/termrun/internal/store/sqlite"
)

// memorySink records history events in memory.
type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) all() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, sinks ...history.Sink) *Manager {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlite.New(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m, err := NewManager(Options{
		Store:  st,
		LogDir: filepath.Join(dir, "logs"),
		Logger: discardLogger(),
		Sinks:  sinks,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func waitManagerStatus(t *testing.T, m *Manager, id string, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if st := m.Status(id); st == want {
			return
		} else if time.Now().After(deadline) {
			t.Fatalf("session %s status %s not reached in %s, still %s", id, want, timeout, st)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestManagerRequiresStoreAndLogDir(t *testing.T) {
	if _, err := NewManager(Options{LogDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error without store")
	}
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()
	if _, err := NewManager(Options{Store: st}); err == nil {
		t.Fatalf("expected error without log dir")
	}
}

func TestUnknownSessionDegradesGracefully(t *testing.T) {
	m := newTestManager(t)
	const id = "no-such"
	if st := m.Status(id); st != StatusUnknown {
		t.Fatalf("status %s, want UNKNOWN", st)
	}
	if out := m.Logs(id); out != "" {
		t.Fatalf("logs %q, want empty", out)
	}
	// Control calls on unknown ids must be silent no-ops.
	m.StartSession(id)
	m.PauseSession(id)
	m.ResumeSession(id)
	m.TerminateSession(id)
	if _, err := m.Session(id); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := m.Record(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestCreatePersistsPendingRecord(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("echo hi")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(id) != 8 {
		t.Fatalf("id %q, want 8 chars", id)
	}
	if st := m.Status(id); st != StatusPending {
		t.Fatalf("status %s, want PENDING", st)
	}
	rec, err := m.Record(context.Background(), id)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Status != StatusPending.String() || rec.Command != "echo hi" {
		t.Fatalf("persisted record %+v", rec)
	}
	if rec.LogFile == "" {
		t.Fatalf("record is missing the log file path")
	}
}

func TestLifecycleWritesThroughToStore(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("echo through")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.StartSession(id)
	waitManagerStatus(t, m, id, StatusCompleted, 5*time.Second)

	rec, err := m.Record(context.Background(), id)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Status != StatusCompleted.String() {
		t.Fatalf("persisted status %s, want COMPLETED", rec.Status)
	}
	if out := m.Logs(id); !strings.Contains(out, "through") {
		t.Fatalf("logs %q missing command output", out)
	}
}

func TestHistorySinkReceivesTransitions(t *testing.T) {
	sink := &memorySink{}
	m := newTestManager(t, sink)
	id, err := m.Create("echo audited")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.StartSession(id)
	waitManagerStatus(t, m, id, StatusCompleted, 5*time.Second)

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].From != "PENDING" || events[0].To != "RUNNING" {
		t.Fatalf("first event %+v", events[0])
	}
	if events[1].From != "RUNNING" || events[1].To != "COMPLETED" {
		t.Fatalf("second event %+v", events[1])
	}
	for _, e := range events {
		if e.SessionID != id || e.Command != "echo audited" || e.OccurredAt.IsZero() {
			t.Fatalf("event fields %+v", e)
		}
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	m := newTestManager(t)
	idA, err := m.Create("echo alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	idB, err := m.Create("sleep 30")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.StartSession(idA)
	m.StartSession(idB)

	waitManagerStatus(t, m, idA, StatusCompleted, 5*time.Second)
	if st := m.Status(idB); st != StatusRunning {
		t.Fatalf("session B status %s, want RUNNING", st)
	}
	m.PauseSession(idB)
	if st := m.Status(idB); st != StatusPaused {
		t.Fatalf("session B status %s, want PAUSED", st)
	}
	if st := m.Status(idA); st != StatusCompleted {
		t.Fatalf("session A disturbed by B: %s", st)
	}
	if out := m.Logs(idB); strings.Contains(out, "alpha") {
		t.Fatalf("session B log contains A's output: %q", out)
	}
	m.TerminateSession(idB)
	if st := m.Status(idB); st != StatusExited {
		t.Fatalf("session B status %s, want EXITED", st)
	}
}

func TestRecordsSurviveManagerRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")
	logDir := filepath.Join(dir, "logs")

	st1, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m1, err := NewManager(Options{Store: st1, LogDir: logDir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	id, err := m1.Create("echo persisted")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m1.StartSession(id)
	waitManagerStatus(t, m1, id, StatusCompleted, 5*time.Second)
	// Two more that never run; Shutdown terminates them, and those rows
	// must survive the restart as well.
	idle1, err := m1.Create("echo idle-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	idle2, err := m1.Create("echo idle-2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m1.Shutdown()

	st2, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	m2, err := NewManager(Options{Store: st2, LogDir: logDir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m2.Shutdown()

	// The live registry is per-manager; the durable record is not.
	if st := m2.Status(id); st != StatusUnknown {
		t.Fatalf("live status %s, want UNKNOWN after restart", st)
	}
	rec, err := m2.Record(context.Background(), id)
	if err != nil {
		t.Fatalf("record after restart: %v", err)
	}
	if rec.Status != StatusCompleted.String() || rec.Command != "echo persisted" {
		t.Fatalf("record after restart %+v", rec)
	}
	recs, err := m2.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("list after restart has %d rows, want 3: %+v", len(recs), recs)
	}
	byID := make(map[string]store.Record, len(recs))
	for _, r := range recs {
		byID[r.SessionID] = r
	}
	for _, idle := range []string{idle1, idle2} {
		if byID[idle].Status != StatusExited.String() {
			t.Fatalf("idle session %s status %s after restart, want EXITED", idle, byID[idle].Status)
		}
	}
}

func TestCreateRegeneratesCollidingIDs(t *testing.T) {
	m := newTestManager(t)

	// A stored row from an earlier lifetime also blocks its id.
	stored := store.Record{
		SessionID: "stored01",
		Command:   "true",
		Status:    "COMPLETED",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.st.Upsert(context.Background(), stored); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	ids := []string{"dupdupdu", "stored01", "dupdupdu", "fresh001"}
	next := 0
	m.genID = func() string {
		id := ids[next%len(ids)]
		next++
		return id
	}

	first, err := m.Create("echo a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first != "dupdupdu" {
		t.Fatalf("first id %q", first)
	}
	second, err := m.Create("echo b")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second != "fresh001" {
		t.Fatalf("second id %q, want the first free candidate", second)
	}

	// The colliding candidates were skipped, not overwritten.
	if cmd := mustSession(t, m, first).Command(); cmd != "echo a" {
		t.Fatalf("session %s command %q", first, cmd)
	}
	rec, err := m.Record(context.Background(), "stored01")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Command != "true" || rec.Status != "COMPLETED" {
		t.Fatalf("stored row overwritten: %+v", rec)
	}
}

func TestCreateFailsWhenNoFreeID(t *testing.T) {
	m := newTestManager(t)
	m.genID = func() string { return "oneandon" }
	if _, err := m.Create("echo a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create("echo b"); err == nil {
		t.Fatalf("expected error when every candidate id collides")
	}
}

func mustSession(t *testing.T, m *Manager, id string) *Session {
	t.Helper()
	s, err := m.Session(id)
	if err != nil {
		t.Fatalf("session %s: %v", id, err)
	}
	return s
}

func TestShutdownTerminatesLiveSessions(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")
	st, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m, err := NewManager(Options{Store: st, LogDir: filepath.Join(dir, "logs"), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	id, err := m.Create("sleep 30")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.StartSession(id)
	waitManagerStatus(t, m, id, StatusRunning, 5*time.Second)
	m.Shutdown()

	st2, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = st2.Close() }()
	rec, err := st2.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("record after shutdown: %v", err)
	}
	if rec.Status != StatusExited.String() {
		t.Fatalf("status after shutdown %s, want EXITED", rec.Status)
	}
}

func TestRedundantStartKeepsTerminalStatus(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("echo once")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.StartSession(id)
	waitManagerStatus(t, m, id, StatusCompleted, 5*time.Second)
	// Starting again is rejected and must not disturb the terminal status.
	m.StartSession(id)
	if st := m.Status(id); st != StatusCompleted {
		t.Fatalf("status %s after redundant start, want COMPLETED", st)
	}
}
