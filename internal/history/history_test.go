package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLSinkSQLite(t *testing.T) {
	sink, err := NewSQLSinkFromDSN(":memory:")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	events := []Event{
		{SessionID: "s1", Command: "echo a", From: "PENDING", To: "RUNNING", OccurredAt: time.Now().UTC()},
		{SessionID: "s1", Command: "echo a", From: "RUNNING", To: "COMPLETED", OccurredAt: time.Now().UTC()},
		{SessionID: "s2", Command: "echo b", From: "PENDING", To: "EXITED", OccurredAt: time.Now().UTC()},
	}
	for i, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_history WHERE session_id = ?", "s1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d rows for s1, want 2", count)
	}

	var from, to string
	row = sink.db.QueryRowContext(ctx,
		"SELECT from_status, to_status FROM session_history WHERE session_id = ? ORDER BY id DESC LIMIT 1", "s1")
	if err := row.Scan(&from, &to); err != nil {
		t.Fatalf("scan last: %v", err)
	}
	if from != "RUNNING" || to != "COMPLETED" {
		t.Fatalf("last transition %s -> %s", from, to)
	}
}

func TestSQLSinkSQLiteFileAndPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSinkFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	e := Event{SessionID: "s3", Command: "true", From: "PENDING", To: "RUNNING", OccurredAt: time.Now().UTC()}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen the same file; the appended row must still be there.
	sink2, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("reopen sink: %v", err)
	}
	t.Cleanup(func() { _ = sink2.Close() })
	var count int
	row := sink2.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM session_history WHERE session_id = ?", "s3")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d rows after reopen, want 1", count)
	}
}

func TestSQLSinkEmptyDSNRejected(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
