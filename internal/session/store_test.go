package session

import (
	"testing"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
)

func TestAppendIsDrainedBeforeStopReturns(t *testing.T) {
	store := New(t.TempDir(), logging.Noop{}, nil)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	meta, err := store.Start("test", "route")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		store.Append(&logrecord.LogRecord{ID: logrecord.NewID(), Method: "GET", URL: "http://example.com"})
	}

	stopped, err := store.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.LogCount != n {
		t.Fatalf("LogCount = %d, want %d", stopped.LogCount, n)
	}

	logs, err := store.ReadLogs(meta.ID, 0)
	if err != nil {
		t.Fatalf("ReadLogs: %v", err)
	}
	if len(logs) != n {
		t.Fatalf("ReadLogs returned %d records, want %d (Stop must wait for the write queue to drain)", len(logs), n)
	}
}

func TestAppendNoopWithoutCurrentSession(t *testing.T) {
	store := New(t.TempDir(), logging.Noop{}, nil)
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Append(&logrecord.LogRecord{ID: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
