package exporter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/report"
)

func sampleLog() *logrecord.LogRecord {
	status := 200
	dur := int64(42)
	return &logrecord.LogRecord{
		ID:         "abc123",
		TS:         1700000000000,
		Method:     "GET",
		URL:        "http://example.com/users/1?token=x",
		Host:       "example.com",
		Path:       "/users/1",
		Status:     &status,
		DurationMs: &dur,
		Request: logrecord.Side{
			Headers: map[string]string{"Accept": "application/json"},
			Query:   map[string]string{"token": "x"},
		},
		Response: &logrecord.Side{
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    &logrecord.Body{Mime: "application/json", Text: `{"ok":true}`},
		},
	}
}

func TestHARProducesValidDocument(t *testing.T) {
	out, err := HAR([]*logrecord.LogRecord{sampleLog()})
	if err != nil {
		t.Fatalf("HAR: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("HAR output is not valid JSON: %v", err)
	}
	log, ok := doc["log"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing log key")
	}
	if log["version"] != "1.2" {
		t.Fatalf("version = %v, want 1.2", log["version"])
	}
	entries, ok := log["entries"].([]interface{})
	if !ok || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", log["entries"])
	}
}

func TestMarkdownIncludesEndpointsAndStatuses(t *testing.T) {
	rpt := report.Build("/users/:id", "session-1", []*logrecord.LogRecord{sampleLog()})
	out := Markdown(rpt)
	text := string(out)

	if !strings.Contains(text, "GET example.com") {
		t.Fatalf("markdown missing endpoint heading: %s", text)
	}
	if !strings.Contains(text, "200") {
		t.Fatalf("markdown missing status code: %s", text)
	}
	if !strings.Contains(text, "Accept: application/json") {
		t.Fatalf("markdown missing sample header: %s", text)
	}
}
