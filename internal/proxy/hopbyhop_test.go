package proxy

import (
	"net/http"
	"testing"
)

func TestStripHopByHopRemovesStandardHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "Keep-Alive, X-Custom")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Custom", "drop-me")
	h.Set("X-Kept", "keep-me")

	stripHopByHop(h)

	for _, name := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "X-Custom"} {
		if h.Get(name) != "" {
			t.Fatalf("expected %s to be stripped, got %q", name, h.Get(name))
		}
	}
	if h.Get("X-Kept") != "keep-me" {
		t.Fatalf("expected X-Kept to survive, got %q", h.Get("X-Kept"))
	}
}

func TestFlattenHeadersJoinsMultiValues(t *testing.T) {
	h := http.Header{}
	h.Add("X-Multi", "a")
	h.Add("X-Multi", "b")

	out := flattenHeaders(h)
	if out["X-Multi"] != "a, b" {
		t.Fatalf("flattenHeaders = %q, want %q", out["X-Multi"], "a, b")
	}
}

func TestFlattenQueryLastWins(t *testing.T) {
	values := map[string][]string{"k": {"first", "second"}}
	out := flattenQuery(values)
	if out["k"] != "second" {
		t.Fatalf("flattenQuery = %q, want %q", out["k"], "second")
	}
}
