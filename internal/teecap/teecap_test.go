package teecap

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReaderCapturesUpToLimit(t *testing.T) {
	body := strings.Repeat("x", 100)
	var captured []byte
	r := Wrap(io.NopCloser(strings.NewReader(body)), 10, func(b []byte) {
		captured = b
	})

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != body {
		t.Fatalf("wire bytes altered: got %d bytes, want %d", len(out), len(body))
	}
	if len(captured) != 10 {
		t.Fatalf("captured = %d bytes, want 10", len(captured))
	}
	if string(captured) != body[:10] {
		t.Fatalf("captured %q, want %q", captured, body[:10])
	}
}

func TestReaderFiresOnDoneOnce(t *testing.T) {
	calls := 0
	r := Wrap(io.NopCloser(strings.NewReader("abc")), 10, func([]byte) {
		calls++
	})
	io.ReadAll(r)
	r.Close()
	r.Close()
	if calls != 1 {
		t.Fatalf("onDone called %d times, want 1", calls)
	}
}

func TestReaderShortBodyUnderLimit(t *testing.T) {
	var captured []byte
	r := Wrap(io.NopCloser(bytes.NewReader([]byte("hi"))), 64*1024, func(b []byte) {
		captured = b
	})
	io.ReadAll(r)
	if string(captured) != "hi" {
		t.Fatalf("captured = %q, want %q", captured, "hi")
	}
}

func TestDecodeUTF8Lossy(t *testing.T) {
	invalid := []byte{'a', 0xff, 'b'}
	got := DecodeUTF8(invalid)
	if !strings.Contains(got, "a") || !strings.Contains(got, "b") {
		t.Fatalf("DecodeUTF8 dropped valid bytes: %q", got)
	}
	if got == string(invalid) {
		t.Fatalf("DecodeUTF8 did not replace invalid byte")
	}
}
