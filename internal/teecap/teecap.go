// Package teecap implements the bounded-tee pattern the capture pipeline
// requires of every proxy component: as bytes stream past, copy up to a
// fixed limit into a side buffer and drop anything beyond it, without ever
// delaying or mutating what goes out on the wire.
package teecap

import (
	"bytes"
	"io"
	"strings"
)

// Reader wraps an io.ReadCloser, capturing the first limit bytes read
// through it. onDone fires exactly once, with whatever was captured, the
// moment the wrapped reader reaches EOF/an error or is closed, whichever
// happens first. A nil onDone is fine.
type Reader struct {
	r      io.ReadCloser
	limit  int
	buf    bytes.Buffer
	onDone func([]byte)
	done   bool
}

// Wrap returns a Reader over r that captures up to limit bytes.
func Wrap(r io.ReadCloser, limit int, onDone func(captured []byte)) *Reader {
	return &Reader{r: r, limit: limit, onDone: onDone}
}

func (t *Reader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 && t.limit > 0 {
		if room := t.limit - t.buf.Len(); room > 0 {
			take := n
			if take > room {
				take = room
			}
			t.buf.Write(p[:take])
		}
	}
	if err != nil {
		t.finish()
	}
	return n, err
}

// Close closes the wrapped reader and fires onDone if it has not already.
func (t *Reader) Close() error {
	err := t.r.Close()
	t.finish()
	return err
}

func (t *Reader) finish() {
	if t.done {
		return
	}
	t.done = true
	if t.onDone != nil {
		t.onDone(t.buf.Bytes())
	}
}

// DecodeUTF8 lossily decodes b as UTF-8, replacing invalid byte sequences
// with the Unicode replacement character rather than failing.
func DecodeUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}
