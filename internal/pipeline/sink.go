// Package pipeline wires a completed LogRecord through sanitization, the
// live ring buffer, and the on-disk session store — the single path every
// proxy component (forward, tunnel, MITM) funnels its captured exchanges
// through.
package pipeline

import (
	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/ring"
	"github.com/relaylens/captureproxy/internal/sanitize"
	"github.com/relaylens/captureproxy/internal/session"
)

// Sink is the single place a proxy component hands off a finished
// LogRecord. Neither the ring push nor the session append blocks on I/O:
// the session store queues the write to a background goroutine.
type Sink struct {
	buffer *ring.Buffer
	store  *session.Store
	log    logging.Logger
}

// New returns a Sink backed by buffer and store. store may be nil if session
// recording is not wanted; buffer may be nil if live fan-out is not wanted.
func New(buffer *ring.Buffer, store *session.Store, log logging.Logger) *Sink {
	return &Sink{buffer: buffer, store: store, log: logging.OrDefault(log)}
}

// Emit sanitizes rec and pushes it to the ring buffer and the current
// session, if any. Safe to call from any goroutine.
func (s *Sink) Emit(rec *logrecord.LogRecord) {
	if rec == nil {
		return
	}
	clean := sanitize.Record(rec)

	if s.buffer != nil {
		s.buffer.Push(clean)
	}
	if s.store != nil {
		if err := s.store.Append(clean); err != nil {
			s.log.Error("pipeline: session append failed: %v", err)
		}
	}
}
