// Package logrecord defines the canonical captured-request value that flows
// from the proxy components through sanitization, the ring buffer, the
// session store, and the report builder.
package logrecord

import "github.com/google/uuid"

// Body is the captured payload of a request or response side of an
// exchange. Text is the first N bytes of the body decoded as UTF-8 (lossy
// for non-UTF-8 input); it is never longer than the proxy's body limit.
type Body struct {
	Mime string `json:"mime,omitempty"`
	Text string `json:"text,omitempty"`
}

// Side captures the headers, query parameters, and body observed for one
// direction (request or response) of an exchange.
type Side struct {
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    *Body             `json:"body,omitempty"`
}

// LogRecord is one captured exchange: a request and, once the upstream
// response ends or a terminal failure is decided, its response.
type LogRecord struct {
	ID         string `json:"id"`
	TS         int64  `json:"ts"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Host       string `json:"host"`
	Path       string `json:"path"`
	Status     *int   `json:"status,omitempty"`
	DurationMs *int64 `json:"durationMs,omitempty"`
	Request    Side   `json:"request"`
	Response   *Side  `json:"response,omitempty"`
}

// NewID returns a fresh collision-resistant identifier (a UUID v4, 122 bits
// of entropy, comfortably over the ≥96-bit floor).
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy of r so callers (the sanitizer, the report
// builder's sample capture) can mutate the result without touching the
// original record.
func (r *LogRecord) Clone() *LogRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Request = cloneSide(r.Request)
	if r.Response != nil {
		resp := cloneSide(*r.Response)
		out.Response = &resp
	}
	if r.Status != nil {
		s := *r.Status
		out.Status = &s
	}
	if r.DurationMs != nil {
		d := *r.DurationMs
		out.DurationMs = &d
	}
	return &out
}

func cloneSide(s Side) Side {
	out := Side{}
	if s.Headers != nil {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = v
		}
	}
	if s.Query != nil {
		out.Query = make(map[string]string, len(s.Query))
		for k, v := range s.Query {
			out.Query[k] = v
		}
	}
	if s.Body != nil {
		b := *s.Body
		out.Body = &b
	}
	return out
}
