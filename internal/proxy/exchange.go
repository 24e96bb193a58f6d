package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/pipeline"
	"github.com/relaylens/captureproxy/internal/teecap"
)

type exchangeKey struct{}

// exchange tracks one in-flight request/response pair from the moment it
// enters a proxy component until its LogRecord is emitted. finishSuccess
// and finishError both route through once, so only the first of them takes
// effect — the failure responder described by the capture pipeline's
// concurrency model must be idempotent.
type exchange struct {
	mu   sync.Mutex
	once sync.Once
	rec  *logrecord.LogRecord

	start time.Time
	sink  *pipeline.Sink
}

func newExchange(rec *logrecord.LogRecord, sink *pipeline.Sink) *exchange {
	return &exchange{rec: rec, start: time.Now(), sink: sink}
}

func withExchange(ctx context.Context, ex *exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// setRequestBody records the request's captured body. Safe to call from the
// goroutine driving the request body reader while finishSuccess/finishError
// run on a different goroutine.
func (ex *exchange) setRequestBody(mime string, data []byte) {
	if len(data) == 0 {
		return
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.rec.Request.Body = &logrecord.Body{Mime: mime, Text: teecap.DecodeUTF8(data)}
}

// finishSuccess records the upstream response and emits the record. Only
// the first call (across finishSuccess/finishError) has any effect.
func (ex *exchange) finishSuccess(status int, headers map[string]string, mime string, body []byte) {
	ex.once.Do(func() {
		ex.mu.Lock()
		dur := time.Since(ex.start).Milliseconds()
		ex.rec.Status = &status
		ex.rec.DurationMs = &dur
		resp := logrecord.Side{Headers: headers}
		if len(body) > 0 {
			resp.Body = &logrecord.Body{Mime: mime, Text: teecap.DecodeUTF8(body)}
		}
		ex.rec.Response = &resp
		rec := ex.rec
		ex.mu.Unlock()
		ex.sink.Emit(rec)
	})
}

// finishError records a synthetic failure response and emits the record.
func (ex *exchange) finishError(status int, errText string) {
	ex.once.Do(func() {
		ex.mu.Lock()
		dur := time.Since(ex.start).Milliseconds()
		ex.rec.Status = &status
		ex.rec.DurationMs = &dur
		ex.rec.Response = &logrecord.Side{
			Body: &logrecord.Body{Mime: "text/plain", Text: errText},
		}
		rec := ex.rec
		ex.mu.Unlock()
		ex.sink.Emit(rec)
	})
}

func newLogRecordSkeleton(r *http.Request, targetURL string) *logrecord.LogRecord {
	return &logrecord.LogRecord{
		ID:     logrecord.NewID(),
		TS:     time.Now().UnixMilli(),
		Method: r.Method,
		URL:    targetURL,
		Host:   r.Host,
		Path:   r.URL.Path,
		Request: logrecord.Side{
			Headers: flattenHeaders(r.Header),
			Query:   flattenQuery(r.URL.Query()),
		},
	}
}
