package proxy

import (
	"fmt"
	"net/http"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/teecap"
)

// wrapRequestBody replaces r.Body with a bounded-tee reader that records
// whatever it captures onto ex once the body is fully consumed or closed.
// Shared by ForwardProxy and MitmProxy, whose request-capture needs are
// otherwise identical.
func wrapRequestBody(r *http.Request, bodyLimit int, ex *exchange) {
	if r.Body == nil {
		return
	}
	mime := r.Header.Get("Content-Type")
	r.Body = teecap.Wrap(r.Body, bodyLimit, func(captured []byte) {
		ex.setRequestBody(mime, captured)
	})
}

// modifyResponseCapture returns an httputil.ReverseProxy ModifyResponse
// hook that strips hop-by-hop response headers and, once the response body
// is fully read by the client (or the connection is torn down), emits the
// exchange exactly once.
func modifyResponseCapture(bodyLimit int) func(*http.Response) error {
	return func(res *http.Response) error {
		ex := exchangeFrom(res.Request.Context())
		if ex == nil {
			return nil
		}
		stripHopByHop(res.Header)

		status := res.StatusCode
		headers := flattenHeaders(res.Header)
		mime := res.Header.Get("Content-Type")

		if res.Body != nil {
			res.Body = teecap.Wrap(res.Body, bodyLimit, func(captured []byte) {
				ex.finishSuccess(status, headers, mime, captured)
			})
		} else {
			ex.finishSuccess(status, headers, mime, nil)
		}
		return nil
	}
}

// errorHandlerCapture returns an httputil.ReverseProxy ErrorHandler hook
// that answers the client with 502 and emits the exchange's failure
// outcome exactly once.
func errorHandlerCapture(log logging.Logger) func(http.ResponseWriter, *http.Request, error) {
	log = logging.OrDefault(log)
	return func(w http.ResponseWriter, r *http.Request, err error) {
		ex := exchangeFrom(r.Context())
		log.Warn("proxy: upstream error for %s: %v", r.URL, err)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "upstream error: %v\n", err)
		if ex != nil {
			ex.finishError(http.StatusBadGateway, err.Error())
		}
	}
}
