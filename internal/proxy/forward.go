package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"time"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/pipeline"
)

// upstreamTimeout bounds how long ForwardProxy waits on an upstream
// round trip before tearing the exchange down as a 502.
const upstreamTimeout = 15 * time.Second

// ForwardProxy handles plain-HTTP requests: both absolute-form requests
// (a browser configured to use this as its HTTP proxy) and origin-form
// requests (a client that resolved the Host header itself and dialed here
// directly). Every exchange is captured into a LogRecord and handed to a
// pipeline.Sink exactly once.
type ForwardProxy struct {
	bodyLimit int
	sink      *pipeline.Sink
	log       logging.Logger
	rp        *httputil.ReverseProxy
}

// NewForwardProxy returns a ForwardProxy that captures up to bodyLimit
// bytes of each request/response body and emits completed exchanges to
// sink.
func NewForwardProxy(bodyLimit int, sink *pipeline.Sink, log logging.Logger) *ForwardProxy {
	log = logging.OrDefault(log)
	f := &ForwardProxy{bodyLimit: bodyLimit, sink: sink, log: log}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           ipv4PreferredDialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	f.rp = &httputil.ReverseProxy{
		Director:       f.direct,
		Transport:      transport,
		ModifyResponse: modifyResponseCapture(bodyLimit),
		ErrorHandler:   errorHandlerCapture(log),
	}
	return f
}

// ServeHTTP implements http.Handler. CONNECT requests are rejected here;
// the TunnelProxy and MitmProxy components own that method.
func (f *ForwardProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targetURL, ok := resolveTargetURL(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rec := newLogRecordSkeleton(r, targetURL)
	ex := newExchange(rec, f.sink)

	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	ctx = withExchange(ctx, ex)
	defer cancel()

	wrapRequestBody(r, f.bodyLimit, ex)

	r2 := r.WithContext(ctx)
	f.rp.ServeHTTP(w, r2)
}

func (f *ForwardProxy) direct(r *http.Request) {
	if !r.URL.IsAbs() {
		r.URL.Scheme = "http"
		r.URL.Host = r.Host
	}
	stripHopByHop(r.Header)
}

// resolveTargetURL returns the fully-qualified URL the proxy is actually
// fetching, whether the client sent an absolute-form request-target or an
// origin-form one resolved via the Host header. ok is false if neither
// produces a usable URL, in which case the caller must reject the request
// with 400 before any capture state is built.
func resolveTargetURL(r *http.Request) (string, bool) {
	if r.URL.IsAbs() {
		if r.URL.Host == "" {
			return "", false
		}
		return r.URL.String(), true
	}
	if r.Host == "" {
		return "", false
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	raw := scheme + "://" + r.Host + r.URL.RequestURI()
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return raw, true
}

// ipv4PreferredDialContext resolves addr's host, orders IPv4 results ahead
// of IPv6, and dials the first address that succeeds. DNS-heavy capture
// targets (test fixtures, local services) are more often reachable over
// IPv4 only, so trying it first avoids the common several-second IPv6
// connect-timeout stall.
func ipv4PreferredDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return dialer.DialContext(ctx, network, addr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return dialer.DialContext(ctx, network, addr)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return dialer.DialContext(ctx, network, addr)
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].IP.To4() != nil && addrs[j].IP.To4() == nil
	})

	var lastErr error
	for _, a := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a.IP.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
