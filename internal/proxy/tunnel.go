package proxy

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/pipeline"
)

// dialTimeout bounds how long TunnelProxy waits to establish the upstream
// leg of a CONNECT tunnel.
const dialTimeout = 10 * time.Second

// TunnelProxy answers CONNECT requests by relaying raw bytes between the
// client and the upstream host once the tunnel is established. Unlike
// ForwardProxy and MitmProxy it never sees plaintext HTTP, so its LogRecord
// carries only connection metadata: method CONNECT, the established status,
// and how long establishing the tunnel took. The record is emitted once the
// tunnel is up, before any bytes are relayed.
type TunnelProxy struct {
	sink *pipeline.Sink
	log  logging.Logger
}

// NewTunnelProxy returns a TunnelProxy emitting completed tunnels to sink.
func NewTunnelProxy(sink *pipeline.Sink, log logging.Logger) *TunnelProxy {
	return &TunnelProxy{sink: sink, log: logging.OrDefault(log)}
}

// ServeHTTP implements http.Handler. Only CONNECT requests are meaningful
// here; anything else is rejected with 405.
func (t *TunnelProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A CONNECT target without a port defaults to 443.
	addr := r.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), "443")
	}

	start := time.Now()
	rec := &logrecord.LogRecord{
		ID:     logrecord.NewID(),
		TS:     start.UnixMilli(),
		Method: http.MethodConnect,
		URL:    "https://" + addr,
		Host:   r.Host,
		Path:   "",
		Request: logrecord.Side{
			Headers: flattenHeaders(r.Header),
		},
	}

	upstream, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		t.log.Warn("tunnel: dial %s: %v", r.Host, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		t.emit(rec, start, http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		t.emit(rec, start, http.StatusInternalServerError)
		return
	}

	client, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		t.log.Warn("tunnel: hijack %s: %v", r.Host, err)
		t.emit(rec, start, http.StatusInternalServerError)
		return
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		t.emit(rec, start, http.StatusBadGateway)
		return
	}

	// The server may already have buffered bytes read past the CONNECT
	// request line (e.g. a client that pipelines its first TLS record
	// immediately); forward them before relaying raw socket reads.
	if n := clientBuf.Reader.Buffered(); n > 0 {
		if _, err := io.CopyN(upstream, clientBuf.Reader, int64(n)); err != nil {
			client.Close()
			upstream.Close()
			t.emit(rec, start, http.StatusBadGateway)
			return
		}
	}

	t.emit(rec, start, http.StatusOK)
	t.relay(client, upstream)
}

func (t *TunnelProxy) emit(rec *logrecord.LogRecord, start time.Time, status int) {
	s := status
	dur := time.Since(start).Milliseconds()
	rec.Status = &s
	rec.DurationMs = &dur
	t.sink.Emit(rec)
}

// relay copies bytes in both directions until either side closes, then
// closes both ends.
func (t *TunnelProxy) relay(client, upstream net.Conn) {
	defer client.Close()
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}
