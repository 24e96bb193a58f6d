package proxy

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"

	"github.com/relaylens/captureproxy/internal/certauthority"
	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/pipeline"
)

// MitmProxy answers CONNECT requests by terminating TLS itself, using a
// leaf certificate signed by its own CertAuthority, so the decrypted
// HTTP exchanges underneath can be captured the same way ForwardProxy
// captures plaintext ones.
type MitmProxy struct {
	ca        *certauthority.CA
	bodyLimit int
	sink      *pipeline.Sink
	log       logging.Logger
}

// NewMitmProxy returns a MitmProxy issuing leaf certificates from ca.
func NewMitmProxy(ca *certauthority.CA, bodyLimit int, sink *pipeline.Sink, log logging.Logger) *MitmProxy {
	return &MitmProxy{ca: ca, bodyLimit: bodyLimit, sink: sink, log: logging.OrDefault(log)}
}

// ServeHTTP implements http.Handler for CONNECT requests only.
func (m *MitmProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	host := dnsName(r.Host)
	if host == "" {
		m.log.Warn("mitm: cannot determine host for %s", r.Host)
		http.Error(w, "no upstream", http.StatusServiceUnavailable)
		return
	}

	leaf, err := m.ca.LeafFor(host)
	if err != nil {
		m.log.Warn("mitm: issue leaf for %s: %v", host, err)
		http.Error(w, "no upstream", http.StatusServiceUnavailable)
		return
	}

	var (
		upstream *tls.Conn
		dialErr  error
	)
	serverConfig := &tls.Config{Certificates: []tls.Certificate{*leaf}}
	serverConfig.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		upstream, dialErr = tls.Dial("tcp", r.Host, &tls.Config{ServerName: hello.ServerName, InsecureSkipVerify: true})
		if dialErr != nil {
			return nil, dialErr
		}
		return m.ca.LeafFor(hello.ServerName)
	}

	client, err := hijackAndHandshake(w, serverConfig)
	if err != nil {
		m.log.Warn("mitm: handshake with client for %s: %v", r.Host, err)
		return
	}
	defer client.Close()

	// tls only calls GetCertificate when the client sends SNI; without it
	// the static leaf was served and the upstream is dialed here instead.
	if upstream == nil && dialErr == nil {
		upstream, dialErr = tls.Dial("tcp", r.Host, &tls.Config{ServerName: host, InsecureSkipVerify: true})
	}
	if upstream == nil {
		m.log.Warn("mitm: no upstream connection established for %s: %v", r.Host, dialErr)
		return
	}
	defer upstream.Close()

	dialer := &oneShotDialer{conn: upstream}
	rp := &httputil.ReverseProxy{
		Director:       httpsDirector,
		Transport:      &http.Transport{DialTLS: dialer.dial},
		ModifyResponse: modifyResponseCapture(m.bodyLimit),
		ErrorHandler:   errorHandlerCapture(m.log),
	}

	done := make(chan struct{})
	wrapped := &onCloseConn{Conn: client, onClose: func() { close(done) }}
	listener := &oneShotListener{conn: wrapped, addr: client.LocalAddr()}
	go http.Serve(listener, &captureHandler{mitm: m, rp: rp})
	<-done
}

// captureHandler wraps a per-connection ReverseProxy, attaching a fresh
// exchange to every request served over the hijacked, TLS-terminated
// connection before delegating to the ReverseProxy.
type captureHandler struct {
	mitm *MitmProxy
	rp   *httputil.ReverseProxy
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL := "https://" + r.Host + r.URL.RequestURI()
	rec := newLogRecordSkeleton(r, targetURL)
	ex := newExchange(rec, c.mitm.sink)

	wrapRequestBody(r, c.mitm.bodyLimit, ex)

	r2 := r.WithContext(withExchange(r.Context(), ex))
	c.rp.ServeHTTP(w, r2)
}

func httpsDirector(r *http.Request) {
	r.URL.Scheme = "https"
	r.URL.Host = r.Host
	stripHopByHop(r.Header)
}

var okConnectionEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")

// hijackAndHandshake hijacks w's underlying connection, answers the CONNECT
// request, and performs a TLS server handshake over it using config.
func hijackAndHandshake(w http.ResponseWriter, config *tls.Config) (*tls.Conn, error) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "no upstream", http.StatusServiceUnavailable)
		return nil, errors.New("mitm: response writer does not support hijacking")
	}
	raw, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "no upstream", http.StatusServiceUnavailable)
		return nil, err
	}
	if _, err := raw.Write(okConnectionEstablished); err != nil {
		raw.Close()
		return nil, err
	}

	// rw.Reader may already hold bytes the server read past the CONNECT
	// request line (e.g. a ClientHello sent pipelined with CONNECT);
	// route every subsequent read through it so nothing buffered here is
	// lost before the TLS handshake gets to see it.
	conn := tls.Server(&bufferedConn{Conn: raw, r: rw.Reader}, config)
	if err := conn.Handshake(); err != nil {
		conn.Close()
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// bufferedConn is a net.Conn whose reads are satisfied from a *bufio.Reader
// instead of going straight to the underlying connection, so bytes the
// HTTP server already buffered before a Hijack aren't lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// dnsName returns the host portion of a host:port address, or "" if addr
// does not have one.
func dnsName(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}

// oneShotDialer's Dial returns a single pre-established connection once,
// then fails every subsequent call. The ReverseProxy's Transport dials only
// when it has no idle connection to reuse, so the requests on this hijacked
// connection share the one already-open upstream TLS connection; once that
// connection is closed, further dials fail.
type oneShotDialer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (d *oneShotDialer) dial(network, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil, errors.New("mitm: upstream connection already consumed")
	}
	conn := d.conn
	d.conn = nil
	return conn, nil
}

// oneShotListener's Accept returns a single pre-hijacked connection once,
// then reports the listener closed. It lets http.Serve drive a single
// already-established connection through the standard HTTP/1.1 request
// loop without opening a real net.Listener.
type oneShotListener struct {
	conn net.Conn
	addr net.Addr
}

func (l *oneShotListener) Accept() (net.Conn, error) {
	if l.conn == nil {
		return nil, errors.New("mitm: listener closed")
	}
	conn := l.conn
	l.conn = nil
	return conn, nil
}

func (l *oneShotListener) Close() error { return nil }

func (l *oneShotListener) Addr() net.Addr { return l.addr }

// onCloseConn runs onClose the first time Close is called, so the caller
// driving http.Serve can detect when the client connection ends.
type onCloseConn struct {
	net.Conn
	onClose func()
	once    sync.Once
}

func (c *onCloseConn) Close() error {
	c.once.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.Conn.Close()
}
