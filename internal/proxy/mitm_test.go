package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaylens/captureproxy/internal/certauthority"
	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/pipeline"
	"github.com/relaylens/captureproxy/internal/ring"
)

func TestMitmProxyDecryptsAndCaptures(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("secret"))
	}))
	defer upstream.Close()

	ca, err := certauthority.LoadOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	buf := ring.New(10)
	sink := pipeline.New(buf, nil, logging.Noop{})
	mitm := NewMitmProxy(ca, 65536, sink, logging.Noop{})

	proxySrv := httptest.NewServer(mitm)
	defer proxySrv.Close()

	upstreamHost := upstream.Listener.Addr().String()

	conn, err := net.Dial("tcp", proxySrv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	connectReq := "CONNECT " + upstreamHost + " HTTP/1.1\r\nHost: " + upstreamHost + "\r\n\r\n"
	if _, err := conn.Write([]byte(connectReq)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("read CONNECT response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CONNECT status = %d, want 200", resp.StatusCode)
	}

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("tls handshake: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://"+upstreamHost+"/thing", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if err := req.Write(tlsConn); err != nil {
		t.Fatalf("write request: %v", err)
	}

	tlsReader := bufio.NewReader(tlsConn)
	innerResp, err := http.ReadResponse(tlsReader, req)
	if err != nil {
		t.Fatalf("read inner response: %v", err)
	}
	defer innerResp.Body.Close()

	buffer := make([]byte, len("secret"))
	if _, err := innerResp.Body.Read(buffer); err != nil && string(buffer) != "secret" {
		t.Fatalf("read inner body: %v", err)
	}
	if string(buffer) != "secret" {
		t.Fatalf("body = %q, want %q", buffer, "secret")
	}

	rec := waitForRecord(t, buf)
	if rec.Status == nil || *rec.Status != http.StatusOK {
		t.Fatalf("captured status = %v, want 200", rec.Status)
	}
	if rec.Response == nil || rec.Response.Body == nil || rec.Response.Body.Text != "secret" {
		t.Fatalf("captured response body = %+v, want %q", rec.Response, "secret")
	}
}

func TestDnsName(t *testing.T) {
	if got := dnsName("example.com:443"); got != "example.com" {
		t.Fatalf("dnsName = %q, want %q", got, "example.com")
	}
	if got := dnsName("not-a-host-port"); got != "" {
		t.Fatalf("dnsName = %q, want empty", got)
	}
}
