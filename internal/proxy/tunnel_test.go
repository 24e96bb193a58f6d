package proxy

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/pipeline"
	"github.com/relaylens/captureproxy/internal/ring"
)

func TestTunnelProxyRelaysBytes(t *testing.T) {
	echoListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer echoListener.Close()

	go func() {
		conn, err := echoListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	buf := ring.New(10)
	sink := pipeline.New(buf, nil, logging.Noop{})
	tp := NewTunnelProxy(sink, logging.Noop{})

	proxySrv := httptest.NewServer(tp)
	defer proxySrv.Close()

	proxyAddr := proxySrv.Listener.Addr().String()
	conn, err := net.Dial("tcp", proxyAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	fmtConnect := "CONNECT " + echoListener.Addr().String() + " HTTP/1.1\r\nHost: " + echoListener.Addr().String() + "\r\n\r\n"
	if _, err := conn.Write([]byte(fmtConnect)); err != nil {
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

	message := []byte("ping")
	if _, err := conn.Write(message); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	echoed := make([]byte, len(message))
	if _, err := io.ReadFull(reader, echoed); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if string(echoed) != string(message) {
		t.Fatalf("echoed = %q, want %q", echoed, message)
	}

	rec := waitForRecord(t, buf)
	if rec.Method != http.MethodConnect {
		t.Fatalf("method = %q, want CONNECT", rec.Method)
	}
	if rec.Status == nil || *rec.Status != http.StatusOK {
		t.Fatalf("status = %v, want 200", rec.Status)
	}
}
