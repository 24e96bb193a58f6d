package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/pipeline"
	"github.com/relaylens/captureproxy/internal/ring"
)

func TestForwardProxyCapturesExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer upstream.Close()

	buf := ring.New(10)
	sink := pipeline.New(buf, nil, logging.Noop{})
	fp := NewForwardProxy(65536, sink, logging.Noop{})

	proxySrv := httptest.NewServer(fp)
	defer proxySrv.Close()

	proxyURL, err := url.Parse(proxySrv.URL)
	if err != nil {
		t.Fatalf("parse proxy URL: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}

	resp, err := client.Get(upstream.URL + "/thing?a=1")
	if err != nil {
		t.Fatalf("proxied request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != `{"hello":"world"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	rec := waitForRecord(t, buf)
	if rec.Status == nil || *rec.Status != http.StatusOK {
		t.Fatalf("expected captured status 200, got %v", rec.Status)
	}
	if rec.Response == nil || rec.Response.Body == nil || rec.Response.Body.Text != `{"hello":"world"}` {
		t.Fatalf("expected captured response body, got %+v", rec.Response)
	}
}

func TestForwardProxyUpstreamUnreachableEmits502(t *testing.T) {
	buf := ring.New(10)
	sink := pipeline.New(buf, nil, logging.Noop{})
	fp := NewForwardProxy(65536, sink, logging.Noop{})

	proxySrv := httptest.NewServer(fp)
	defer proxySrv.Close()

	proxyURL, _ := url.Parse(proxySrv.URL)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get("http://127.0.0.1:1/nope")
	if err != nil {
		t.Fatalf("request through proxy failed transport-level: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	rec := waitForRecord(t, buf)
	if rec.Status == nil || *rec.Status != http.StatusBadGateway {
		t.Fatalf("expected captured status 502, got %v", rec.Status)
	}
}

func TestForwardProxyRejectsMissingHostWithoutCapture(t *testing.T) {
	buf := ring.New(10)
	sink := pipeline.New(buf, nil, logging.Noop{})
	fp := NewForwardProxy(65536, sink, logging.Noop{})

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Host = ""
	req.URL.Host = ""
	req.URL.Scheme = ""
	rec := httptest.NewRecorder()

	fp.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := buf.Snapshot(1); len(got) != 0 {
		t.Fatalf("expected no captured record for a rejected request, got %+v", got)
	}
}

func waitForRecord(t *testing.T, buf *ring.Buffer) *logrecord.LogRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs := buf.Snapshot(1)
		if len(recs) == 1 && recs[0] != nil {
			return recs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected a captured record in the ring buffer")
	return nil
}
