package report

import (
	"testing"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

func statusPtr(n int) *int { return &n }

func TestBuildCountsAndOrdersByCountDesc(t *testing.T) {
	logs := []*logrecord.LogRecord{
		{Method: "GET", URL: "http://api.example.com/users/1", Status: statusPtr(200)},
		{Method: "GET", URL: "http://api.example.com/users/2", Status: statusPtr(200)},
		{Method: "GET", URL: "http://api.example.com/orders/1", Status: statusPtr(404)},
	}
	rpt := Build("route-a", "sess-1", logs)

	if rpt.TotalLogs != 3 {
		t.Fatalf("TotalLogs = %d, want 3", rpt.TotalLogs)
	}
	if len(rpt.Endpoints) != 2 {
		t.Fatalf("len(Endpoints) = %d, want 2", len(rpt.Endpoints))
	}
	top := rpt.Endpoints[0]
	if top.Path != "/users/:id" || top.Count != 2 {
		t.Fatalf("top endpoint = %+v, want path /users/:id count 2", top)
	}
	if top.Statuses["200"] != 2 {
		t.Fatalf("statuses = %+v, want 200:2", top.Statuses)
	}
}

func TestBuildSkipsUnparsableURLButCountsTotal(t *testing.T) {
	logs := []*logrecord.LogRecord{
		{Method: "GET", URL: "http://good.example.com/x"},
		{Method: "GET", URL: "::not a url::"},
	}
	rpt := Build("route-a", "sess-1", logs)
	if rpt.TotalLogs != 2 {
		t.Fatalf("TotalLogs = %d, want 2", rpt.TotalLogs)
	}
	if len(rpt.Endpoints) != 1 {
		t.Fatalf("len(Endpoints) = %d, want 1", len(rpt.Endpoints))
	}
}

func TestBuildDeterministicOrdering(t *testing.T) {
	logs := []*logrecord.LogRecord{
		{Method: "GET", URL: "http://a.example.com/a"},
		{Method: "GET", URL: "http://a.example.com/b"},
	}
	r1 := Build("k", "s", logs)
	r2 := Build("k", "s", logs)
	if len(r1.Endpoints) != len(r2.Endpoints) {
		t.Fatalf("endpoint counts differ between builds")
	}
	for i := range r1.Endpoints {
		if r1.Endpoints[i].Key != r2.Endpoints[i].Key {
			t.Fatalf("ordering not deterministic: %q vs %q", r1.Endpoints[i].Key, r2.Endpoints[i].Key)
		}
	}
}

func TestBuildSampleClipsLongBody(t *testing.T) {
	longBody := make([]byte, sampleBodyClip+100)
	for i := range longBody {
		longBody[i] = 'x'
	}
	logs := []*logrecord.LogRecord{
		{
			Method: "POST",
			URL:    "http://a.example.com/x",
			Request: logrecord.Side{
				Body: &logrecord.Body{Mime: "text/plain", Text: string(longBody)},
			},
		},
	}
	rpt := Build("k", "s", logs)
	sample := rpt.Endpoints[0].Sample
	if len(sample.Request.Body.Text) != sampleBodyClip+len(truncatedSuffix) {
		t.Fatalf("clipped length = %d, want %d", len(sample.Request.Body.Text), sampleBodyClip+len(truncatedSuffix))
	}
}
