// Package exporter renders captured exchanges and route reports as HAR 1.2
// and Markdown documents, the two download formats the control API's
// session/catalog export endpoints expose.
package exporter

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

const harVersion = "1.2"

type harDocument struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime string       `json:"startedDateTime"`
	Time            int64        `json:"time"`
	Request         harRequest   `json:"request"`
	Response        harResponse  `json:"response"`
	Timings         harTimings   `json:"timings"`
}

type harRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []harHeader  `json:"headers"`
	QueryString []harQuery   `json:"queryString"`
	PostData    *harPostData `json:"postData,omitempty"`
	HeadersSize int          `json:"headersSize"`
	BodySize    int          `json:"bodySize"`
}

type harResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []harHeader `json:"headers"`
	Content     harContent  `json:"content"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

type harHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harQuery struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

type harTimings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

// HAR renders logs as a HAR 1.2 document.
func HAR(logs []*logrecord.LogRecord) ([]byte, error) {
	doc := harDocument{
		Log: harLog{
			Version: harVersion,
			Creator: harCreator{Name: "captureproxy", Version: "1.0.0"},
			Entries: make([]harEntry, 0, len(logs)),
		},
	}

	for _, rec := range logs {
		doc.Log.Entries = append(doc.Log.Entries, harEntryFrom(rec))
	}

	return json.MarshalIndent(doc, "", "  ")
}

func harEntryFrom(rec *logrecord.LogRecord) harEntry {
	duration := int64(0)
	if rec.DurationMs != nil {
		duration = *rec.DurationMs
	}
	status := 0
	if rec.Status != nil {
		status = *rec.Status
	}

	entry := harEntry{
		StartedDateTime: time.UnixMilli(rec.TS).UTC().Format(time.RFC3339Nano),
		Time:            duration,
		Request: harRequest{
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     harHeaders(rec.Request.Headers),
			QueryString: harQueryString(rec.URL),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: harResponse{
			Status:      status,
			StatusText:  "",
			HTTPVersion: "HTTP/1.1",
			Headers:     nil,
			Content:     harContent{Size: -1},
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: harTimings{Send: 0, Wait: duration, Receive: 0},
	}

	if rec.Request.Body != nil && rec.Request.Body.Text != "" {
		entry.Request.PostData = &harPostData{
			MimeType: rec.Request.Body.Mime,
			Text:     rec.Request.Body.Text,
		}
	}

	if rec.Response != nil {
		entry.Response.Headers = harHeaders(rec.Response.Headers)
		if rec.Response.Body != nil {
			entry.Response.Content = harContent{
				Size:     len(rec.Response.Body.Text),
				MimeType: rec.Response.Body.Mime,
				Text:     rec.Response.Body.Text,
			}
		}
	}

	return entry
}

func harHeaders(headers map[string]string) []harHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]harHeader, 0, len(headers))
	for name, value := range headers {
		out = append(out, harHeader{Name: name, Value: value})
	}
	return out
}

func harQueryString(rawURL string) []harQuery {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	values := u.Query()
	if len(values) == 0 {
		return nil
	}
	out := make([]harQuery, 0, len(values))
	for name, vs := range values {
		for _, v := range vs {
			out = append(out, harQuery{Name: name, Value: v})
		}
	}
	return out
}

