package sanitize

import (
	"strings"
	"testing"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

func TestRecordRedactsAuthorizationHeader(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Headers: map[string]string{
				"Authorization": "Bearer abc",
				"X-Trace":       "t1",
			},
		},
	}
	out := Record(rec)
	if out.Request.Headers["Authorization"] != mask {
		t.Fatalf("Authorization = %q, want redacted", out.Request.Headers["Authorization"])
	}
	if out.Request.Headers["X-Trace"] != "t1" {
		t.Fatalf("X-Trace = %q, want unchanged", out.Request.Headers["X-Trace"])
	}
	// original must be untouched
	if rec.Request.Headers["Authorization"] != "Bearer abc" {
		t.Fatalf("input record was mutated")
	}
}

func TestRecordRedactsJSONBody(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Body: &logrecord.Body{
				Mime: "application/json",
				Text: `{"password":"p","user":{"token":"x","name":"y"}}`,
			},
		},
	}
	out := Record(rec)
	text := out.Request.Body.Text
	if !strings.Contains(text, `"password": "***redacted***"`) {
		t.Fatalf("password not redacted: %s", text)
	}
	if !strings.Contains(text, `"token": "***redacted***"`) {
		t.Fatalf("nested token not redacted: %s", text)
	}
	if !strings.Contains(text, `"name": "y"`) {
		t.Fatalf("name should survive untouched: %s", text)
	}
}

func TestRecordRedactsSensitiveQueryKeys(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Query: map[string]string{
				"api_key": "abc123",
				"page":    "2",
			},
		},
	}
	out := Record(rec)
	if out.Request.Query["api_key"] != mask {
		t.Fatalf("api_key = %q, want redacted", out.Request.Query["api_key"])
	}
	if out.Request.Query["page"] != "2" {
		t.Fatalf("page = %q, want unchanged", out.Request.Query["page"])
	}
}

func TestRecordRedactsFormBody(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Body: &logrecord.Body{
				Mime: "application/x-www-form-urlencoded",
				Text: "password=secret123&username=bob",
			},
		},
	}
	out := Record(rec)
	if strings.Contains(out.Request.Body.Text, "secret123") {
		t.Fatalf("form password leaked: %s", out.Request.Body.Text)
	}
	if !strings.Contains(out.Request.Body.Text, "username=bob") {
		t.Fatalf("username should survive: %s", out.Request.Body.Text)
	}
}

func TestRecordLeavesMalformedJSONUntouched(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Body: &logrecord.Body{
				Mime: "application/json",
				Text: "{not valid json",
			},
		},
	}
	out := Record(rec)
	if out.Request.Body.Text != "{not valid json" {
		t.Fatalf("malformed JSON should pass through unchanged, got %q", out.Request.Body.Text)
	}
}

func TestRecordLeavesOtherMimeUntouched(t *testing.T) {
	rec := &logrecord.LogRecord{
		Request: logrecord.Side{
			Body: &logrecord.Body{
				Mime: "text/plain",
				Text: "token=should-not-be-touched-here",
			},
		},
	}
	out := Record(rec)
	if out.Request.Body.Text != "token=should-not-be-touched-here" {
		t.Fatalf("text/plain body should be unchanged, got %q", out.Request.Body.Text)
	}
}
