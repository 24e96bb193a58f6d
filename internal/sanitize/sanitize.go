// Package sanitize redacts sensitive headers, query parameters, form
// fields, and JSON body fields from a LogRecord without mutating the input.
//
// Sensitive-key matching follows the "contains" rule: a key is sensitive if
// its lowercased form contains any vocabulary entry as a substring. This
// subsumes the narrower "ends with _<entry>" rule also described by the
// upstream design notes, and is applied uniformly to query keys, form keys,
// and JSON keys so there is exactly one matching function to reason about.
package sanitize

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

const mask = "***redacted***"

var sensitiveHeaders = map[string]struct{}{
	"authorization":        {},
	"proxy-authorization":  {},
	"cookie":               {},
	"set-cookie":           {},
	"x-api-key":            {},
	"x-auth-token":         {},
	"x-csrf-token":         {},
	"x-xsrf-token":         {},
	"x-amz-security-token": {},
}

var sensitiveKeyFragments = []string{
	"token", "access_token", "refresh_token", "id_token", "api_key",
	"apikey", "key", "code", "password", "passwd", "secret", "signature", "sig",
}

var sensitiveJSONFragments = []string{
	"password", "passwd", "secret", "token", "refresh", "access",
	"authorization", "cookie", "apikey", "api_key", "session", "csrf", "xsrf",
}

func matchesAny(key string, fragments []string) bool {
	lower := strings.ToLower(key)
	for _, frag := range fragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Record returns a sanitized deep copy of r. It never panics and never
// returns an error: any field whose redaction fails is passed through
// unchanged.
func Record(r *logrecord.LogRecord) *logrecord.LogRecord {
	if r == nil {
		return nil
	}
	out := r.Clone()
	sanitizeSide(&out.Request)
	if out.Response != nil {
		sanitizeSide(out.Response)
	}
	return out
}

func sanitizeSide(s *logrecord.Side) {
	s.Headers = sanitizeHeaders(s.Headers)
	s.Query = sanitizeQuery(s.Query)
	if s.Body != nil {
		s.Body.Text = sanitizeBody(s.Body.Mime, s.Body.Text)
	}
}

func sanitizeHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(name)]; sensitive {
			out[name] = mask
		} else {
			out[name] = value
		}
	}
	return out
}

func sanitizeQuery(query map[string]string) map[string]string {
	if query == nil {
		return nil
	}
	out := make(map[string]string, len(query))
	for k, v := range query {
		if matchesAny(k, sensitiveKeyFragments) {
			out[k] = mask
		} else {
			out[k] = v
		}
	}
	return out
}

func sanitizeBody(mime, text string) string {
	if text == "" {
		return text
	}
	lowerMime := strings.ToLower(mime)
	trimmed := strings.TrimSpace(text)

	switch {
	case strings.Contains(lowerMime, "application/x-www-form-urlencoded"):
		return sanitizeFormBody(text)
	case strings.Contains(lowerMime, "application/json"),
		strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		return sanitizeJSONBody(text)
	default:
		return text
	}
}

func sanitizeFormBody(text string) string {
	values, err := url.ParseQuery(text)
	if err != nil {
		return text
	}
	for key := range values {
		if matchesAny(key, sensitiveKeyFragments) {
			for i := range values[key] {
				values[key][i] = mask
			}
		}
	}
	return values.Encode()
}

func sanitizeJSONBody(text string) string {
	var tree interface{}
	if err := json.Unmarshal([]byte(text), &tree); err != nil {
		return text
	}
	redacted := redactJSON(tree)
	out, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return text
	}
	return string(out)
}

func redactJSON(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			if matchesAny(key, sensitiveJSONFragments) {
				out[key] = mask
			} else {
				out[key] = redactJSON(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = redactJSON(val)
		}
		return out
	default:
		return v
	}
}
