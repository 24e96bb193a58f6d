// Package proxy implements the three exchange-handling components of the
// capture pipeline: the plain-HTTP ForwardProxy, the CONNECT TunnelProxy,
// and the TLS-terminating MitmProxy.
package proxy

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// hopByHopHeaders lists the connection-specific headers RFC 7230 §6.1 says
// must not be forwarded by a proxy.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the standard hop-by-hop headers, plus any header
// named in the request's own Connection header, from h in place.
func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// flattenHeaders collapses a multi-value http.Header into a single string
// per name, joining repeats with ", " — good enough for the capture record,
// which favors readability over perfect wire fidelity.
func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// flattenQuery collapses url.Values into a single string per key, last
// value wins.
func flattenQuery(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) == 0 {
			continue
		}
		out[key] = vs[len(vs)-1]
	}
	return out
}

// sortedHeaderNames returns the names in h sorted lexicographically. No code
// in this module calls it.
func sortedHeaderNames(h map[string]string) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
