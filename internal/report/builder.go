// Package report aggregates a session's log stream into a set of
// per-endpoint summaries (normalized path × method × host), as described by
// the capture pipeline's ReportBuilder component.
package report

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/pathnorm"
)

const sampleBodyClip = 2048
const truncatedSuffix = "\n…(truncated)"
const sampleHeaderLimit = 30

// MimeCounts maps a MIME type's first path segment (e.g. "application" from
// "application/json") to an occurrence count.
type MimeCounts map[string]int

// EndpointSummary aggregates every captured exchange that normalizes to the
// same method/host/path key.
type EndpointSummary struct {
	Key       string               `json:"key"`
	Method    string               `json:"method"`
	Host      string               `json:"host"`
	Path      string               `json:"path"`
	Count     int                  `json:"count"`
	Statuses  map[string]int       `json:"statuses"`
	Mime      EndpointMime         `json:"mime"`
	QueryKeys []string             `json:"queryKeys"`
	Sample    *logrecord.LogRecord `json:"sample,omitempty"`
}

// EndpointMime groups request/response MIME-type counters.
type EndpointMime struct {
	Req MimeCounts `json:"req"`
	Res MimeCounts `json:"res"`
}

// RouteReport is the pure aggregation of one session's (or, after merging,
// one route key's) log sequence.
type RouteReport struct {
	RouteKey  string             `json:"routeKey"`
	SessionID string             `json:"sessionId"`
	CreatedAt time.Time          `json:"createdAt"`
	TotalLogs int                `json:"totalLogs"`
	Endpoints []*EndpointSummary `json:"endpoints"`
}

// Build aggregates logs into a RouteReport. Logs whose URL does not parse
// are skipped for endpoint aggregation but still counted in TotalLogs.
func Build(routeKey, sessionID string, logs []*logrecord.LogRecord) *RouteReport {
	byKey := make(map[string]*EndpointSummary)
	order := make([]string, 0)

	for _, log := range logs {
		u, err := url.Parse(log.URL)
		if err != nil || u.Host == "" {
			continue
		}
		method := strings.ToUpper(log.Method)
		if method == "" {
			method = "GET"
		}
		path := pathnorm.Normalize(u.Path)
		key := method + " " + u.Host + " " + path

		ep, ok := byKey[key]
		if !ok {
			ep = &EndpointSummary{
				Key:    key,
				Method: method,
				Host:   u.Host,
				Path:   path,
				Statuses: make(map[string]int),
				Mime:     EndpointMime{
					Req: make(MimeCounts),
					Res: make(MimeCounts),
				},
				Sample: buildSample(log),
			}
			byKey[key] = ep
			order = append(order, key)
		}

		ep.Count++
		status := 0
		if log.Status != nil {
			status = *log.Status
		}
		ep.Statuses[strconv.Itoa(status)]++
		ep.Mime.Req[mimeFirstSegment(sideMime(log.Request.Body))]++
		ep.Mime.Res[mimeFirstSegment(sideMime(responseBody(log)))]++
		ep.QueryKeys = mergeSortedUnique(ep.QueryKeys, pathnorm.QueryKeys(log.URL))
	}

	endpoints := make([]*EndpointSummary, 0, len(order))
	for _, key := range order {
		endpoints = append(endpoints, byKey[key])
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Count != endpoints[j].Count {
			return endpoints[i].Count > endpoints[j].Count
		}
		return endpoints[i].Key < endpoints[j].Key
	})

	return &RouteReport{
		RouteKey:  routeKey,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		TotalLogs: len(logs),
		Endpoints: endpoints,
	}
}

func sideMime(b *logrecord.Body) string {
	if b == nil {
		return ""
	}
	return b.Mime
}

func responseBody(log *logrecord.LogRecord) *logrecord.Body {
	if log.Response == nil {
		return nil
	}
	return log.Response.Body
}

func mimeFirstSegment(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "unknown"
	}
	if idx := strings.IndexAny(mime, "/;"); idx >= 0 {
		return mime[:idx]
	}
	return mime
}

func mergeSortedUnique(existing, fresh []string) []string {
	if len(fresh) == 0 {
		return existing
	}
	set := make(map[string]struct{}, len(existing)+len(fresh))
	for _, k := range existing {
		set[k] = struct{}{}
	}
	for _, k := range fresh {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func buildSample(log *logrecord.LogRecord) *logrecord.LogRecord {
	sample := log.Clone()
	sample.Request = clipSide(sample.Request)
	if sample.Response != nil {
		clipped := clipSide(*sample.Response)
		sample.Response = &clipped
	}
	return sample
}

func clipSide(s logrecord.Side) logrecord.Side {
	s.Headers = firstNHeaders(s.Headers, sampleHeaderLimit)
	if s.Body != nil && len(s.Body.Text) > sampleBodyClip {
		b := *s.Body
		b.Text = b.Text[:sampleBodyClip] + truncatedSuffix
		s.Body = &b
	}
	return s
}

func firstNHeaders(headers map[string]string, n int) map[string]string {
	if headers == nil {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[:n]
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = headers[name]
	}
	return out
}
