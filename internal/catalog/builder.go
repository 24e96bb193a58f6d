// Package catalog merges multiple sessions' route reports, grouped by route
// key, into a single cross-session RouteCatalog, as described by the
// capture pipeline's CatalogBuilder component.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/report"
	"github.com/relaylens/captureproxy/internal/session"
)

// RouteCatalog is the cross-session union of route reports.
type RouteCatalog struct {
	CreatedAt    time.Time            `json:"createdAt"`
	RouteReports []*report.RouteReport `json:"routeReports"`
}

// Collaborators are the callback dependencies CatalogBuilder needs; in
// production they are backed by a *session.Store, but tests can supply
// fakes.
type Collaborators struct {
	ListSessions func() ([]*session.Meta, error)
	ReadReport   func(id string) (*report.RouteReport, error)
	WriteReport  func(id string, rpt *report.RouteReport) error
	ReadLogs     func(id string, limit int) ([]*logrecord.LogRecord, error)
}

// Build fetches every session's metadata, loads (or builds and caches) its
// route report, groups by route key, and merges each group into one
// RouteReport. Groups are returned sorted by RouteKey ascending.
func Build(c Collaborators) (*RouteCatalog, error) {
	metas, err := c.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("catalog: list sessions: %w", err)
	}

	groups := make(map[string][]*report.RouteReport)
	for _, meta := range metas {
		rpt, err := c.ReadReport(meta.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: read report for %s: %w", meta.ID, err)
		}
		if rpt == nil {
			logs, err := c.ReadLogs(meta.ID, 0)
			if err != nil {
				return nil, fmt.Errorf("catalog: read logs for %s: %w", meta.ID, err)
			}
			routeKey := resolveRouteKey(meta)
			rpt = report.Build(routeKey, meta.ID, logs)
			if err := c.WriteReport(meta.ID, rpt); err != nil {
				return nil, fmt.Errorf("catalog: cache report for %s: %w", meta.ID, err)
			}
		}
		routeKey := resolveRouteKey(meta)
		groups[routeKey] = append(groups[routeKey], rpt)
	}

	routeKeys := make([]string, 0, len(groups))
	for k := range groups {
		routeKeys = append(routeKeys, k)
	}
	sort.Strings(routeKeys)

	merged := make([]*report.RouteReport, 0, len(routeKeys))
	for _, key := range routeKeys {
		merged = append(merged, mergeGroup(key, groups[key]))
	}

	return &RouteCatalog{
		CreatedAt:    time.Now(),
		RouteReports: merged,
	}, nil
}

func resolveRouteKey(meta *session.Meta) string {
	if meta.RouteKey != "" {
		return meta.RouteKey
	}
	if meta.Name != "" {
		return meta.Name
	}
	return "/"
}

func mergeGroup(routeKey string, reports []*report.RouteReport) *report.RouteReport {
	merged := &report.RouteReport{
		RouteKey:  routeKey,
		SessionID: fmt.Sprintf("%s (%d sessions)", routeKey, len(reports)),
		CreatedAt: time.Now(),
	}

	byKey := make(map[string]*report.EndpointSummary)
	order := make([]string, 0)

	for _, rpt := range reports {
		merged.TotalLogs += rpt.TotalLogs
		for _, ep := range rpt.Endpoints {
			existing, ok := byKey[ep.Key]
			if !ok {
				clone := cloneEndpoint(ep)
				byKey[ep.Key] = clone
				order = append(order, ep.Key)
				continue
			}
			mergeEndpointInto(existing, ep)
		}
	}

	endpoints := make([]*report.EndpointSummary, 0, len(order))
	for _, key := range order {
		endpoints = append(endpoints, byKey[key])
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Count != endpoints[j].Count {
			return endpoints[i].Count > endpoints[j].Count
		}
		return endpoints[i].Key < endpoints[j].Key
	})
	merged.Endpoints = endpoints
	return merged
}

func cloneEndpoint(ep *report.EndpointSummary) *report.EndpointSummary {
	out := &report.EndpointSummary{
		Key:    ep.Key,
		Method: ep.Method,
		Host:   ep.Host,
		Path:   ep.Path,
		Count:  ep.Count,
		Statuses: cloneCounts(ep.Statuses),
		Mime: report.EndpointMime{
			Req: cloneCounts(ep.Mime.Req),
			Res: cloneCounts(ep.Mime.Res),
		},
		QueryKeys: append([]string(nil), ep.QueryKeys...),
		Sample:    ep.Sample, // first encountered sample wins; never replaced
	}
	return out
}

func mergeEndpointInto(dst *report.EndpointSummary, src *report.EndpointSummary) {
	dst.Count += src.Count
	addCounts(dst.Statuses, src.Statuses)
	addCounts(dst.Mime.Req, src.Mime.Req)
	addCounts(dst.Mime.Res, src.Mime.Res)
	dst.QueryKeys = mergeSortedUnique(dst.QueryKeys, src.QueryKeys)
	// dst.Sample is left untouched: the first encountered report's sample
	// wins, later reports never replace it.
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func addCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

func mergeSortedUnique(existing, fresh []string) []string {
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
