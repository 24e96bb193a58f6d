package controlapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relaylens/captureproxy/internal/catalog"
	"github.com/relaylens/captureproxy/internal/exporter"
	"github.com/relaylens/captureproxy/internal/report"
	"github.com/relaylens/captureproxy/internal/session"
)

const (
	maxLiveLogsLimit    = 2000
	maxSessionLogsLimit = 5000
)

type okResponse struct {
	OK bool `json:"ok"`
}

type itemsResponse struct {
	Items interface{} `json:"items"`
}

type sessionsResponse struct {
	Items   []*session.Meta `json:"items"`
	Current *session.Meta   `json:"current"`
}

type startSessionRequest struct {
	Name     string `json:"name"`
	RouteKey string `json:"routeKey"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (a *API) getLogs(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), maxLiveLogsLimit)
	items := a.ring.Snapshot(limit)
	writeJSON(w, http.StatusOK, itemsResponse{Items: items})
}

func (a *API) clearLogs(w http.ResponseWriter, r *http.Request) {
	a.ring.Clear()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := a.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Items: metas, Current: a.store.Current()})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := a.store.Read(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if meta == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	meta, err := a.store.Start(req.Name, req.RouteKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) stopSession(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.Stop()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if meta == nil {
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) getSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := clampLimit(r.URL.Query().Get("limit"), maxSessionLogsLimit)
	logs, err := a.store.ReadLogs(id, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: logs})
}

func (a *API) sessionReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rpt, err := a.reportFor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rpt)
}

func (a *API) reportFor(id string) (*report.RouteReport, error) {
	rpt, err := a.store.ReadReport(id)
	if err != nil {
		return nil, err
	}
	if rpt != nil {
		return rpt, nil
	}

	meta, err := a.store.Read(id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, errNotFound(id)
	}

	logs, err := a.store.ReadLogs(id, 0)
	if err != nil {
		return nil, err
	}
	routeKey := meta.RouteKey
	if routeKey == "" {
		routeKey = meta.Name
	}
	rpt = report.Build(routeKey, meta.ID, logs)
	if err := a.store.WriteReport(meta.ID, rpt); err != nil {
		a.log.Warn("controlapi: cache report for %s: %v", meta.ID, err)
	}
	return rpt, nil
}

func (a *API) exportSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	logs, err := a.store.ReadLogs(id, 0)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	switch format {
	case "json":
		downloadJSON(w, id+".json", itemsResponse{Items: logs})
	case "har":
		out, err := exporter.HAR(logs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		download(w, id+".har", "application/json", out)
	case "md":
		rpt, err := a.reportFor(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		download(w, id+".md", "text/markdown", exporter.Markdown(rpt))
	default:
		writeError(w, http.StatusBadRequest, errUnsupportedFormat(format))
	}
}

func (a *API) exportCatalog(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	cat, err := catalog.Build(catalog.Collaborators{
		ListSessions: a.store.List,
		ReadReport:   a.store.ReadReport,
		WriteReport:  a.store.WriteReport,
		ReadLogs:     a.store.ReadLogs,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	switch format {
	case "json":
		downloadJSON(w, "catalog.json", cat)
	case "md":
		var combined []byte
		for _, rpt := range cat.RouteReports {
			combined = append(combined, exporter.Markdown(rpt)...)
			combined = append(combined, '\n')
		}
		download(w, "catalog.md", "text/markdown", combined)
	default:
		writeError(w, http.StatusBadRequest, errUnsupportedFormat(format))
	}
}

func clampLimit(raw string, max int) int {
	if raw == "" {
		return max
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return max
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func download(w http.ResponseWriter, filename, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func downloadJSON(w http.ResponseWriter, filename string, body interface{}) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	download(w, filename, "application/json", data)
}

type apiError string

func (e apiError) Error() string { return string(e) }

func errNotFound(id string) error         { return apiError("session not found: " + id) }
func errUnsupportedFormat(f string) error { return apiError("unsupported format: " + f) }
