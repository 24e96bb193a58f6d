// Package controlapi exposes the HTTP_PORT surface: live log inspection,
// session lifecycle management, and session/catalog exports, as described
// by the capture pipeline's ControlAPI component.
package controlapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/ring"
	"github.com/relaylens/captureproxy/internal/session"
)

// API holds the dependencies every handler needs.
type API struct {
	ring  *ring.Buffer
	store *session.Store
	log   logging.Logger
}

// NewRouter builds the gorilla/mux router for the control API.
func NewRouter(buf *ring.Buffer, store *session.Store, log logging.Logger) *mux.Router {
	api := &API{ring: buf, store: store, log: logging.OrDefault(log)}

	r := mux.NewRouter()
	r.Use(api.logRequests)

	r.HandleFunc("/health", api.health).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", api.getLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/clear", api.clearLogs).Methods(http.MethodPost)
	r.HandleFunc("/events", api.events).Methods(http.MethodGet)

	r.HandleFunc("/api/sessions", api.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/start", api.startSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/stop", api.stopSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", api.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/logs", api.getSessionLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/export", api.exportSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/report", api.sessionReport).Methods(http.MethodPost)

	r.HandleFunc("/api/catalog/export", api.exportCatalog).Methods(http.MethodGet)

	return r
}

func (a *API) logRequests(upstream http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.log.Debug("controlapi: %s %s", r.Method, r.URL.Path)
		upstream.ServeHTTP(w, r)
	})
}
