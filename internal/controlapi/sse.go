package controlapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// events streams a "hello" event once, then one "log" event per LogRecord
// pushed to the ring buffer afterward. Clients may reconnect; missed
// events are never replayed.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, "hello", map[string]bool{"ok": true})
	flusher.Flush()

	sub := a.ring.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.C:
			if !ok {
				return
			}
			writeEvent(w, "log", rec)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
