package httpapi

import (
	"net/http"
)

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

type healthchecker struct {
	broker ConnectionChecker
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if h.broker == nil || !h.broker.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "mqtt not connected")
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok"})
}

func registerHealthcheck(mux *http.ServeMux, broker ConnectionChecker) {
	h := &healthchecker{broker: broker}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
