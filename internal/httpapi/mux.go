package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux wires the diagnostic routes. The readings route is only served
// when history is non-nil.
func NewMux(broker ConnectionChecker, gatherer prometheus.Gatherer, history History) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, broker)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if history != nil {
		registerHistory(mux, history)
	}
	return mux
}
