package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts pipeline outcomes.
type Recorder struct {
	events    *prometheus.CounterVec
	pubErrors prometheus.Counter
	devices   prometheus.Gauge
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mi_sensor",
			Name:      "events_total",
			Help:      "Advertisements handled, by pipeline outcome.",
		}, []string{"outcome"}),
		pubErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mi_sensor",
			Name:      "publish_errors_total",
			Help:      "Failed MQTT publishes.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mi_sensor",
			Name:      "devices",
			Help:      "Distinct sensors seen since start.",
		}),
	}
	reg.MustRegister(r.events, r.pubErrors, r.devices)
	return r
}

func (r *Recorder) Event(outcome string) {
	r.events.WithLabelValues(outcome).Inc()
}

func (r *Recorder) PublishError() {
	r.pubErrors.Inc()
}

func (r *Recorder) Devices(n int) {
	r.devices.Set(float64(n))
}
