package recorder

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Recorder reports through.
// Grounded on the teacher's DLQMetrics: one struct of pre-built
// CounterVec/GaugeVec fields registered once, with WithLabelValues calls
// at the point of use rather than ad-hoc metric lookups.
type Metrics struct {
	messagesTotal    *prometheus.CounterVec
	dropsTotal       *prometheus.CounterVec
	writeErrorsTotal *prometheus.CounterVec
	bufferSize       prometheus.Gauge
}

func newRecorderCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openbag",
			Subsystem: "recorder",
			Name:      name,
			Help:      help,
		},
		[]string{"topic"},
	)
}

// NewMetrics builds a Metrics and registers its collectors against
// registerer. A nil registerer defaults to prometheus.DefaultRegisterer;
// an already-registered collector (e.g. a second Recorder in the same
// process) is not treated as an error.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		messagesTotal:    newRecorderCounterVec("messages_total", "Total number of messages successfully buffered for recording"),
		dropsTotal:       newRecorderCounterVec("drops_total", "Total number of messages dropped due to buffer backpressure or shutdown"),
		writeErrorsTotal: newRecorderCounterVec("write_errors_total", "Total number of log writer write failures"),
		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "openbag",
			Subsystem: "recorder",
			Name:      "buffer_size",
			Help:      "Current number of records queued in the recorder's buffer",
		}),
	}

	for _, c := range []prometheus.Collector{m.messagesTotal, m.dropsTotal, m.writeErrorsTotal, m.bufferSize} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}
