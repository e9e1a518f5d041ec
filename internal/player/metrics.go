package player

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Player reports through,
// following the same namespaced-vector pattern as recorder.Metrics.
type Metrics struct {
	playedMessagesTotal *prometheus.CounterVec
	publishErrorsTotal  *prometheus.CounterVec
	skippedTotal        prometheus.Counter
}

func newPlayerCounterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openbag",
			Subsystem: "player",
			Name:      name,
			Help:      help,
		},
		[]string{"topic"},
	)
}

// NewMetrics builds a Metrics and registers its collectors against
// registerer. A nil registerer defaults to prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		playedMessagesTotal: newPlayerCounterVec("played_messages_total", "Total number of records published during replay"),
		publishErrorsTotal:  newPlayerCounterVec("publish_errors_total", "Total number of publish calls that returned failure during replay"),
		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openbag",
			Subsystem: "player",
			Name:      "skipped_total",
			Help:      "Total number of records skipped (non-protobuf encoding or unknown channel/topic)",
		}),
	}

	for _, c := range []prometheus.Collector{m.playedMessagesTotal, m.publishErrorsTotal, m.skippedTotal} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}
