package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dnswatch"

// metrics are created per pipeline. A nil Registerer leaves them
// unregistered.
type metrics struct {
	// units counts raw units read from the source.
	units prometheus.Counter

	// events counts parsed events by direction.
	events *prometheus.CounterVec

	// ignored counts units the parser does not apply to.
	ignored prometheus.Counter

	// skipped counts parse failures by kind.
	skipped *prometheus.CounterVec

	// transactions counts finalized transactions.
	transactions prometheus.Counter

	// anomalies counts recorded anomalies by kind and severity.
	anomalies *prometheus.CounterVec

	// live shows the transactions still open.
	live prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		units: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Total raw units read from the input",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total DNS events correlated by direction",
		}, []string{"direction"}),
		ignored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_ignored_total",
			Help:      "Total units that are not DNS observations",
		}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_skipped_total",
			Help:      "Total units skipped because they failed to parse, by reason",
		}, []string{"kind"}),
		transactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total transactions finalized",
		}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total anomalies detected by kind and severity",
		}, []string{"kind", "severity"}),
		live: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_transactions",
			Help:      "Number of transactions currently open",
		}),
	}
}

// WriteTextfile writes the metrics gathered by g to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
