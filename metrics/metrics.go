// Package metrics exposes ledger activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "barledger"

// Collector implements ledger.Recorder.
type Collector struct {
	transactions *prometheus.CounterVec
	denials      *prometheus.CounterVec
	operations   *prometheus.HistogramVec
}

var _ ledger.Recorder = (*Collector)(nil)

// NewCollector registers the ledger metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Committed transaction log records by kind.",
		}, []string{"kind"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_denials_total",
			Help:      "Purchases refused by the eligibility rules, by reason.",
		}, []string{"reason"}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger mutations, including the store transaction.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(c.transactions, c.denials, c.operations)

	// Start every series at zero so dashboards see them before the first event.
	for _, kind := range []ledger.TransactionKind{ledger.KindTopUp, ledger.KindPay, ledger.KindRevert} {
		c.transactions.WithLabelValues(string(kind))
	}
	for _, reason := range ledger.AllDenialReasons {
		c.denials.WithLabelValues(string(reason))
	}
	return c
}

func (c *Collector) TransactionCommitted(kind ledger.TransactionKind) {
	c.transactions.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) PurchaseDenied(reason ledger.DenialReason) {
	c.denials.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) ObserveOperation(op string, err error, elapsed time.Duration) {
	c.operations.WithLabelValues(op, outcome(err)).Observe(elapsed.Seconds())
}

// outcome buckets an error into a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrDenied):
		return "denied"
	case ledger.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics of reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
