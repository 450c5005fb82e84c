package darkpool

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "darkpool"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of orders submitted and not cancelled.
	ActiveOrders metrics.Gauge
	// Gross notional settled.
	TotalVolume metrics.Gauge
	// Matching requests waiting for a compute callback.
	PendingRequests metrics.Gauge

	OrdersSubmitted  metrics.Counter
	OrdersCancelled  metrics.Counter
	MatchingRequests metrics.Counter
	MatchesCompleted metrics.Counter
	MatchesFailed    metrics.Counter
	TradesSettled    metrics.Counter
	FeesCollected    metrics.Counter

	// Failed operations, labelled by "operation" and error "class".
	OperationErrors metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	counter := func(name, help string, extra ...string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, append(append([]string{}, labels...), extra...)).With(labelsAndValues...)
	}

	return &Metrics{
		ActiveOrders:     gauge("active_orders", "Number of submitted orders that have not been cancelled."),
		TotalVolume:      gauge("total_volume", "Gross notional settled by the pool."),
		PendingRequests:  gauge("pending_requests", "Matching requests waiting for a compute callback."),
		OrdersSubmitted:  counter("orders_submitted_total", "Orders submitted."),
		OrdersCancelled:  counter("orders_cancelled_total", "Orders cancelled by their owner."),
		MatchingRequests: counter("matching_requests_total", "Matching requests sent to the compute service."),
		MatchesCompleted: counter("matches_completed_total", "Matching requests completed with a result."),
		MatchesFailed:    counter("matches_failed_total", "Matching requests whose computation was aborted."),
		TradesSettled:    counter("trades_settled_total", "Trade executions settled."),
		FeesCollected:    counter("fees_collected_total", "Fees transferred to the fee account."),
		OperationErrors:  counter("operation_errors_total", "Failed dark pool operations.", "operation", "class"),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ActiveOrders:     discard.NewGauge(),
		TotalVolume:      discard.NewGauge(),
		PendingRequests:  discard.NewGauge(),
		OrdersSubmitted:  discard.NewCounter(),
		OrdersCancelled:  discard.NewCounter(),
		MatchingRequests: discard.NewCounter(),
		MatchesCompleted: discard.NewCounter(),
		MatchesFailed:    discard.NewCounter(),
		TradesSettled:    discard.NewCounter(),
		FeesCollected:    discard.NewCounter(),
		OperationErrors:  discard.NewCounter(),
	}
}
