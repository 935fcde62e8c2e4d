package mpp

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "mpp"
)

// Metrics contains metrics exposed by this package.
// see PrometheusMetrics for descriptions.
type Metrics struct {
	// Number of payments currently being aggregated.
	InFlightPayments metrics.Gauge

	// Number of HTLCs currently held.
	HeldParts metrics.Gauge

	// Number of payments settled once their parts reached the invoice amount.
	ResolvedPayments metrics.Counter

	// Number of payments failed before completion, labelled by reason.
	FailedPayments metrics.Counter

	// Number of HTLCs passed through because no usable invoice was found.
	PassedThrough metrics.Counter

	// Number of invoice lookups that returned an error.
	InvoiceLookupErrors metrics.Counter

	// Histogram of the number of parts a settled payment arrived in.
	PartsPerPayment metrics.Histogram

	// Histogram of seconds between the first part and settlement.
	TimeToResolve metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		InFlightPayments: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "in_flight_payments",
			Help:      "Number of payments currently being aggregated.",
		}, labels).With(labelsAndValues...),

		HeldParts: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "held_parts",
			Help:      "Number of HTLCs currently held.",
		}, labels).With(labelsAndValues...),

		ResolvedPayments: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "resolved_payments",
			Help:      "Number of payments settled.",
		}, labels).With(labelsAndValues...),

		FailedPayments: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failed_payments",
			Help:      "Number of payments failed before completion.",
		}, append(labels, "reason")).With(labelsAndValues...),

		PassedThrough: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "passed_through",
			Help:      "Number of HTLCs passed through without a usable invoice.",
		}, labels).With(labelsAndValues...),

		InvoiceLookupErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invoice_lookup_errors",
			Help:      "Number of invoice lookups that returned an error.",
		}, labels).With(labelsAndValues...),

		PartsPerPayment: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "parts_per_payment",
			Help:      "Number of parts a settled payment arrived in.",
			Buckets:   stdprometheus.LinearBuckets(1, 1, 16),
		}, labels).With(labelsAndValues...),

		TimeToResolve: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "time_to_resolve_seconds",
			Help:      "Seconds between the first part of a payment and its settlement.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 3, 10),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		InFlightPayments:    discard.NewGauge(),
		HeldParts:           discard.NewGauge(),
		ResolvedPayments:    discard.NewCounter(),
		FailedPayments:      discard.NewCounter(),
		PassedThrough:       discard.NewCounter(),
		InvoiceLookupErrors: discard.NewCounter(),
		PartsPerPayment:     discard.NewHistogram(),
		TimeToResolve:       discard.NewHistogram(),
	}
}
