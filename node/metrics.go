package node

import (
	cfg "github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/mpp"
)

// MetricsProvider returns the aggregator metrics.
type MetricsProvider func() *mpp.Metrics

// DefaultMetricsProvider returns Metrics build using Prometheus client library
// if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(config *cfg.InstrumentationConfig) MetricsProvider {
	return func() *mpp.Metrics {
		if config.Prometheus {
			return mpp.PrometheusMetrics(config.Namespace)
		}
		return mpp.NopMetrics()
	}
}
