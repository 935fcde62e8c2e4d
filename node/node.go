package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	cfg "github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/service"
	"github.com/celestiaorg/mppay/mpp"
	"github.com/celestiaorg/mppay/plugin"
	rpcclient "github.com/celestiaorg/mppay/rpc/client"
	"github.com/celestiaorg/mppay/store"
)

const readHeaderTimeout = 10 * time.Second

// Node is the whole plugin process: the protocol session with the node,
// the invoice source behind it and the instrumentation around it.
type Node struct {
	service.BaseService

	// config
	config          *cfg.Config
	dbProvider      cfg.DBProvider
	metricsProvider MetricsProvider
	traceWriter     io.Writer

	// services
	plugin         *plugin.Plugin
	invoiceStore   *store.InvoiceStore // nil unless invoice_source is db
	metrics        *mpp.Metrics
	prometheusSrv  *http.Server
	tracerProvider *sdktrace.TracerProvider
}

// Option sets a parameter for the node.
type Option func(*Node)

// CustomDBProvider replaces the provider the invoice database is opened
// with.
func CustomDBProvider(provider cfg.DBProvider) Option {
	return func(n *Node) { n.dbProvider = provider }
}

// CustomMetricsProvider replaces the default metrics provider.
func CustomMetricsProvider(provider MetricsProvider) Option {
	return func(n *Node) { n.metricsProvider = provider }
}

// WithTraceWriter sets where spans are written when tracing is enabled.
// Defaults to stderr.
func WithTraceWriter(w io.Writer) Option {
	return func(n *Node) { n.traceWriter = w }
}

// OpenInvoiceStore opens the invoice database of config.
func OpenInvoiceStore(config *cfg.Config, dbProvider cfg.DBProvider) (*store.InvoiceStore, error) {
	db, err := dbProvider(&cfg.DBContext{ID: "invoices", Config: config})
	if err != nil {
		return nil, fmt.Errorf("open invoice db: %w", err)
	}
	return store.NewInvoiceStore(db), nil
}

// NewNode returns a node talking to the host over in and out. Everything is
// validated and opened here; aggregation starts on the host's init call.
func NewNode(
	config *cfg.Config,
	logger *plugin.HostLogger,
	in io.Reader,
	out io.Writer,
	options ...Option,
) (*Node, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config:          config,
		dbProvider:      cfg.DefaultDBProvider,
		metricsProvider: DefaultMetricsProvider(config.Instrumentation),
		traceWriter:     os.Stderr,
	}
	n.BaseService = *service.NewBaseService(logger.With("module", "node"), "Node", n)
	for _, option := range options {
		option(n)
	}

	if config.InvoiceSource == cfg.InvoiceSourceDB {
		invoiceStore, err := OpenInvoiceStore(config, n.dbProvider)
		if err != nil {
			return nil, err
		}
		n.invoiceStore = invoiceStore
	}

	n.metrics = n.metricsProvider()
	handlerOptions := []mpp.HandlerOption{
		mpp.WithHandlerMetrics(n.metrics),
		mpp.WithLookupTimeout(config.RPC.Timeout),
	}
	if config.Instrumentation.Tracing {
		tp, err := setupTracing(n.traceWriter)
		if err != nil {
			n.closeStore()
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		n.tracerProvider = tp
		handlerOptions = append(handlerOptions, mpp.WithTracer(tp.Tracer("github.com/celestiaorg/mppay/mpp")))
	}

	n.plugin = plugin.NewPlugin(config, in, out, logger, n.openInvoiceSource,
		plugin.WithAggregatorOptions(mpp.WithMetrics(n.metrics)),
		plugin.WithHandlerOptions(handlerOptions...),
	)
	return n, nil
}

// openInvoiceSource is called by the plugin on init, once the node's
// directory is known.
func (n *Node) openInvoiceSource(config *cfg.Config) (mpp.InvoiceSource, error) {
	switch config.InvoiceSource {
	case cfg.InvoiceSourceDB:
		return n.invoiceStore, nil
	case cfg.InvoiceSourceRPC:
		n.Logger.Info("Looking up invoices over RPC", "path", config.RPC.RPCPath())
		return rpcclient.New(config.RPC.RPCPath(), config.RPC.Timeout, n.Logger.With("module", "rpc")), nil
	default:
		return nil, fmt.Errorf("unknown invoice_source %q", config.InvoiceSource)
	}
}

// OnStart starts the metrics server and the plugin session.
func (n *Node) OnStart() error {
	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer()
	}
	return n.plugin.Start()
}

// OnStop fails every HTLC still held, then releases everything else.
func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if err := n.plugin.Stop(); err != nil {
		n.Logger.Error("Error stopping plugin", "err", err)
	}

	if n.prometheusSrv != nil {
		if err := n.prometheusSrv.Shutdown(context.Background()); err != nil {
			// Error from closing listeners, or context timeout:
			n.Logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}
	if n.tracerProvider != nil {
		if err := n.tracerProvider.Shutdown(context.Background()); err != nil {
			n.Logger.Error("Error shutting down tracer provider", "err", err)
		}
	}
	n.closeStore()
}

func (n *Node) closeStore() {
	if n.invoiceStore == nil {
		return
	}
	if err := n.invoiceStore.Close(); err != nil {
		n.Logger.Error("Error closing invoice store", "err", err)
	}
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr.
func (n *Node) startPrometheusServer() *http.Server {
	srv := &http.Server{
		Addr: n.config.Instrumentation.PrometheusListenAddr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{},
			),
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			// Error starting or closing listener:
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

// Done is closed when the host closes the plugin's input, which is how it
// asks the plugin to exit.
func (n *Node) Done() <-chan struct{} {
	return n.plugin.Done()
}

// Plugin returns the protocol session.
func (n *Node) Plugin() *plugin.Plugin {
	return n.plugin
}

// Config returns the node's config.
func (n *Node) Config() *cfg.Config {
	return n.config
}

// InvoiceStore returns the invoice database, or nil when invoices come from
// the node's RPC.
func (n *Node) InvoiceStore() *store.InvoiceStore {
	return n.invoiceStore
}
