package plugin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/service"
	cmtsync "github.com/celestiaorg/mppay/libs/sync"
	"github.com/celestiaorg/mppay/mpp"
)

const (
	// Messages larger than this end the session.
	maxMessageSize = 16 << 20

	methodGetManifest  = "getmanifest"
	methodInit         = "init"
	methodHTLCAccepted = "htlc_accepted"
	methodStatus       = "mpp-status"
	methodAddInvoice   = "mpp-addinvoice"
	methodPay          = "mppay"

	optionTimeout  = "mpp-timeout"
	optionLogLevel = "mpp-log-level"
)

// InvoiceSourceFunc opens the invoice source once init has filled in the
// node's configuration.
type InvoiceSourceFunc func(cfg *config.Config) (mpp.InvoiceSource, error)

// Option sets an optional parameter on the Plugin.
type Option func(*Plugin)

// WithAggregatorOptions sets the options the aggregator is built with on
// init.
func WithAggregatorOptions(options ...mpp.AggregatorOption) Option {
	return func(p *Plugin) { p.aggregatorOptions = append(p.aggregatorOptions, options...) }
}

// WithHandlerOptions sets the options the ingress handler is built with on
// init.
func WithHandlerOptions(options ...mpp.HandlerOption) Option {
	return func(p *Plugin) { p.handlerOptions = append(p.handlerOptions, options...) }
}

// Plugin speaks the node's plugin protocol: newline separated JSON-RPC 2.0
// messages, requests on in and responses and notifications on out.
//
// Nothing is aggregated before init: the node sends the startup options and
// its directory there, and only then are the invoice source and the
// aggregator built. htlc_accepted is answered asynchronously; every other
// method is answered in the order it was received.
type Plugin struct {
	service.BaseService

	config       *config.Config
	in           io.Reader
	out          *lineWriter
	logger       *HostLogger
	openInvoices InvoiceSourceFunc

	aggregatorOptions []mpp.AggregatorOption
	handlerOptions    []mpp.HandlerOption

	ctx    context.Context
	cancel context.CancelFunc

	mtx        cmtsync.RWMutex
	invoices   mpp.InvoiceSource
	aggregator *mpp.Aggregator
	handler    *mpp.IngressHandler
	stopping   bool

	// in-flight htlc_accepted calls
	wg sync.WaitGroup

	done    chan struct{}
	readErr error
}

// NewPlugin returns a plugin reading requests from in and writing to out.
// cfg is modified by init.
func NewPlugin(
	cfg *config.Config,
	in io.Reader,
	out io.Writer,
	logger *HostLogger,
	openInvoices InvoiceSourceFunc,
	options ...Option,
) *Plugin {
	p := &Plugin{
		config:       cfg,
		in:           in,
		out:          newLineWriter(out),
		logger:       logger,
		openInvoices: openInvoices,
		done:         make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.BaseService = *service.NewBaseService(logger.With("module", "plugin"), "Plugin", p)
	for _, opt := range options {
		opt(p)
	}
	return p
}

// OnStart starts reading requests.
func (p *Plugin) OnStart() error {
	go p.readLoop()
	return nil
}

// OnStop fails every HTLC still held and flushes the pending responses.
// Requests read after this are ignored.
func (p *Plugin) OnStop() {
	p.mtx.Lock()
	p.stopping = true
	agg := p.aggregator
	p.mtx.Unlock()

	if agg != nil && agg.IsRunning() {
		if err := agg.Stop(); err != nil {
			p.Logger.Error("Error stopping aggregator", "err", err)
		}
	}
	// lookups still in progress give up and pass their HTLC through
	p.cancel()
	p.wg.Wait()

	p.logger.attach(nil)
	if err := p.out.Close(); err != nil {
		p.logger.Error("Error writing to node", "err", err)
	}
}

// Done is closed once the node closes the input, usually because it is
// shutting down.
func (p *Plugin) Done() <-chan struct{} {
	return p.done
}

// ReadErr returns the error that ended the read loop, if it was not EOF.
// Only valid once Done is closed.
func (p *Plugin) ReadErr() error {
	<-p.done
	return p.readErr
}

// Aggregator returns the aggregator, or nil before init.
func (p *Plugin) Aggregator() *mpp.Aggregator {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.aggregator
}

func (p *Plugin) readLoop() {
	defer close(p.done)

	scanner := bufio.NewScanner(p.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			// the node separates messages with a blank line
			continue
		}
		p.dispatch(line)
	}
	if err := scanner.Err(); err != nil {
		p.readErr = err
		p.logger.Error("Stopped reading from node", "err", err)
	}
}

func (p *Plugin) dispatch(line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		p.sendError(nullID(), newRPCError(CodeParseError, "Parse error", err))
		return
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		if !req.IsNotification() {
			p.sendError(req.ID, newRPCError(CodeInvalidRequest, "Invalid request", nil))
		}
		return
	}

	p.mtx.RLock()
	stopping := p.stopping
	p.mtx.RUnlock()
	if stopping {
		return
	}

	if req.Method == methodHTLCAccepted {
		p.handleHTLCAccepted(req)
		return
	}

	var (
		result interface{}
		rpcErr *RPCError
	)
	switch req.Method {
	case methodGetManifest:
		result = p.manifest()
	case methodInit:
		result, rpcErr = p.handleInit(req.Params)
	case methodStatus:
		result, rpcErr = p.handleStatus()
	case methodAddInvoice:
		result, rpcErr = p.handleAddInvoice(req.Params)
	case methodPay:
		rpcErr = newRPCError(CodeInternalError, "mppay is not implemented", nil)
	default:
		rpcErr = newRPCError(CodeMethodNotFound, "Method not found", fmt.Errorf("%s", req.Method))
	}

	if req.IsNotification() {
		return
	}
	if rpcErr != nil {
		p.sendError(req.ID, rpcErr)
		return
	}
	p.send(Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result})
}

func (p *Plugin) send(msg interface{}) {
	if err := p.out.Send(msg); err != nil && err != errWriterClosed {
		p.Logger.Error("Failed to send message to node", "err", err)
	}
}

func (p *Plugin) sendError(id json.RawMessage, rpcErr *RPCError) {
	p.send(Response{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr})
}

// notifyLog implements hostSink.
func (p *Plugin) notifyLog(level, message string) {
	//nolint:errcheck // nowhere left to report to
	p.out.Send(Notification{
		JSONRPC: jsonrpcVersion,
		Method:  "log",
		Params: map[string]string{
			"level":   level,
			"message": message,
		},
	})
}
