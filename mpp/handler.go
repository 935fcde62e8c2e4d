package mpp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/types"
)

const tracerName = "github.com/celestiaorg/mppay/mpp"

// InvoiceSource looks up the invoice for a payment hash. It must keep
// returning the same invoice for a hash while that payment is being
// aggregated.
type InvoiceSource interface {
	Lookup(ctx context.Context, hash types.PaymentHash) (types.Invoice, bool, error)
}

// HandlerOption sets an optional parameter on the IngressHandler.
type HandlerOption func(*IngressHandler)

// WithTracer sets the tracer spans are recorded with. Defaults to the global
// tracer provider.
func WithTracer(tracer trace.Tracer) HandlerOption {
	return func(h *IngressHandler) { h.tracer = tracer }
}

// WithLookupTimeout bounds a single invoice lookup.
func WithLookupTimeout(d time.Duration) HandlerOption {
	return func(h *IngressHandler) { h.lookupTimeout = d }
}

// WithHandlerMetrics sets the metrics pass-through and lookup errors are
// counted in.
func WithHandlerMetrics(metrics *Metrics) HandlerOption {
	return func(h *IngressHandler) { h.metrics = metrics }
}

// IngressHandler is called once for every HTLC the node offers. HTLCs
// without a usable invoice are passed through; the rest are handed to the
// Aggregator.
type IngressHandler struct {
	logger     log.Logger
	invoices   InvoiceSource
	aggregator *Aggregator
	metrics    *Metrics
	tracer     trace.Tracer

	lookupTimeout time.Duration
}

func NewIngressHandler(
	invoices InvoiceSource,
	aggregator *Aggregator,
	logger log.Logger,
	options ...HandlerOption,
) *IngressHandler {
	h := &IngressHandler{
		logger:        logger,
		invoices:      invoices,
		aggregator:    aggregator,
		metrics:       NopMetrics(),
		tracer:        otel.Tracer(tracerName),
		lookupTimeout: 10 * time.Second,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Handle decides what to do with htlc. responder is called exactly once,
// possibly after Handle has returned. Handle is safe for concurrent use and
// never blocks for longer than the invoice lookup.
func (h *IngressHandler) Handle(ctx context.Context, htlc types.HTLC, responder Responder) {
	ctx, span := h.tracer.Start(ctx, "mpp.Handle", trace.WithAttributes(
		attribute.String("payment_hash", htlc.PaymentHash.String()),
		attribute.Int64("amount_msat", int64(htlc.Amount)),
		attribute.String("scid", htlc.ShortChannelID),
	))
	defer span.End()

	handle := NewHandle(htlc, responder)

	invoice, ok := h.lookupInvoice(ctx, htlc.PaymentHash)
	if !ok {
		h.metrics.PassedThrough.Add(1)
		span.SetAttributes(attribute.String("result", string(types.ResultContinue)))
		handle.Respond(types.Continue())
		return
	}

	result, err := h.aggregator.Add(invoice, handle)
	if err != nil {
		h.logger.Error("Rejected HTLC", "htlc", htlc, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result", result.String()))
}

// lookupInvoice returns the invoice for hash if HTLCs for it should be
// aggregated. Lookup failures are logged and treated as no invoice.
func (h *IngressHandler) lookupInvoice(ctx context.Context, hash types.PaymentHash) (types.Invoice, bool) {
	if h.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.lookupTimeout)
		defer cancel()
	}

	invoice, ok, err := h.invoices.Lookup(ctx, hash)
	switch {
	case err != nil:
		h.metrics.InvoiceLookupErrors.Add(1)
		h.logger.Error("Invoice lookup failed, passing HTLC through", "payment_hash", hash, "err", err)
		return types.Invoice{}, false
	case !ok:
		h.logger.Debug("Could not find an invoice", "payment_hash", hash)
		return types.Invoice{}, false
	case !invoice.Payable():
		h.logger.Debug("Invoice not payable", "payment_hash", hash, "status", invoice.Status)
		return types.Invoice{}, false
	case invoice.PaymentHash != hash:
		h.logger.Error("Invoice source returned an invoice for another hash",
			"payment_hash", hash, "invoice_hash", invoice.PaymentHash)
		return types.Invoice{}, false
	}
	if err := invoice.ValidateBasic(); err != nil {
		h.logger.Error("Unusable invoice, passing HTLC through", "payment_hash", hash, "err", err)
		return types.Invoice{}, false
	}
	return invoice, true
}
