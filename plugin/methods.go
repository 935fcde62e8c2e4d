package plugin

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/celestiaorg/mppay/mpp"
	"github.com/celestiaorg/mppay/types"
)

// InvoiceSaver is implemented by invoice sources that accept new invoices,
// enabling mpp-addinvoice.
type InvoiceSaver interface {
	Save(inv types.Invoice) error
}

func (p *Plugin) manifest() Manifest {
	return Manifest{
		Options: []ManifestOption{
			{
				Name:        optionTimeout,
				Type:        "string",
				Default:     formatTimeout(p.config.MPP.HTLCTimeout),
				Description: "Seconds to hold the parts of an incomplete payment before failing all of them",
			},
			{
				Name:        optionLogLevel,
				Type:        "string",
				Default:     p.config.LogLevel,
				Description: "Plugin log level: debug, info, error or none",
			},
		},
		RPCMethods: []RPCMethod{
			{
				Name:        methodStatus,
				Usage:       "",
				Description: "List the multi-part payments being aggregated and the recently closed ones",
			},
			{
				Name:        methodAddInvoice,
				Usage:       "amount_msat [label] [preimage]",
				Description: "Register an invoice whose parts are aggregated by this plugin",
			},
			{
				Name:        methodPay,
				Usage:       "bolt11",
				Description: "Pay an invoice in multiple parts (not implemented)",
			},
		},
		Subscriptions: []string{},
		Hooks:         []string{methodHTLCAccepted},
		Dynamic:       false,
	}
}

func (p *Plugin) handleInit(params json.RawMessage) (interface{}, *RPCError) {
	p.mtx.RLock()
	initialized := p.aggregator != nil
	p.mtx.RUnlock()
	if initialized {
		return nil, newRPCError(CodeInvalidRequest, "Already initialized", nil)
	}

	var ip InitParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &ip); err != nil {
			return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
		}
	}

	cfg := p.config
	if s, ok, err := ip.optionString(optionTimeout); err != nil {
		return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
	} else if ok {
		timeout, err := parseTimeout(s)
		if err != nil {
			return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
		}
		cfg.MPP.HTLCTimeout = timeout
	}
	if s, ok, err := ip.optionString(optionLogLevel); err != nil {
		return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
	} else if ok {
		if err := p.logger.SetLevel(s); err != nil {
			return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
		}
		cfg.LogLevel = s
	}
	if dir := ip.Configuration.LightningDir; dir != "" {
		cfg.RPC.LightningDir = dir
	}
	if file := ip.Configuration.RPCFile; file != "" {
		cfg.RPC.RPCFile = file
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, newRPCError(CodeInvalidParams, "Invalid configuration", err)
	}

	invoices, err := p.openInvoices(cfg)
	if err != nil {
		return nil, newRPCError(CodeInternalError, "Failed to open invoice source", err)
	}

	mppLogger := p.logger.With("module", "mpp")
	agg, err := mpp.NewAggregator(cfg.MPP, mppLogger, p.aggregatorOptions...)
	if err != nil {
		return nil, newRPCError(CodeInvalidParams, "Invalid configuration", err)
	}
	if err := agg.Start(); err != nil {
		return nil, newRPCError(CodeInternalError, "Failed to start aggregator", err)
	}
	handler := mpp.NewIngressHandler(invoices, agg, mppLogger, p.handlerOptions...)

	p.mtx.Lock()
	p.invoices = invoices
	p.aggregator = agg
	p.handler = handler
	p.mtx.Unlock()

	p.logger.attach(p)
	p.Logger.Info("Plugin initialized", "timeout", cfg.MPP.HTLCTimeout,
		"invoice_source", cfg.InvoiceSource, "lightning_dir", cfg.RPC.LightningDir)
	return map[string]interface{}{}, nil
}

func (p *Plugin) handleHTLCAccepted(req Request) {
	if req.IsNotification() {
		return
	}
	htlc, err := parseHTLC(req.Params)
	if err != nil {
		p.sendError(req.ID, newRPCError(CodeInvalidParams, "Invalid params", err))
		return
	}

	respond := mpp.ResponderFunc(func(d types.Decision) {
		p.send(Response{JSONRPC: jsonrpcVersion, ID: req.ID, Result: d})
	})

	p.mtx.RLock()
	handler := p.handler
	if handler == nil || p.stopping {
		p.mtx.RUnlock()
		// not ours to hold
		respond(types.Continue())
		return
	}
	p.wg.Add(1)
	p.mtx.RUnlock()

	go func() {
		defer p.wg.Done()
		handler.Handle(p.ctx, htlc, respond)
	}()
}

func (p *Plugin) handleStatus() (interface{}, *RPCError) {
	agg := p.Aggregator()
	if agg == nil {
		return nil, newRPCError(CodeNotReady, "Plugin not initialized", nil)
	}

	res := StatusResult{
		Payments: []PaymentStatus{},
		Closed:   []ClosedPayment{},
	}
	for _, s := range agg.Status() {
		res.Payments = append(res.Payments, PaymentStatus{
			PaymentHash: s.PaymentHash,
			Parts:       s.Parts,
			Received:    s.Received,
			Target:      s.Target,
			Age:         s.Age.Round(time.Millisecond).String(),
		})
	}
	for _, c := range agg.Closed() {
		res.Closed = append(res.Closed, ClosedPayment{
			PaymentHash: c.PaymentHash,
			Outcome:     string(c.Outcome),
			Parts:       c.Parts,
			ClosedAt:    c.ClosedAt,
		})
	}
	return res, nil
}

var errNoInvoiceSaver = errors.New("the configured invoice source does not accept invoices")

func (p *Plugin) handleAddInvoice(params json.RawMessage) (interface{}, *RPCError) {
	p.mtx.RLock()
	invoices := p.invoices
	p.mtx.RUnlock()
	if invoices == nil {
		return nil, newRPCError(CodeNotReady, "Plugin not initialized", nil)
	}
	saver, ok := invoices.(InvoiceSaver)
	if !ok {
		return nil, newRPCError(CodeInvalidRequest, "Invalid request", errNoInvoiceSaver)
	}

	args, err := parseAddInvoice(params)
	if err != nil {
		return nil, newRPCError(CodeInvalidParams, "Invalid params", err)
	}
	var preimage types.Preimage
	if args.Preimage != nil {
		preimage = *args.Preimage
	} else if preimage, err = types.RandPreimage(); err != nil {
		return nil, newRPCError(CodeInternalError, "Internal error", err)
	}

	inv := types.Invoice{
		PaymentHash: preimage.Hash(),
		Amount:      *args.AmountMsat,
		Preimage:    preimage,
		Label:       args.Label,
		Status:      types.InvoiceUnpaid,
	}
	if err := saver.Save(inv); err != nil {
		return nil, newRPCError(CodeInvalidParams, "Failed to save invoice", err)
	}
	p.Logger.Info("Added invoice", "payment_hash", inv.PaymentHash, "amount", inv.Amount, "label", inv.Label)
	return AddInvoiceResult{
		PaymentHash: inv.PaymentHash,
		AmountMsat:  inv.Amount,
		Label:       inv.Label,
	}, nil
}
