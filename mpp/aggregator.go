package mpp

import (
	"errors"
	"sort"
	"time"

	"github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/libs/service"
	"github.com/celestiaorg/mppay/types"
)

// ErrAggregatorStopped is returned for parts arriving while the aggregator
// is shutting down. Those parts are failed immediately.
var ErrAggregatorStopped = errors.New("aggregator stopped")

// AddResult tells the caller what happened to a part handed to Add.
type AddResult int

const (
	// Held means the part is waiting for the rest of its payment.
	Held AddResult = iota
	// Settled means the part completed its payment and every part was resolved.
	Settled
	// Rejected means the part was failed on arrival.
	Rejected
)

func (r AddResult) String() string {
	switch r {
	case Held:
		return "held"
	case Settled:
		return "settled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// AggregatorOption sets an optional parameter on the Aggregator.
type AggregatorOption func(*Aggregator)

// WithMetrics sets the aggregator's metrics collector.
func WithMetrics(metrics *Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = metrics }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator holds the parts of incomplete payments until they add up to the
// invoice amount, and fails them all if they don't within the configured
// timeout.
//
// For any payment hash, lookup-or-create, append, the completeness check and
// resolution happen under that payment's lock, and so does its timeout. The
// node therefore gets exactly one answer per HTLC and a payment is either
// resolved or failed as a whole.
type Aggregator struct {
	service.BaseService

	config  *config.MPPConfig
	metrics *Metrics
	now     func() time.Time

	table     *AggregatorTable
	scheduler *timeoutScheduler
}

// NewAggregator constructs an aggregator. It must be started before use.
func NewAggregator(cfg *config.MPPConfig, logger log.Logger, options ...AggregatorOption) (*Aggregator, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	table, err := NewAggregatorTable(cfg.ClosedCacheSize)
	if err != nil {
		return nil, err
	}

	a := &Aggregator{
		config:    cfg,
		metrics:   NopMetrics(),
		now:       time.Now,
		table:     table,
		scheduler: newTimeoutScheduler(cfg.HTLCTimeout),
	}
	a.BaseService = *service.NewBaseService(logger, "Aggregator", a)

	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// OnStop fails every part still held so no HTLC is left without an answer.
func (a *Aggregator) OnStop() {
	a.scheduler.Close()

	for _, agg := range a.table.all() {
		agg.mtx.Lock()
		if !agg.closed() {
			n := agg.failAll()
			a.Logger.Info("Failing payment on shutdown", "payment_hash", agg.Hash(), "parts", n)
			a.closePayment(agg, OutcomeFailed, n)
			a.metrics.FailedPayments.With("reason", "shutdown").Add(1)
			a.metrics.HeldParts.Add(-float64(n))
		}
		agg.mtx.Unlock()
	}
}

// Add hands one part of a payment for invoice to the aggregator. The handle
// is answered either before Add returns (Settled, Rejected) or later, when
// the payment completes or times out (Held).
func (a *Aggregator) Add(invoice types.Invoice, handle *Handle) (AddResult, error) {
	if !a.IsRunning() {
		handle.Respond(types.Fail())
		return Rejected, ErrAggregatorStopped
	}

	now := a.now()
	agg, created := a.table.acquire(invoice, now)
	defer agg.mtx.Unlock()

	if created {
		seq := agg.Seq()
		if !a.scheduler.Add(agg.Hash(), seq, func() { a.onTimeout(agg) }) {
			// stopping: the aggregate was created after OnStop closed the
			// scheduler, so nothing else will ever fail it
			agg.state.Store(uint32(StateFailed))
			a.table.remove(agg, OutcomeFailed, 0, now)
			handle.Respond(types.Fail())
			return Rejected, ErrAggregatorStopped
		}
		a.metrics.InFlightPayments.Add(1)
		a.Logger.Debug("Tracking new payment", "payment_hash", agg.Hash(), "seq", seq,
			"amount", invoice.Amount)
	}

	if err := agg.add(newPendingFragment(handle, now)); err != nil {
		// acquire only returns open aggregates
		panic(err)
	}
	a.metrics.HeldParts.Add(1)

	if !agg.isComplete() {
		a.Logger.Debug("Holding part", "payment_hash", agg.Hash(), "parts", agg.numParts(),
			"received", agg.received(), "target", agg.invoice.Amount)
		return Held, nil
	}

	received := agg.received()
	n := agg.resolveAll()
	a.scheduler.Cancel(agg.Hash(), agg.Seq())
	a.closePayment(agg, OutcomeResolved, n)

	a.metrics.HeldParts.Add(-float64(n))
	a.metrics.ResolvedPayments.Add(1)
	a.metrics.PartsPerPayment.Observe(float64(n))
	a.metrics.TimeToResolve.Observe(now.Sub(agg.created).Seconds())
	a.Logger.Info("Resolved payment", "payment_hash", agg.Hash(), "parts", n,
		"received", received, "target", agg.invoice.Amount)
	return Settled, nil
}

// onTimeout is run by the scheduler once the deadline of agg expires.
func (a *Aggregator) onTimeout(agg *PaymentAggregate) {
	agg.mtx.Lock()
	defer agg.mtx.Unlock()

	parts := agg.numParts()
	n := agg.onTimeout()
	if n == 0 {
		// already resolved or failed; drop an empty leftover, if any
		if !agg.closed() {
			agg.state.Store(uint32(StateFailed))
			a.closePayment(agg, OutcomeTimedOut, 0)
		}
		return
	}

	a.Logger.Info("Failing payment due to timeout", "payment_hash", agg.Hash(), "parts", parts,
		"timeout", a.config.HTLCTimeout)
	a.closePayment(agg, OutcomeTimedOut, n)
	a.metrics.HeldParts.Add(-float64(n))
	a.metrics.FailedPayments.With("reason", "timeout").Add(1)
}

// closePayment removes agg from the table. Must be called with agg.mtx held.
func (a *Aggregator) closePayment(agg *PaymentAggregate, outcome Outcome, parts int) {
	if a.table.remove(agg, outcome, parts, a.now()) {
		a.metrics.InFlightPayments.Add(-1)
	}
}

// Status returns the payments in flight, oldest first.
func (a *Aggregator) Status() []PaymentStatus {
	now := a.now()
	aggs := a.table.all()
	statuses := make([]PaymentStatus, 0, len(aggs))
	for _, agg := range aggs {
		agg.mtx.Lock()
		if !agg.closed() {
			statuses = append(statuses, agg.status(now))
		}
		agg.mtx.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Age > statuses[j].Age
	})
	return statuses
}

// Closed returns the recently closed payments, oldest first.
func (a *Aggregator) Closed() []ClosedPayment {
	return a.table.Closed()
}

// Table exposes the aggregator's table.
func (a *Aggregator) Table() *AggregatorTable {
	return a.table
}
