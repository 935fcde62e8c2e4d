package mpp

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	cmtsync "github.com/celestiaorg/mppay/libs/sync"
	"github.com/celestiaorg/mppay/types"
)

// Outcome is how a payment left the table.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
)

// ClosedPayment records a payment that is no longer in flight.
type ClosedPayment struct {
	PaymentHash types.PaymentHash
	Outcome     Outcome
	Parts       int
	ClosedAt    time.Time
}

// AggregatorTable maps payment hashes to the aggregate collecting their
// parts. It is the only place that decides whether a payment is in flight.
//
// Lock order: an aggregate lock may be held while taking the table lock, but
// the table lock is never held while taking an aggregate lock.
type AggregatorTable struct {
	mtx      cmtsync.Mutex
	payments map[types.PaymentHash]*PaymentAggregate
	nextSeq  uint64

	// recently closed payments, for diagnostics only. Never consulted when
	// deciding whether to open an aggregate.
	closed *lru.Cache[types.PaymentHash, ClosedPayment]
}

// NewAggregatorTable returns an empty table remembering up to closedSize
// closed payments.
func NewAggregatorTable(closedSize int) (*AggregatorTable, error) {
	closed, err := lru.New[types.PaymentHash, ClosedPayment](closedSize)
	if err != nil {
		return nil, err
	}
	return &AggregatorTable{
		payments: make(map[types.PaymentHash]*PaymentAggregate),
		closed:   closed,
	}, nil
}

// acquire returns the open aggregate for invoice.PaymentHash with its lock
// held, creating one if there is none or the current one is closed. created
// is true when the returned aggregate is new.
func (t *AggregatorTable) acquire(invoice types.Invoice, now time.Time) (agg *PaymentAggregate, created bool) {
	for {
		agg, created = t.getOrCreate(invoice, now)
		agg.mtx.Lock()
		if !agg.closed() {
			return agg, created
		}
		// closed between lookup and lock; the next lookup replaces it
		agg.mtx.Unlock()
	}
}

func (t *AggregatorTable) getOrCreate(invoice types.Invoice, now time.Time) (*PaymentAggregate, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if agg, ok := t.payments[invoice.PaymentHash]; ok && !agg.closed() {
		return agg, false
	}
	t.nextSeq++
	agg := newPaymentAggregate(t.nextSeq, invoice, now)
	t.payments[invoice.PaymentHash] = agg
	return agg, true
}

// remove deletes agg from the table if it is still the entry for its hash
// and records how it was closed.
func (t *AggregatorTable) remove(agg *PaymentAggregate, outcome Outcome, parts int, now time.Time) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	hash := agg.Hash()
	if t.payments[hash] != agg {
		return false
	}
	delete(t.payments, hash)
	t.closed.Add(hash, ClosedPayment{
		PaymentHash: hash,
		Outcome:     outcome,
		Parts:       parts,
		ClosedAt:    now,
	})
	return true
}

// Get returns the aggregate currently registered for hash, open or not.
func (t *AggregatorTable) Get(hash types.PaymentHash) *PaymentAggregate {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.payments[hash]
}

// Size returns the number of payments in flight.
func (t *AggregatorTable) Size() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.payments)
}

func (t *AggregatorTable) all() []*PaymentAggregate {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	aggs := make([]*PaymentAggregate, 0, len(t.payments))
	for _, agg := range t.payments {
		aggs = append(aggs, agg)
	}
	return aggs
}

// Closed returns the recently closed payments, oldest first.
func (t *AggregatorTable) Closed() []ClosedPayment {
	keys := t.closed.Keys()
	closed := make([]ClosedPayment, 0, len(keys))
	for _, key := range keys {
		if c, ok := t.closed.Peek(key); ok {
			closed = append(closed, c)
		}
	}
	return closed
}

// LastClosed returns how hash was last closed, if it is still remembered.
func (t *AggregatorTable) LastClosed(hash types.PaymentHash) (ClosedPayment, bool) {
	return t.closed.Peek(hash)
}
