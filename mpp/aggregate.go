package mpp

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	cmtsync "github.com/celestiaorg/mppay/libs/sync"
	"github.com/celestiaorg/mppay/types"
)

// ErrAggregateClosed is returned when adding a part to a payment that has
// already been resolved or failed.
var ErrAggregateClosed = errors.New("payment already closed")

// DecisionState is the lifecycle of a PaymentAggregate. It leaves Pending
// exactly once.
type DecisionState uint32

const (
	StatePending DecisionState = iota
	StateResolved
	StateFailed
)

func (s DecisionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("DecisionState(%d)", uint32(s))
	}
}

// PaymentAggregate collects the parts received for one payment hash.
//
// All methods except Hash, Seq and State must be called with mtx held. state
// is written under mtx but may be read without it, which lets the table spot
// closed aggregates without taking their lock.
type PaymentAggregate struct {
	mtx cmtsync.Mutex

	// immutable
	seq     uint64
	invoice types.Invoice
	created time.Time

	state atomic.Uint32
	parts []*PendingFragment
}

func newPaymentAggregate(seq uint64, invoice types.Invoice, created time.Time) *PaymentAggregate {
	return &PaymentAggregate{
		seq:     seq,
		invoice: invoice,
		created: created,
	}
}

// Hash returns the payment hash the aggregate collects parts for.
func (a *PaymentAggregate) Hash() types.PaymentHash { return a.invoice.PaymentHash }

// Seq distinguishes successive aggregates for the same payment hash.
func (a *PaymentAggregate) Seq() uint64 { return a.seq }

func (a *PaymentAggregate) State() DecisionState { return DecisionState(a.state.Load()) }

func (a *PaymentAggregate) closed() bool { return a.State() != StatePending }

func (a *PaymentAggregate) add(f *PendingFragment) error {
	if a.closed() {
		return ErrAggregateClosed
	}
	a.parts = append(a.parts, f)
	return nil
}

// received sums the parts currently held, saturating at the largest
// representable amount rather than wrapping.
func (a *PaymentAggregate) received() types.MilliSatoshi {
	var sum types.MilliSatoshi
	for _, p := range a.parts {
		amt := p.Amount()
		if sum > math.MaxUint64-amt {
			return math.MaxUint64
		}
		sum += amt
	}
	return sum
}

// isComplete reports whether the held parts cover the invoice amount.
func (a *PaymentAggregate) isComplete() bool {
	return a.received() >= a.invoice.Amount
}

func (a *PaymentAggregate) numParts() int { return len(a.parts) }

// resolveAll settles every held part with the invoice preimage and closes
// the aggregate. It returns the number of parts settled.
func (a *PaymentAggregate) resolveAll() int {
	return a.close(StateResolved, types.Resolve(a.invoice.Preimage))
}

// failAll rejects every held part and closes the aggregate. It returns the
// number of parts failed.
func (a *PaymentAggregate) failAll() int {
	return a.close(StateFailed, types.Fail())
}

func (a *PaymentAggregate) close(state DecisionState, decision types.Decision) int {
	if !a.state.CompareAndSwap(uint32(StatePending), uint32(state)) {
		return 0
	}
	n := len(a.parts)
	for _, p := range a.parts {
		p.handle.Respond(decision)
	}
	a.parts = nil
	return n
}

// onTimeout fails the aggregate unless it has already been closed or holds
// nothing. It returns the number of parts failed.
func (a *PaymentAggregate) onTimeout() int {
	if a.closed() || len(a.parts) == 0 {
		return 0
	}
	return a.failAll()
}

// status returns a point-in-time view. Must be called with mtx held.
func (a *PaymentAggregate) status(now time.Time) PaymentStatus {
	return PaymentStatus{
		PaymentHash: a.invoice.PaymentHash,
		Parts:       len(a.parts),
		Received:    a.received(),
		Target:      a.invoice.Amount,
		Age:         now.Sub(a.created),
		State:       a.State(),
	}
}

// PaymentStatus describes an in-flight payment.
type PaymentStatus struct {
	PaymentHash types.PaymentHash
	Parts       int
	Received    types.MilliSatoshi
	Target      types.MilliSatoshi
	Age         time.Duration
	State       DecisionState
}
