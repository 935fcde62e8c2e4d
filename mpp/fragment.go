package mpp

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/celestiaorg/mppay/types"
)

// ErrAlreadyResponded is the panic value raised when an HTLC is answered a
// second time.
var ErrAlreadyResponded = errors.New("htlc already responded to")

// Responder delivers the decision for one HTLC back to the node.
type Responder interface {
	Respond(types.Decision)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(types.Decision)

func (f ResponderFunc) Respond(d types.Decision) { f(d) }

// Handle is the single-use capability to answer the node about one HTLC.
// Responding twice is a programming error and panics.
type Handle struct {
	htlc      types.HTLC
	responder Responder
	used      atomic.Bool
}

func NewHandle(htlc types.HTLC, responder Responder) *Handle {
	return &Handle{htlc: htlc, responder: responder}
}

// Respond sends d to the node.
func (h *Handle) Respond(d types.Decision) {
	if !h.used.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("%v: %v (%v)", ErrAlreadyResponded, h.htlc, d))
	}
	h.responder.Respond(d)
}

// Used reports whether the handle has been consumed.
func (h *Handle) Used() bool { return h.used.Load() }

// PendingFragment is an HTLC being held until its payment completes, fails
// or times out.
type PendingFragment struct {
	htlc    types.HTLC
	handle  *Handle
	arrived time.Time
}

func newPendingFragment(handle *Handle, arrived time.Time) *PendingFragment {
	return &PendingFragment{
		htlc:    handle.htlc,
		handle:  handle,
		arrived: arrived,
	}
}

func (f *PendingFragment) HTLC() types.HTLC { return f.htlc }

func (f *PendingFragment) Amount() types.MilliSatoshi { return f.htlc.Amount }
