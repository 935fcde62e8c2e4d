package mpp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/types"
)

// recorder collects every decision sent to the responders it creates.
type recorder struct {
	mtx       sync.Mutex
	decisions map[uint64][]types.Decision
	notify    chan uint64
}

func newRecorder() *recorder {
	return &recorder{
		decisions: make(map[uint64][]types.Decision),
		notify:    make(chan uint64, 1024),
	}
}

func (r *recorder) responder(id uint64) Responder {
	return ResponderFunc(func(d types.Decision) {
		r.mtx.Lock()
		r.decisions[id] = append(r.decisions[id], d)
		r.mtx.Unlock()
		r.notify <- id
	})
}

func (r *recorder) get(id uint64) []types.Decision {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]types.Decision(nil), r.decisions[id]...)
}

func (r *recorder) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	n := 0
	for _, ds := range r.decisions {
		n += len(ds)
	}
	return n
}

// waitFor blocks until n more decisions have been recorded.
func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for decision %d of %d", i+1, n)
		}
	}
}

// memInvoices is an in-memory InvoiceSource.
type memInvoices struct {
	mtx      sync.Mutex
	invoices map[types.PaymentHash]types.Invoice
	err      error
	lookups  int
}

func newMemInvoices(invoices ...types.Invoice) *memInvoices {
	m := &memInvoices{invoices: make(map[types.PaymentHash]types.Invoice)}
	for _, inv := range invoices {
		m.invoices[inv.PaymentHash] = inv
	}
	return m
}

func (m *memInvoices) Lookup(_ context.Context, hash types.PaymentHash) (types.Invoice, bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.lookups++
	if m.err != nil {
		return types.Invoice{}, false, m.err
	}
	inv, ok := m.invoices[hash]
	return inv, ok, nil
}

var errLookup = errors.New("rpc unavailable")

func makeInvoice(t *testing.T, amount types.MilliSatoshi) types.Invoice {
	t.Helper()
	preimage, err := types.RandPreimage()
	require.NoError(t, err)
	return types.Invoice{
		PaymentHash: preimage.Hash(),
		Amount:      amount,
		Preimage:    preimage,
		Status:      types.InvoiceUnpaid,
	}
}

func makeHTLC(hash types.PaymentHash, id uint64, amount types.MilliSatoshi) types.HTLC {
	return types.HTLC{
		PaymentHash:    hash,
		Amount:         amount,
		CltvExpiry:     800000,
		ShortChannelID: "103x1x0",
		ID:             id,
	}
}

func newTestAggregator(t *testing.T, timeout time.Duration) *Aggregator {
	t.Helper()
	cfg := config.TestMPPConfig()
	cfg.HTLCTimeout = timeout
	agg, err := NewAggregator(cfg, log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, agg.Start())
	t.Cleanup(func() {
		if agg.IsRunning() {
			require.NoError(t, agg.Stop())
		}
	})
	return agg
}

func newTestHandler(t *testing.T, timeout time.Duration, invoices InvoiceSource) (*IngressHandler, *Aggregator) {
	t.Helper()
	agg := newTestAggregator(t, timeout)
	return NewIngressHandler(invoices, agg, log.NewNopLogger()), agg
}
