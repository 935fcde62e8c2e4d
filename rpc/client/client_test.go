package client

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/mppay/types"
)

type fakeRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

// fakeNode answers requests on a unix socket with reply.
type fakeNode struct {
	path     string
	listener net.Listener
	wg       sync.WaitGroup

	mtx      sync.Mutex
	requests []fakeRequest
}

func newFakeNode(t *testing.T, reply func(req fakeRequest) interface{}) *fakeNode {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lightning-rpc")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	n := &fakeNode{path: path, listener: listener}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				defer conn.Close()
				var req fakeRequest
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				n.mtx.Lock()
				n.requests = append(n.requests, req)
				n.mtx.Unlock()

				resp := reply(req)
				if resp == nil {
					// hang until the client gives up
					conn.Read(make([]byte, 1)) //nolint:errcheck
					return
				}
				bz, _ := json.Marshal(resp)
				conn.Write(append(bz, '\n', '\n')) //nolint:errcheck
			}()
		}
	}()
	return n
}

func (n *fakeNode) close() {
	n.listener.Close()
	n.wg.Wait()
}

func result(id uint64, res interface{}) map[string]interface{} {
	return map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": res}
}

func TestLookupFindsInvoice(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	preimage, err := types.RandPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	node := newFakeNode(t, func(req fakeRequest) interface{} {
		return result(req.ID, map[string]interface{}{
			"invoices": []map[string]interface{}{{
				"label":            "coffee",
				"payment_hash":     hash.String(),
				"amount_msat":      "1000msat",
				"status":           "unpaid",
				"payment_preimage": preimage.String(),
			}},
		})
	})
	defer node.close()
	c := New(node.path, time.Second, nil)

	inv, ok, err := c.Lookup(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.Invoice{
		PaymentHash: hash,
		Amount:      1000,
		Preimage:    preimage,
		Label:       "coffee",
		Status:      types.InvoiceUnpaid,
	}, inv)
	require.NoError(t, inv.ValidateBasic())

	node.mtx.Lock()
	defer node.mtx.Unlock()
	require.Len(t, node.requests, 1)
	require.Equal(t, "listinvoices", node.requests[0].Method)
	require.Equal(t, hash.String(), node.requests[0].Params["payment_hash"])
}

func TestLookupLegacyAmount(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	preimage, err := types.RandPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	node := newFakeNode(t, func(req fakeRequest) interface{} {
		return result(req.ID, map[string]interface{}{
			"invoices": []map[string]interface{}{{
				"payment_hash":     hash.String(),
				"msatoshi":         2500,
				"status":           "unpaid",
				"payment_preimage": preimage.String(),
			}},
		})
	})
	defer node.close()

	inv, ok, err := New(node.path, time.Second, nil).Lookup(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.MilliSatoshi(2500), inv.Amount)
}

func TestLookupNotFound(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	preimage, err := types.RandPreimage()
	require.NoError(t, err)
	hash := preimage.Hash()

	testCases := []struct {
		name     string
		invoices []map[string]interface{}
	}{
		{"no invoices", []map[string]interface{}{}},
		{"no preimage", []map[string]interface{}{{
			"payment_hash": hash.String(),
			"amount_msat":  1000,
			"status":       "unpaid",
		}}},
		{"any amount", []map[string]interface{}{{
			"payment_hash":     hash.String(),
			"status":           "unpaid",
			"payment_preimage": preimage.String(),
		}}},
		{"other hash", []map[string]interface{}{{
			"payment_hash":     types.PaymentHash{0x01}.String(),
			"amount_msat":      1000,
			"status":           "unpaid",
			"payment_preimage": preimage.String(),
		}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			node := newFakeNode(t, func(req fakeRequest) interface{} {
				return result(req.ID, map[string]interface{}{"invoices": tc.invoices})
			})
			defer node.close()
			_, ok, err := New(node.path, time.Second, nil).Lookup(context.Background(), hash)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestCallReturnsNodeError(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	node := newFakeNode(t, func(req fakeRequest) interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32601, "message": "Unknown command"},
		}
	})
	defer node.close()

	_, _, err := New(node.path, time.Second, nil).Lookup(context.Background(), types.PaymentHash{0x02})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestCallMismatchedID(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	node := newFakeNode(t, func(req fakeRequest) interface{} {
		return result(req.ID+1, map[string]interface{}{"invoices": []interface{}{}})
	})
	defer node.close()
	_, _, err := New(node.path, time.Second, nil).Lookup(context.Background(), types.PaymentHash{0x03})
	require.Error(t, err)
}

func TestCallTimesOut(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	node := newFakeNode(t, func(fakeRequest) interface{} { return nil })
	defer node.close()

	c := New(node.path, 50*time.Millisecond, nil)
	_, _, err := c.Lookup(context.Background(), types.PaymentHash{0x04})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// cancellation without a deadline
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, _, err = New(node.path, 0, nil).Lookup(ctx, types.PaymentHash{0x04})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCallNoSocket(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing"), time.Second, nil)
	_, _, err := c.Lookup(context.Background(), types.PaymentHash{0x05})
	require.Error(t, err)
}
