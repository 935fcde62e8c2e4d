package node

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/plugin"
	"github.com/celestiaorg/mppay/types"
)

const waitTimeout = 2 * time.Second

// host plays the Lightning node on the other end of the plugin's stdio.
type host struct {
	t    *testing.T
	node *Node

	inW  *io.PipeWriter
	outW *io.PipeWriter
	msgs chan map[string]json.RawMessage
	wg   sync.WaitGroup

	// responses read while waiting for another id
	stash map[string]map[string]json.RawMessage
}

func newHost(t *testing.T, config *cfg.Config, options ...Option) *host {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	logger, err := plugin.NewHostLogger(log.NewNopLogger(), config.LogLevel)
	require.NoError(t, err)

	options = append([]Option{CustomDBProvider(cfg.InMemDBProvider)}, options...)
	n, err := NewNode(config, logger, inR, outW, options...)
	require.NoError(t, err)

	h := &host{
		t:     t,
		node:  n,
		inW:   inW,
		outW:  outW,
		msgs:  make(chan map[string]json.RawMessage, 256),
		stash: make(map[string]map[string]json.RawMessage),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(h.msgs)
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			var m map[string]json.RawMessage
			if err := json.Unmarshal(scanner.Bytes(), &m); err == nil {
				h.msgs <- m
			}
		}
	}()

	require.NoError(t, n.Start())
	return h
}

// shutdown closes the plugin's stdin the way the node does on exit.
func (h *host) shutdown() {
	h.inW.Close()
	select {
	case <-h.node.Done():
	case <-time.After(waitTimeout):
		h.t.Fatal("plugin did not notice its input was closed")
	}
	require.NoError(h.t, h.node.Stop())
	h.outW.Close()
	h.wg.Wait()
}

func (h *host) call(id int, method string, params interface{}) {
	h.t.Helper()
	bz, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	require.NoError(h.t, err)
	_, err = h.inW.Write(append(bz, '\n', '\n'))
	require.NoError(h.t, err)
}

// message returns the raw reply to call id. HTLC answers are written by
// whichever goroutine settles the payment, so replies to other ids read
// meanwhile are stashed; notifications are skipped.
func (h *host) message(id int) map[string]json.RawMessage {
	h.t.Helper()
	key := strconv.Itoa(id)
	if m, ok := h.stash[key]; ok {
		delete(h.stash, key)
		return m
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case m, ok := <-h.msgs:
			require.True(h.t, ok, "plugin output closed")
			rawID, isReply := m["id"]
			if !isReply {
				continue
			}
			if string(rawID) == key {
				return m
			}
			h.stash[string(rawID)] = m
		case <-deadline:
			h.t.Fatalf("no response to %d", id)
		}
	}
}

// response returns the result of call id, failing the test on an error reply.
func (h *host) response(id int) json.RawMessage {
	h.t.Helper()
	m := h.message(id)
	require.Nil(h.t, m["error"], "call %d failed: %s", id, m["error"])
	return m["result"]
}

func (h *host) init(lightningDir string) {
	h.t.Helper()
	h.call(0, "init", map[string]interface{}{
		"options": map[string]string{"mpp-timeout": "60"},
		"configuration": map[string]string{
			"lightning-dir": lightningDir,
			"rpc-file":      "lightning-rpc",
		},
	})
	h.response(0)
}

func htlcParams(hash types.PaymentHash, id uint64, amount types.MilliSatoshi) map[string]interface{} {
	return map[string]interface{}{
		"onion": map[string]string{},
		"htlc": map[string]interface{}{
			"payment_hash": hash.String(),
			"amount_msat":  amount.String(),
			"cltv_expiry":  500,
			"id":           id,
		},
	}
}

func decisionOf(t *testing.T, raw json.RawMessage) types.DecisionResult {
	t.Helper()
	var d struct {
		Result types.DecisionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &d))
	return d.Result
}

func TestHostMatchesRepliesOutOfOrder(t *testing.T) {
	h := &host{
		t:     t,
		msgs:  make(chan map[string]json.RawMessage, 4),
		stash: make(map[string]map[string]json.RawMessage),
	}
	reply := func(id, result string) map[string]json.RawMessage {
		return map[string]json.RawMessage{
			"id":     json.RawMessage(id),
			"result": json.RawMessage(`{"result":"` + result + `"}`),
		}
	}
	h.msgs <- reply("3", "fail")
	h.msgs <- map[string]json.RawMessage{"method": json.RawMessage(`"log"`)}
	h.msgs <- reply("1", "resolve")
	h.msgs <- reply("2", "continue")

	assert.Equal(t, types.ResultContinue, decisionOf(t, h.response(2)))
	assert.Equal(t, types.ResultResolve, decisionOf(t, h.response(1)))
	assert.Equal(t, types.ResultFail, decisionOf(t, h.response(3)))
	assert.Empty(t, h.stash)
}

func TestNodeSettlesPaymentFromLocalInvoices(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	h := newHost(t, config)
	h.init(t.TempDir())

	h.call(1, "mpp-addinvoice", map[string]interface{}{"amount_msat": 1000})
	var added plugin.AddInvoiceResult
	require.NoError(t, json.Unmarshal(h.response(1), &added))

	h.call(2, "htlc_accepted", htlcParams(added.PaymentHash, 1, 400))
	h.call(3, "htlc_accepted", htlcParams(added.PaymentHash, 2, 600))
	assert.Equal(t, types.ResultResolve, decisionOf(t, h.response(2)))
	assert.Equal(t, types.ResultResolve, decisionOf(t, h.response(3)))

	invoices, err := h.node.InvoiceStore().List()
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	h.shutdown()
}

func TestNodeStopFailsHeldParts(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	h := newHost(t, config)
	h.init(t.TempDir())

	h.call(1, "mpp-addinvoice", map[string]interface{}{"amount_msat": 1000})
	var added plugin.AddInvoiceResult
	require.NoError(t, json.Unmarshal(h.response(1), &added))

	h.call(2, "htlc_accepted", htlcParams(added.PaymentHash, 1, 400))
	require.Eventually(t, func() bool {
		return len(h.node.Plugin().Aggregator().Status()) == 1
	}, waitTimeout, 5*time.Millisecond)

	h.shutdown()
	assert.Equal(t, types.ResultFail, decisionOf(t, h.response(2)))
}

// fakeLightningRPC answers listinvoices for the given invoices.
func fakeLightningRPC(t *testing.T, dir string, invoices ...types.Invoice) func() {
	t.Helper()
	l, err := net.Listen("unix", filepath.Join(dir, "lightning-rpc"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			var req struct {
				ID     uint64            `json:"id"`
				Params map[string]string `json:"params"`
			}
			if err := json.NewDecoder(conn).Decode(&req); err == nil {
				found := []map[string]interface{}{}
				for _, inv := range invoices {
					if inv.PaymentHash.String() == req.Params["payment_hash"] {
						found = append(found, map[string]interface{}{
							"payment_hash":     inv.PaymentHash,
							"amount_msat":      inv.Amount.String(),
							"status":           "unpaid",
							"payment_preimage": inv.Preimage,
						})
					}
				}
				bz, _ := json.Marshal(map[string]interface{}{
					"jsonrpc": "2.0",
					"id":      req.ID,
					"result":  map[string]interface{}{"invoices": found},
				})
				conn.Write(append(bz, '\n', '\n')) //nolint:errcheck
			}
			conn.Close()
		}
	}()
	return func() {
		l.Close()
		wg.Wait()
	}
}

func TestNodeSettlesPaymentFromNodeInvoices(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	preimage, err := types.RandPreimage()
	require.NoError(t, err)
	inv := types.Invoice{PaymentHash: preimage.Hash(), Amount: 3000, Preimage: preimage}

	lightningDir := t.TempDir()
	stop := fakeLightningRPC(t, lightningDir, inv)
	defer stop()

	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.InvoiceSource = cfg.InvoiceSourceRPC
	h := newHost(t, config)
	require.Nil(t, h.node.InvoiceStore())
	h.init(lightningDir)
	require.Equal(t, filepath.Join(lightningDir, "lightning-rpc"), config.RPC.RPCPath())

	for i := uint64(1); i <= 3; i++ {
		h.call(int(i), "htlc_accepted", htlcParams(inv.PaymentHash, i, 1000))
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, types.ResultResolve, decisionOf(t, h.response(i)))
	}

	// unknown to the node
	h.call(4, "htlc_accepted", htlcParams(types.PaymentHash{0x09}, 4, 1000))
	assert.Equal(t, types.ResultContinue, decisionOf(t, h.response(4)))

	// node invoices can't be added through the plugin
	h.call(5, "mpp-addinvoice", map[string]interface{}{"amount_msat": 1000})
	require.NotNil(t, h.message(5)["error"])

	h.shutdown()
}

func TestNodeTracingAndMetrics(t *testing.T) {
	var spans bytes.Buffer
	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.Instrumentation.Tracing = true
	config.Instrumentation.Prometheus = true
	config.Instrumentation.PrometheusListenAddr = "127.0.0.1:0"

	h := newHost(t, config, WithTraceWriter(&spans))
	h.init(t.TempDir())

	h.call(1, "mpp-addinvoice", map[string]interface{}{"amount_msat": 1000})
	var added plugin.AddInvoiceResult
	require.NoError(t, json.Unmarshal(h.response(1), &added))
	h.call(2, "htlc_accepted", htlcParams(added.PaymentHash, 1, 1000))
	assert.Equal(t, types.ResultResolve, decisionOf(t, h.response(2)))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "mppay_mpp_resolved_payments")

	// spans are flushed on shutdown
	h.shutdown()
	assert.Contains(t, spans.String(), "mpp.Handle")
}

func TestNewNodeRejectsInvalidConfig(t *testing.T) {
	config := cfg.TestConfig().SetRoot(t.TempDir())
	config.InvoiceSource = "carrier-pigeon"

	logger, err := plugin.NewHostLogger(log.NewNopLogger(), "info")
	require.NoError(t, err)
	_, err = NewNode(config, logger, bytes.NewReader(nil), io.Discard)
	require.Error(t, err)
}
