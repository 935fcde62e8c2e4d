package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/mppay/config"
	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/mpp"
	"github.com/celestiaorg/mppay/types"
)

const waitTimeout = 2 * time.Second

// message is any line the plugin writes.
type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type logParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// session drives a Plugin over in-memory pipes.
type session struct {
	t      *testing.T
	cfg    *config.Config
	plugin *Plugin

	inW  *io.PipeWriter
	outW *io.PipeWriter

	msgs   chan message
	readWG sync.WaitGroup

	// responses read while waiting for another id
	stash map[string]message
	logs  []logParams
}

func newSession(t *testing.T, invoices mpp.InvoiceSource, options ...Option) *session {
	t.Helper()

	cfg := config.TestConfig()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	logger, err := NewHostLogger(log.NewNopLogger(), "info")
	require.NoError(t, err)

	open := func(*config.Config) (mpp.InvoiceSource, error) {
		if invoices == nil {
			return nil, fmt.Errorf("no invoice source")
		}
		return invoices, nil
	}

	s := &session{
		t:     t,
		cfg:   cfg,
		inW:   inW,
		outW:  outW,
		msgs:  make(chan message, 1024),
		stash: make(map[string]message),
	}
	s.plugin = NewPlugin(cfg, inR, outW, logger, open, options...)

	s.readWG.Add(1)
	go func() {
		defer s.readWG.Done()
		defer close(s.msgs)
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			var m message
			if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
				t.Errorf("plugin wrote invalid JSON %q: %v", scanner.Text(), err)
				continue
			}
			s.msgs <- m
		}
	}()

	require.NoError(t, s.plugin.Start())
	return s
}

// close ends the session: the node goes away, then the plugin is stopped.
func (s *session) close() {
	s.inW.Close()
	<-s.plugin.Done()
	if s.plugin.IsRunning() {
		require.NoError(s.t, s.plugin.Stop())
	}
	s.outW.Close()
	s.readWG.Wait()
}

func (s *session) writeLine(line string) {
	s.t.Helper()
	_, err := io.WriteString(s.inW, line+"\n")
	require.NoError(s.t, err)
}

func (s *session) call(id int, method string, params interface{}) {
	s.t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	bz, err := json.Marshal(req)
	require.NoError(s.t, err)
	s.writeLine(string(bz))
}

// response waits for the response to id. Log notifications read meanwhile
// are kept in s.logs.
func (s *session) response(id int) message {
	s.t.Helper()
	return s.responseKey(strconv.Itoa(id))
}

// responseKey waits for the response whose raw id is key.
func (s *session) responseKey(key string) message {
	s.t.Helper()
	if m, ok := s.stash[key]; ok {
		delete(s.stash, key)
		return m
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case m, ok := <-s.msgs:
			require.True(s.t, ok, "output closed while waiting for response %s", key)
			if m.Method == "log" {
				s.recordLog(m)
				continue
			}
			if string(m.ID) == key {
				return m
			}
			s.stash[string(m.ID)] = m
		case <-deadline:
			s.t.Fatalf("timed out waiting for response %s", key)
		}
	}
}

// noResponse asserts that nothing but log notifications arrives for d.
func (s *session) noResponse(d time.Duration) {
	s.t.Helper()
	timeout := time.After(d)
	for {
		select {
		case m := <-s.msgs:
			require.Equal(s.t, "log", m.Method, "unexpected message %+v", m)
			s.recordLog(m)
		case <-timeout:
			return
		}
	}
}

func (s *session) recordLog(m message) {
	var lp logParams
	require.NoError(s.t, json.Unmarshal(m.Params, &lp))
	s.logs = append(s.logs, lp)
}

func (s *session) decision(id int) types.Decision {
	s.t.Helper()
	m := s.response(id)
	require.Nil(s.t, m.Error, "response %d is an error", id)
	var d struct {
		Result     types.DecisionResult `json:"result"`
		PaymentKey *types.Preimage      `json:"payment_key"`
	}
	require.NoError(s.t, json.Unmarshal(m.Result, &d))
	return types.Decision{Result: d.Result, PaymentKey: d.PaymentKey}
}

func (s *session) init(options map[string]string) {
	s.t.Helper()
	s.call(0, "init", map[string]interface{}{
		"options": options,
		"configuration": map[string]string{
			"lightning-dir": s.t.TempDir(),
			"rpc-file":      "lightning-rpc",
		},
	})
	m := s.response(0)
	require.Nil(s.t, m.Error)
	require.JSONEq(s.t, `{}`, string(m.Result))
}

func htlcRequestParams(hash types.PaymentHash, id uint64, amount interface{}) map[string]interface{} {
	return map[string]interface{}{
		"onion": map[string]string{"payload": ""},
		"htlc": map[string]interface{}{
			"payment_hash":     hash.String(),
			"amount_msat":      amount,
			"cltv_expiry":      800000,
			"short_channel_id": "103x1x0",
			"id":               id,
		},
	}
}

// memInvoices is an in-memory InvoiceSource.
type memInvoices struct {
	mtx      sync.Mutex
	invoices map[types.PaymentHash]types.Invoice
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
	inv, ok := m.invoices[hash]
	return inv, ok, nil
}

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
