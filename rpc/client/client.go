// Package client queries the node over its JSON-RPC unix socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/celestiaorg/mppay/libs/log"
	"github.com/celestiaorg/mppay/types"
)

// RPCError is an error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d - %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client calls the node's RPC methods. Every call opens its own connection,
// so a Client is safe for concurrent use.
type Client struct {
	path    string
	timeout time.Duration
	logger  log.Logger

	nextID atomic.Uint64
}

// New returns a client for the socket at path. timeout bounds each call
// unless the context passed to it expires sooner; zero means no bound.
func New(path string, timeout time.Duration, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		path:    path,
		timeout: timeout,
		logger:  logger,
	}
}

// Call invokes method with params and decodes the result into result.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	// unblock the read when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) }) //nolint:errcheck
	defer stop()

	id := c.nextID.Add(1)
	if err := json.NewEncoder(conn).Encode(request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}); err != nil {
		return c.ctxErr(ctx, fmt.Errorf("write %s request: %w", method, err))
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return c.ctxErr(ctx, fmt.Errorf("read %s response: %w", method, err))
	}
	if resp.ID != id {
		return fmt.Errorf("%s: response id %d does not match request id %d", method, resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	// the socket deadline can expire just before the context does
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

//-----------------------------------------------------------------------------
// listinvoices

type listInvoicesResult struct {
	Invoices []listedInvoice `json:"invoices"`
}

type listedInvoice struct {
	Label           string              `json:"label"`
	PaymentHash     types.PaymentHash   `json:"payment_hash"`
	AmountMsat      *types.MilliSatoshi `json:"amount_msat"`
	Msatoshi        *types.MilliSatoshi `json:"msatoshi"`
	Status          types.InvoiceStatus `json:"status"`
	PaymentPreimage *types.Preimage     `json:"payment_preimage"`
}

var errNoPreimage = errors.New("invoice does not expose its preimage")

func (li listedInvoice) toInvoice() (types.Invoice, error) {
	amount := li.AmountMsat
	if amount == nil {
		amount = li.Msatoshi
	}
	if amount == nil {
		// "any" amount invoices cannot be aggregated
		return types.Invoice{}, errors.New("invoice has no amount")
	}
	if li.PaymentPreimage == nil {
		return types.Invoice{}, errNoPreimage
	}
	return types.Invoice{
		PaymentHash: li.PaymentHash,
		Amount:      *amount,
		Preimage:    *li.PaymentPreimage,
		Label:       li.Label,
		Status:      li.Status,
	}, nil
}

// ListInvoices returns the node's invoices for hash. Invoices that cannot
// be settled by the plugin are left out.
func (c *Client) ListInvoices(ctx context.Context, hash types.PaymentHash) ([]types.Invoice, error) {
	var res listInvoicesResult
	params := map[string]interface{}{"payment_hash": hash.String()}
	if err := c.Call(ctx, "listinvoices", params, &res); err != nil {
		return nil, err
	}

	invoices := make([]types.Invoice, 0, len(res.Invoices))
	for _, li := range res.Invoices {
		inv, err := li.toInvoice()
		if err != nil {
			c.logger.Debug("Skipping invoice", "payment_hash", li.PaymentHash, "label", li.Label, "reason", err)
			continue
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// Lookup implements mpp.InvoiceSource on top of listinvoices.
func (c *Client) Lookup(ctx context.Context, hash types.PaymentHash) (types.Invoice, bool, error) {
	invoices, err := c.ListInvoices(ctx, hash)
	if err != nil {
		return types.Invoice{}, false, err
	}
	for _, inv := range invoices {
		if inv.PaymentHash == hash {
			return inv, true, nil
		}
	}
	return types.Invoice{}, false, nil
}
