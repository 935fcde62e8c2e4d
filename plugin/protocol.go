package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/celestiaorg/mppay/types"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeNotReady is returned for calls that need init to have completed.
	CodeNotReady = -1
)

// Request is a JSON-RPC 2.0 request or notification. ID is kept raw so it
// can be echoed back unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the sender expects no response.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an outgoing JSON-RPC 2.0 notification.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// RPCError is the error object of a failed call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("RPC error %d - %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d - %s", e.Code, e.Message)
}

func newRPCError(code int, msg string, err error) *RPCError {
	e := &RPCError{Code: code, Message: msg}
	if err != nil {
		e.Data = err.Error()
	}
	return e
}

func nullID() json.RawMessage { return json.RawMessage("null") }

//-----------------------------------------------------------------------------
// getmanifest

// Manifest is the answer to getmanifest.
type Manifest struct {
	Options       []ManifestOption `json:"options"`
	RPCMethods    []RPCMethod      `json:"rpcmethods"`
	Subscriptions []string         `json:"subscriptions"`
	Hooks         []string         `json:"hooks"`
	Dynamic       bool             `json:"dynamic"`
}

// ManifestOption is a startup option the node accepts on the plugin's behalf.
type ManifestOption struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// RPCMethod is a method the plugin adds to the node's RPC interface.
type RPCMethod struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

//-----------------------------------------------------------------------------
// init

// InitParams are the parameters of the init call.
type InitParams struct {
	Options       map[string]json.RawMessage `json:"options"`
	Configuration struct {
		LightningDir string `json:"lightning-dir"`
		RPCFile      string `json:"rpc-file"`
	} `json:"configuration"`
}

// optionString returns the option as a string. The node sends options as
// strings but numbers are accepted too.
func (p InitParams) optionString(name string) (string, bool, error) {
	raw, ok := p.Options[name]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false, fmt.Errorf("option %s: %w", name, err)
	}
	return n.String(), true, nil
}

// parseTimeout reads an mpp-timeout value: whole seconds, or a Go duration.
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		if secs == 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}

// formatTimeout is the inverse of parseTimeout.
func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return d.String()
}

//-----------------------------------------------------------------------------
// htlc_accepted

type htlcAcceptedParams struct {
	HTLC *htlcParams `json:"htlc"`
}

type htlcParams struct {
	PaymentHash    types.PaymentHash   `json:"payment_hash"`
	AmountMsat     *types.MilliSatoshi `json:"amount_msat"`
	Amount         *types.MilliSatoshi `json:"amount"`
	CltvExpiry     uint32              `json:"cltv_expiry"`
	ShortChannelID string              `json:"short_channel_id"`
	ID             uint64              `json:"id"`
}

// parseHTLC decodes the htlc_accepted parameters. Older nodes send the
// amount as "amount", newer ones as "amount_msat".
func parseHTLC(params json.RawMessage) (types.HTLC, error) {
	var p htlcAcceptedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return types.HTLC{}, err
	}
	if p.HTLC == nil {
		return types.HTLC{}, fmt.Errorf("missing htlc")
	}
	if p.HTLC.PaymentHash.IsZero() {
		return types.HTLC{}, fmt.Errorf("missing payment_hash")
	}

	amount := p.HTLC.AmountMsat
	if amount == nil {
		amount = p.HTLC.Amount
	}
	if amount == nil {
		return types.HTLC{}, fmt.Errorf("missing amount_msat")
	}

	return types.HTLC{
		PaymentHash:    p.HTLC.PaymentHash,
		Amount:         *amount,
		CltvExpiry:     p.HTLC.CltvExpiry,
		ShortChannelID: p.HTLC.ShortChannelID,
		ID:             p.HTLC.ID,
	}, nil
}

//-----------------------------------------------------------------------------
// mpp-status

// StatusResult is the answer to mpp-status.
type StatusResult struct {
	Payments []PaymentStatus `json:"payments"`
	Closed   []ClosedPayment `json:"closed"`
}

// PaymentStatus describes a payment whose parts are being held.
type PaymentStatus struct {
	PaymentHash types.PaymentHash  `json:"payment_hash"`
	Parts       int                `json:"parts"`
	Received    types.MilliSatoshi `json:"received_msat"`
	Target      types.MilliSatoshi `json:"target_msat"`
	Age         string             `json:"age"`
}

// ClosedPayment describes a recently settled or failed payment.
type ClosedPayment struct {
	PaymentHash types.PaymentHash `json:"payment_hash"`
	Outcome     string            `json:"outcome"`
	Parts       int               `json:"parts"`
	ClosedAt    time.Time         `json:"closed_at"`
}

//-----------------------------------------------------------------------------
// mpp-addinvoice

type addInvoiceParams struct {
	AmountMsat *types.MilliSatoshi `json:"amount_msat"`
	Label      string              `json:"label"`
	Preimage   *types.Preimage     `json:"preimage"`
}

// parseAddInvoice accepts the parameters by name or by position
// (amount_msat, label, preimage).
func parseAddInvoice(params json.RawMessage) (addInvoiceParams, error) {
	var p addInvoiceParams
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var positional []json.RawMessage
		if err := json.Unmarshal(trimmed, &positional); err != nil {
			return p, err
		}
		if len(positional) > 3 {
			return p, fmt.Errorf("too many parameters")
		}
		fields := []interface{}{&p.AmountMsat, &p.Label, &p.Preimage}
		for i, raw := range positional {
			if err := json.Unmarshal(raw, fields[i]); err != nil {
				return p, err
			}
		}
	} else if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return p, err
		}
	}
	if p.AmountMsat == nil || *p.AmountMsat == 0 {
		return p, fmt.Errorf("amount_msat must be positive")
	}
	return p, nil
}

// AddInvoiceResult is the answer to mpp-addinvoice.
type AddInvoiceResult struct {
	PaymentHash types.PaymentHash  `json:"payment_hash"`
	AmountMsat  types.MilliSatoshi `json:"amount_msat"`
	Label       string             `json:"label,omitempty"`
}
