package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MilliSatoshi is the unit every amount in this repo is expressed in.
type MilliSatoshi uint64

func (m MilliSatoshi) String() string {
	return strconv.FormatUint(uint64(m), 10) + "msat"
}

// ParseMilliSatoshi accepts both a bare integer and the "<n>msat" form the
// node uses in its JSON output.
func ParseMilliSatoshi(s string) (MilliSatoshi, error) {
	v, err := strconv.ParseUint(strings.TrimSuffix(s, "msat"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid msat amount %q: %w", s, err)
	}
	return MilliSatoshi(v), nil
}

// UnmarshalJSON accepts a JSON number or a "<n>msat" string.
func (m *MilliSatoshi) UnmarshalJSON(bz []byte) error {
	if len(bz) > 0 && bz[0] == '"' {
		var s string
		if err := json.Unmarshal(bz, &s); err != nil {
			return err
		}
		v, err := ParseMilliSatoshi(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	if bytes.Equal(bz, []byte("null")) {
		return nil
	}
	var v uint64
	if err := json.Unmarshal(bz, &v); err != nil {
		return fmt.Errorf("invalid msat amount %s: %w", bz, err)
	}
	*m = MilliSatoshi(v)
	return nil
}

// HTLC is one part of an incoming payment as offered by the node. It is
// never modified after it has been decoded.
type HTLC struct {
	PaymentHash    PaymentHash
	Amount         MilliSatoshi
	CltvExpiry     uint32
	ShortChannelID string
	ID             uint64
}

func (h HTLC) String() string {
	return fmt.Sprintf("HTLC{%v %v %s/%d}", h.PaymentHash, h.Amount, h.ShortChannelID, h.ID)
}

// InvoiceStatus mirrors the node's invoice states.
type InvoiceStatus string

const (
	InvoiceUnpaid  InvoiceStatus = "unpaid"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
)

// Invoice states the amount expected for a payment hash together with the
// preimage that settles it.
type Invoice struct {
	PaymentHash PaymentHash   `json:"payment_hash"`
	Amount      MilliSatoshi  `json:"amount_msat"`
	Preimage    Preimage      `json:"payment_preimage"`
	Label       string        `json:"label,omitempty"`
	Status      InvoiceStatus `json:"status"`
}

// ValidateBasic checks that the invoice can be used to settle HTLCs.
func (inv Invoice) ValidateBasic() error {
	if inv.Amount == 0 {
		return fmt.Errorf("invoice %v has zero amount", inv.PaymentHash)
	}
	if !inv.Preimage.Matches(inv.PaymentHash) {
		return fmt.Errorf("invoice %v: preimage does not match payment hash", inv.PaymentHash)
	}
	return nil
}

// Payable reports whether HTLCs for this invoice may be accepted.
func (inv Invoice) Payable() bool {
	return inv.Status == "" || inv.Status == InvoiceUnpaid
}
