package types

import (
	"encoding/json"
	"fmt"
)

// DecisionResult enumerates the answers the htlc_accepted hook accepts.
type DecisionResult string

const (
	ResultContinue DecisionResult = "continue"
	ResultResolve  DecisionResult = "resolve"
	ResultFail     DecisionResult = "fail"
)

// Decision is the single answer given for one HTLC.
type Decision struct {
	Result     DecisionResult `json:"result"`
	PaymentKey *Preimage      `json:"payment_key,omitempty"`
}

// Continue lets the node process the HTLC as if no plugin was registered.
func Continue() Decision {
	return Decision{Result: ResultContinue}
}

// Resolve settles the HTLC by revealing the preimage.
func Resolve(preimage Preimage) Decision {
	return Decision{Result: ResultResolve, PaymentKey: &preimage}
}

// Fail rejects the HTLC without releasing any value.
func Fail() Decision {
	return Decision{Result: ResultFail}
}

func (d Decision) String() string {
	return string(d.Result)
}

// ValidateBasic checks the decision is well formed.
func (d Decision) ValidateBasic() error {
	switch d.Result {
	case ResultContinue, ResultFail:
		if d.PaymentKey != nil {
			return fmt.Errorf("%s decision must not carry a payment key", d.Result)
		}
	case ResultResolve:
		if d.PaymentKey == nil {
			return fmt.Errorf("resolve decision requires a payment key")
		}
	default:
		return fmt.Errorf("unknown decision %q", d.Result)
	}
	return nil
}

func (d Decision) MarshalJSON() ([]byte, error) {
	if err := d.ValidateBasic(); err != nil {
		return nil, err
	}
	type decision Decision
	return json.Marshal(decision(d))
}
