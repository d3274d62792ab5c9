package casper

import "encoding/json"

// Transfer is the payload of a frame on the /transfers subscription.
type Transfer struct {
	DeployHash           string `json:"deploy_hash"`
	InitiatorAccountHash string `json:"initiator_account_hash"`
	ToAccountHash        string `json:"to_account_hash"`
	// Amount is motes as a decimal string
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// ContractEvent is the payload of a frame on the /contract-events
// subscription.
type ContractEvent struct {
	Name                string            `json:"name"`
	ContractPackageHash string            `json:"contract_package_hash"`
	Data                ContractEventData `json:"data"`
}

// ContractEventData carries the event arguments. CEP-18 style tokens emit
// from/to, some older contracts emit sender/recipient; both are mapped.
type ContractEventData struct {
	From      string `json:"from"`
	Sender    string `json:"sender"`
	To        string `json:"to"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Value     string `json:"value"`
}

// Source returns the originating party regardless of naming convention.
func (d ContractEventData) Source() string {
	if d.From != "" {
		return d.From
	}
	return d.Sender
}

// Target returns the receiving party regardless of naming convention.
func (d ContractEventData) Target() string {
	if d.To != "" {
		return d.To
	}
	return d.Recipient
}

// TokenAmount returns the token amount regardless of naming convention.
func (d ContractEventData) TokenAmount() string {
	if d.Amount != "" {
		return d.Amount
	}
	if d.Value != "" {
		return d.Value
	}
	return "0"
}

// FrameExtra is the metadata CSPR.cloud attaches next to the payload.
type FrameExtra struct {
	DeployHash  string `json:"deploy_hash"`
	BlockHeight uint64 `json:"block_height"`
}

// DecodeTransfer unmarshals a transfer payload out of a frame.
func DecodeTransfer(frame Frame) (*Transfer, error) {
	var t Transfer
	if err := json.Unmarshal(frame.Data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DecodeContractEvent unmarshals a contract event and its extra metadata out
// of a frame.
func DecodeContractEvent(frame Frame) (*ContractEvent, *FrameExtra, error) {
	var ev ContractEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return nil, nil, err
	}
	extra := &FrameExtra{}
	if len(frame.Extra) > 0 {
		if err := json.Unmarshal(frame.Extra, extra); err != nil {
			return nil, nil, err
		}
	}
	return &ev, extra, nil
}
