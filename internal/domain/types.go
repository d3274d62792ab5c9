package domain

import (
	"fmt"
	"strconv"
	"time"
)

// MotesPerCSPR is the number of motes in one CSPR.
const MotesPerCSPR = 1_000_000_000

// Network identifies the Casper network a payment or grant belongs to.
type Network string

const (
	// NetworkMainnet is the Casper production network
	NetworkMainnet Network = "mainnet"
	// NetworkTestnet is the Casper test network
	NetworkTestnet Network = "testnet"
)

// Valid reports whether the network is one of the two known networks.
func (n Network) Valid() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// ParseMotes parses a decimal motes amount as emitted by the streaming API.
func ParseMotes(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid motes amount %q: %w", s, err)
	}
	return v, nil
}

// FormatCSPR renders a motes amount as a human readable CSPR value.
func FormatCSPR(motes uint64) string {
	return strconv.FormatFloat(float64(motes)/MotesPerCSPR, 'f', -1, 64)
}

// PaymentObserved is emitted by the payment listener when a qualifying
// transfer toward the configured receiver has been seen on the stream and the
// sender public key has been recovered. The token it pays for is unknown until
// the client links it.
type PaymentObserved struct {
	DeployHash        string    `json:"deploy_hash"`
	SenderPublicKey   string    `json:"sender_public_key"`
	SenderAccountHash string    `json:"sender_account_hash"`
	Amount            uint64    `json:"amount"`
	Network           Network   `json:"network"`
	ObservedAt        time.Time `json:"observed_at"`
}

// TradeKind classifies a contract transfer event relative to the known
// router/pair contracts.
type TradeKind string

const (
	TradeKindBuy      TradeKind = "buy"
	TradeKindSell     TradeKind = "sell"
	TradeKindTransfer TradeKind = "transfer"
)

// Trade is a classified contract-emitted transfer for a monitored token.
type Trade struct {
	DeployHash  string    `json:"deploy_hash"`
	TokenHash   string    `json:"token_hash"`
	TokenSymbol string    `json:"token_symbol"`
	Kind        TradeKind `json:"kind"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Trader      string    `json:"trader,omitempty"`
	Amount      string    `json:"amount"`
	BlockHeight uint64    `json:"block_height"`
	Timestamp   time.Time `json:"timestamp"`
}
