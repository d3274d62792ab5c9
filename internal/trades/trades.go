// Package trades turns raw contract events of monitored tokens into a
// classified trade feed.
package trades

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/domain"
)

// DefaultRingSize is how many recent trades are kept per token when the
// configured ring size is zero.
const DefaultRingSize = 100

// Token describes a monitored token.
type Token struct {
	Symbol              string
	ContractPackageHash string
	Decimals            int
}

// Classifier assigns a trade direction to a token transfer by looking at
// which side of it is a known exchange contract. Tokens flowing out of a
// router or pair were bought; tokens flowing into one were sold.
type Classifier struct {
	exchangeContracts []string
}

// NewClassifier creates a classifier over the given router and pair contract
// hashes.
func NewClassifier(routerContract string, pairContracts []string) *Classifier {
	contracts := make([]string, 0, len(pairContracts)+1)
	if routerContract != "" {
		contracts = append(contracts, domain.NormalizeHash(routerContract))
	}
	for _, p := range pairContracts {
		if p != "" {
			contracts = append(contracts, domain.NormalizeHash(p))
		}
	}
	return &Classifier{exchangeContracts: contracts}
}

func (c *Classifier) isExchange(party string) bool {
	normalized := domain.NormalizeHash(party)
	for _, contract := range c.exchangeContracts {
		if strings.Contains(normalized, contract) {
			return true
		}
	}
	return false
}

// Classify returns the trade direction and the user-side party of a transfer.
func (c *Classifier) Classify(from, to string) (domain.TradeKind, string) {
	switch {
	case from != "" && c.isExchange(from):
		return domain.TradeKindBuy, to
	case to != "" && c.isExchange(to):
		return domain.TradeKindSell, from
	default:
		return domain.TradeKindTransfer, from
	}
}

// Feed processes contract events for a set of monitored tokens, keeps a ring
// of recent trades per token, and hands each classified trade to a sink.
type Feed struct {
	classifier *Classifier
	tokens     map[string]Token // keyed by normalized contract package hash
	ringSize   int
	sink       func(ctx context.Context, trade *domain.Trade)

	mu     sync.RWMutex
	recent map[string][]domain.Trade // newest first
}

// NewFeed creates a trade feed. sink may be nil when only the ring is needed.
func NewFeed(classifier *Classifier, tokens []Token, ringSize int, sink func(ctx context.Context, trade *domain.Trade)) *Feed {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	byHash := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		byHash[domain.NormalizeHash(t.ContractPackageHash)] = t
	}
	return &Feed{
		classifier: classifier,
		tokens:     byHash,
		ringSize:   ringSize,
		sink:       sink,
		recent:     make(map[string][]domain.Trade),
	}
}

// HandleFrame processes one streaming frame from a /contract-events
// subscription. Frames that are not transfer creations are ignored.
func (f *Feed) HandleFrame(ctx context.Context, frame casper.Frame) error {
	if frame.Action != casper.ActionCreated || len(frame.Data) == 0 {
		return nil
	}

	event, extra, err := casper.DecodeContractEvent(frame)
	if err != nil {
		return err
	}
	if !strings.EqualFold(event.Name, "transfer") {
		return nil
	}

	tokenHash := domain.NormalizeHash(event.ContractPackageHash)
	token, ok := f.tokens[tokenHash]
	if !ok {
		return nil
	}

	from := event.Data.Source()
	to := event.Data.Target()
	kind, trader := f.classifier.Classify(from, to)

	timestamp, err := time.Parse(time.RFC3339, frame.Timestamp)
	if err != nil {
		timestamp = time.Now().UTC()
	}

	trade := domain.Trade{
		DeployHash:  domain.NormalizeHash(extra.DeployHash),
		TokenHash:   tokenHash,
		TokenSymbol: token.Symbol,
		Kind:        kind,
		From:        from,
		To:          to,
		Trader:      trader,
		Amount:      event.Data.TokenAmount(),
		BlockHeight: extra.BlockHeight,
		Timestamp:   timestamp,
	}

	f.record(trade)
	if f.sink != nil {
		f.sink(ctx, &trade)
	}
	return nil
}

// record prepends the trade to the token's ring, trimming to the ring size
func (f *Feed) record(trade domain.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ring := f.recent[trade.TokenHash]
	ring = append([]domain.Trade{trade}, ring...)
	if len(ring) > f.ringSize {
		ring = ring[:f.ringSize]
	}
	f.recent[trade.TokenHash] = ring
}

// Record adds an externally observed trade to the ring. The API uses this to
// mirror trades arriving over the message bus.
func (f *Feed) Record(trade domain.Trade) {
	if _, ok := f.tokens[trade.TokenHash]; !ok {
		return
	}
	f.record(trade)
}

// Recent returns up to limit most recent trades for a token, newest first.
func (f *Feed) Recent(tokenHash string, limit int) []domain.Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ring := f.recent[domain.NormalizeHash(tokenHash)]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]domain.Trade, limit)
	copy(out, ring[:limit])
	return out
}

// Tokens returns the monitored tokens keyed by normalized contract hash.
func (f *Feed) Tokens() map[string]Token {
	return f.tokens
}
