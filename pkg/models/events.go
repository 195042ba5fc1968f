package models

import "github.com/shopspring/decimal"

// ChainEventKind discriminates the Chain Facade's push-surface stream, per
// §4.2/§9: a typed event channel, not a callback.
type ChainEventKind string

const (
	ChainEventBetBull          ChainEventKind = "BetBull"
	ChainEventBetBear          ChainEventKind = "BetBear"
	ChainEventStartRound       ChainEventKind = "StartRound"
	ChainEventLockRound        ChainEventKind = "LockRound"
	ChainEventConnectionStatus ChainEventKind = "ConnectionStatus"
)

// ChainEvent is the single variant type flowing out of Facade.Subscribe.
// Only the fields relevant to Kind are populated.
type ChainEvent struct {
	Kind ChainEventKind

	// BetBull / BetBear
	Epoch       int64
	Sender      string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
	BlockTime   int64

	// StartRound / LockRound
	RoundEpoch int64

	// ConnectionStatus
	Connected bool
}

// BetEvent is a decoded BetBull/BetBear log entry from a bounded range
// query, per §4.2's pull-surface `events(from,to)` contract.
type BetEvent struct {
	Epoch       int64
	Sender      string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
	BlockTime   int64
}

// ClaimEvent is a decoded Claim log entry from the same range query.
type ClaimEvent struct {
	Epoch       int64
	Sender      string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
	BlockTime   int64
}

// EventRange bundles the three parallel event streams the Historical
// Pipeline fetches per epoch: §4.2 pull surface, §4.5 step 5.
type EventRange struct {
	BetBull []BetEvent
	BetBear []BetEvent
	Claim   []ClaimEvent
}

// Block is the minimal chain block shape the facade exposes.
type Block struct {
	Number    uint64
	Timestamp int64
}
