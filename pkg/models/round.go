package models

import "github.com/shopspring/decimal"

// Direction is the closed set of bet sides. The on-chain ABI calls these
// "bull" and "bear"; the engine always speaks UP/DOWN.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Result is UP/DOWN, or "" for a drawn round (absent per §3).
type Result string

const (
	ResultUp   Result = "UP"
	ResultDown Result = "DOWN"
)

// BetResult is WIN/LOSS, or "" when the round drew or is unresolved.
type BetResult string

const (
	BetResultWin  BetResult = "WIN"
	BetResultLoss BetResult = "LOSS"
)

// RoundStatus describes where a round sits in its lifecycle, derived from
// which on-chain timestamps are non-zero.
type RoundStatus string

const (
	RoundStatusPending RoundStatus = "pending"
	RoundStatusBetting RoundStatus = "betting"
	RoundStatusLocked  RoundStatus = "locked"
	RoundStatusEnded   RoundStatus = "ended"
)

// Round is the persisted, per-closed-epoch aggregate: §3 "Round (round)".
type Round struct {
	Epoch       int64
	StartTS     string
	LockTS      string
	CloseTS     string
	LockPrice   decimal.Decimal
	ClosePrice  decimal.Decimal
	Result      Result
	TotalAmount decimal.Decimal
	UpAmount    decimal.Decimal
	DownAmount  decimal.Decimal
	UpPayout    decimal.Decimal
	DownPayout  decimal.Decimal
}

// RoundView is what the Chain Facade's pull surface returns for
// rounds(epoch) — raw on-chain shape, not yet persisted or validated.
type RoundView struct {
	Epoch           int64
	StartTimestamp  int64
	LockTimestamp   int64
	CloseTimestamp  int64
	LockPrice       decimal.Decimal
	ClosePrice      decimal.Decimal
	TotalAmount     decimal.Decimal
	BullAmount      decimal.Decimal
	BearAmount      decimal.Decimal
}

// Closed reports whether the round has resolved on-chain.
func (r RoundView) Closed() bool { return r.CloseTimestamp != 0 }

// Status derives the RoundStatus from which timestamps are populated, per
// C6's RoundUpdate construction in §4.6.
func (r RoundView) Status() RoundStatus {
	switch {
	case r.CloseTimestamp != 0:
		return RoundStatusEnded
	case r.LockTimestamp != 0:
		return RoundStatusLocked
	case r.StartTimestamp != 0:
		return RoundStatusBetting
	default:
		return RoundStatusPending
	}
}
