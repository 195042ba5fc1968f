package models

import "github.com/shopspring/decimal"

// HisBet is one closed-epoch bet event, persisted by the Historical
// Pipeline: §3 "Historical Bet (hisbet)".
type HisBet struct {
	Epoch         int64
	BetTS         string
	WalletAddress string
	BetDirection  Direction
	Amount        decimal.Decimal
	Result        BetResult
	TxHash        string
}

// RealBet is a live, short-lived bet buffered ahead of its epoch's close:
// §3 "Hot Bet (realbet)".
type RealBet struct {
	Epoch         int64
	BetTS         string
	WalletAddress string
	BetDirection  Direction
	Amount        decimal.Decimal
}

// Claim is one payout event. Epoch is the processing epoch (when the
// claim transaction landed); BetEpoch is the provenance epoch (what the
// payout was for). The two intentionally differ — see §9's Open
// Question; callers must not collapse them.
type Claim struct {
	Epoch         int64
	ClaimTS       string
	WalletAddress string
	ClaimAmount   decimal.Decimal
	BetEpoch      int64
	TxHash        string
}

// MultiClaim is an offline abuse finding: §3 "Multi-Claim Finding
// (multi_claims)".
type MultiClaim struct {
	Epoch         int64
	WalletAddress string
	ClaimCount    int
	TotalAmount   decimal.Decimal
	CreatedAt     string
}

// FailedEpoch quarantines an epoch that failed integrity three times:
// §3 "Failed Epoch (failed_epoch)".
type FailedEpoch struct {
	Epoch          int64
	ErrorMessage   string
	LastAttemptTS  string
	FailureCount   int
}

// WalletNote is C4's auxiliary human-readable annotation store.
type WalletNote struct {
	WalletAddress string
	Note          string
	Flags         []string
	UpdatedAt     string
}
