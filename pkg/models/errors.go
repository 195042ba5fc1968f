package models

import "errors"

// Sentinel error kinds per the engine's error handling design. Each is
// wrapped with context via fmt.Errorf("...: %w", err) at the call site
// rather than carrying its own payload type.
var (
	ErrInvalidTimeInput     = errors.New("invalid time input")
	ErrChainRequestFailed   = errors.New("chain request failed")
	ErrChainRangeOutOfBounds = errors.New("chain range out of bounds")
	ErrRoundNotClosed       = errors.New("round not closed")
	ErrNextRoundNotStarted  = errors.New("next round not started")
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	ErrDatabaseUnavailable  = errors.New("database unavailable")
	ErrDuplicateBet         = errors.New("duplicate bet")
	ErrSubscriptionLost     = errors.New("subscription lost")
)
