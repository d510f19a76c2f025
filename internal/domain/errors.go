package domain

import "errors"

// Planning outcomes that are not faults: callers branch on these, they are
// never escalated as system errors.
var (
	// ErrRiskLimitExceeded means a candidate wager cannot be shrunk into
	// compliance with the risk limits.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")

	// ErrBelowMinStake means the computed stake fell under the minimum bet
	// size the exchange accepts.
	ErrBelowMinStake = errors.New("stake below minimum bet size")

	// ErrUnknownWager is returned by ledger operations referencing an
	// external id the ledger has never seen.
	ErrUnknownWager = errors.New("unknown wager")
)
