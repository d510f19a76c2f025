package domain

import "time"

// WagerStatus is the exchange-reported lifecycle state of a wager.
type WagerStatus string

const (
	WagerOpen     WagerStatus = "open"
	WagerVoid     WagerStatus = "void"
	WagerClosed   WagerStatus = "closed"
	WagerCanceled WagerStatus = "canceled"
)

// MatchingStatus is the exchange-reported fill state of a wager.
type MatchingStatus string

const (
	MatchUnmatched MatchingStatus = "unmatched"
	MatchPartial   MatchingStatus = "partially_matched"
	MatchFull      MatchingStatus = "fully_matched"
)

// Wager is a single exchange wager. The exchange owns this state; the ledger
// keeps an eventually-consistent projection keyed by ExternalID.
type Wager struct {
	WagerID        string // exchange-assigned id
	ExternalID     string // our id, set at submission (uuid)
	Line           MarketLine
	Odds           int
	Stake          float64
	MatchedStake   float64
	UnmatchedStake float64
	Status         WagerStatus
	MatchingStatus MatchingStatus
	PlacedAt       time.Time
	UpdatedAt      time.Time
}

// Active reports whether the wager can still match.
func (w Wager) Active() bool {
	return w.Status == WagerOpen && w.MatchingStatus != MatchFull
}

// TargetWager is a wager the planner wants placed. Never persisted on its
// own — submission turns it into a ledger entry.
type TargetWager struct {
	Line          MarketLine
	Odds          int     // placement price on the exchange ladder
	EffectiveOdds int     // post-commission price, drives sizing and profit
	Stake         float64
	IsIncrement   bool
	Unbalanced    bool // single-sided +EV position, no offsetting pair leg
}

// SubmitResult is the exchange's acknowledgement of a submitted wager.
type SubmitResult struct {
	WagerID    string
	ExternalID string
}

// WagerFilters narrows a ListWagers reconciliation fetch.
type WagerFilters struct {
	EventIDs []string
	Since    time.Time
}
