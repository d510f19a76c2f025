package domain

import "time"

// PositionRecord is the ledger's per-line aggregate: what we believe we have
// bet on one market line. Invariant: MatchedStake + UnmatchedStake ==
// TotalStake, up to in-flight reconciliation lag.
type PositionRecord struct {
	Line             MarketLine
	TotalStake       float64
	MatchedStake     float64
	UnmatchedStake   float64
	CurrentOdds      int // placement odds of the most recent wager
	LastFillAt       *time.Time
	IncrementsPlaced int
}

// Exposure is the worst-case loss the position contributes: every dollar
// placed is at risk if the backed selection loses.
func (p PositionRecord) Exposure() float64 { return p.TotalStake }

// RemainingCapacity returns how much more stake fits under the ceiling.
func (p PositionRecord) RemainingCapacity(ceiling float64) float64 {
	if p.TotalStake >= ceiling {
		return 0
	}
	return ceiling - p.TotalStake
}

// ExposureAccount is the process-wide aggregate derived from all
// PositionRecords. Never mutated independently; TotalExposure always equals
// the sum of PerEvent.
type ExposureAccount struct {
	PerEvent      map[string]float64
	TotalExposure float64
}

// EventExposure returns the exposure for one event (0 if untracked).
func (a ExposureAccount) EventExposure(eventID string) float64 {
	return a.PerEvent[eventID]
}
