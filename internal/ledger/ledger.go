// Package ledger is the in-memory model of what we believe we have bet:
// per-line PositionRecords plus a derived process-wide ExposureAccount.
//
// Fill application is idempotent by construction — callers report the
// cumulative matched total per wager, never deltas, so reconciliation
// replays cannot double-count.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// entry is the ledger's projection of one exchange wager.
type entry struct {
	wager   domain.Wager
	matched float64 // last applied cumulative matched amount
}

// Ledger tracks positions for all lines. All methods are safe for concurrent
// use; a single mutex keeps exposure derivation consistent with every
// position mutation, which the risk checks require.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.PositionRecord // line key → record
	wagers    map[string]*entry                 // external id → entry
	byLine    map[string][]string               // line key → external ids
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*domain.PositionRecord),
		wagers:    make(map[string]*entry),
		byLine:    make(map[string][]string),
	}
}

// RecordPlacement optimistically appends a just-submitted wager. The stake
// starts fully unmatched.
func (l *Ledger) RecordPlacement(w domain.Wager) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := w.Line.Key()
	pos := l.positions[key]
	if pos == nil {
		pos = &domain.PositionRecord{Line: w.Line}
		l.positions[key] = pos
	}
	pos.TotalStake += w.Stake
	pos.UnmatchedStake += w.Stake
	pos.CurrentOdds = w.Odds

	w.UnmatchedStake = w.Stake
	w.MatchedStake = 0
	l.wagers[w.ExternalID] = &entry{wager: w}
	l.byLine[key] = append(l.byLine[key], w.ExternalID)
}

// RollbackPlacement undoes an optimistic placement after a failed
// submission, leaving the position exactly as before the attempt.
func (l *Ledger) RollbackPlacement(externalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeWager(externalID)
}

// ApplyFill records the cumulative matched total reported by the exchange
// for a wager. Reapplying the same total is a no-op; a lower total than
// previously applied is ignored (stale read). Returns the newly matched
// amount.
func (l *Ledger) ApplyFill(externalID string, matchedTotal float64, at time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.wagers[externalID]
	if !ok {
		return 0, fmt.Errorf("ledger.ApplyFill: %q: %w", externalID, domain.ErrUnknownWager)
	}
	if matchedTotal > e.wager.Stake {
		matchedTotal = e.wager.Stake
	}
	delta := matchedTotal - e.matched
	if delta <= 0 {
		return 0, nil
	}
	e.matched = matchedTotal
	e.wager.MatchedStake = matchedTotal
	e.wager.UnmatchedStake = e.wager.Stake - matchedTotal
	if e.wager.UnmatchedStake <= 0 {
		e.wager.MatchingStatus = domain.MatchFull
	} else {
		e.wager.MatchingStatus = domain.MatchPartial
	}
	e.wager.UpdatedAt = at

	pos := l.positions[e.wager.Line.Key()]
	pos.MatchedStake += delta
	pos.UnmatchedStake -= delta
	t := at
	pos.LastFillAt = &t

	return delta, nil
}

// ApplyCancellation removes a wager's remaining unmatched stake from the
// position. Matched stake stays — it is money already in play.
func (l *Ledger) ApplyCancellation(externalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.wagers[externalID]
	if !ok {
		return fmt.Errorf("ledger.ApplyCancellation: %q: %w", externalID, domain.ErrUnknownWager)
	}
	if e.wager.Status == domain.WagerCanceled {
		return nil
	}
	pos := l.positions[e.wager.Line.Key()]
	pos.TotalStake -= e.wager.UnmatchedStake
	pos.UnmatchedStake -= e.wager.UnmatchedStake
	e.wager.UnmatchedStake = 0
	e.wager.Status = domain.WagerCanceled
	return nil
}

// Adopt registers a wager discovered on the exchange that the ledger has no
// record of — restart recovery. Exchange-reported fill state is trusted.
func (l *Ledger) Adopt(w domain.Wager) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.wagers[w.ExternalID]; exists {
		return
	}
	key := w.Line.Key()
	pos := l.positions[key]
	if pos == nil {
		pos = &domain.PositionRecord{Line: w.Line}
		l.positions[key] = pos
	}
	pos.TotalStake += w.MatchedStake + w.UnmatchedStake
	pos.MatchedStake += w.MatchedStake
	pos.UnmatchedStake += w.UnmatchedStake
	pos.CurrentOdds = w.Odds

	l.wagers[w.ExternalID] = &entry{wager: w, matched: w.MatchedStake}
	l.byLine[key] = append(l.byLine[key], w.ExternalID)
}

// MarkIncrement bumps the increments counter for a line.
func (l *Ledger) MarkIncrement(line domain.MarketLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos := l.positions[line.Key()]; pos != nil {
		pos.IncrementsPlaced++
	}
}

// SetWagerID fills in the exchange-assigned wager id after submission.
func (l *Ledger) SetWagerID(externalID, wagerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.wagers[externalID]; ok {
		e.wager.WagerID = wagerID
	}
}

// Position returns a copy of the record for a line.
func (l *Ledger) Position(line domain.MarketLine) (domain.PositionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[line.Key()]
	if !ok {
		return domain.PositionRecord{}, false
	}
	return *pos, true
}

// Positions returns copies of every record, keyed by line key.
func (l *Ledger) Positions() map[string]domain.PositionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]domain.PositionRecord, len(l.positions))
	for k, p := range l.positions {
		out[k] = *p
	}
	return out
}

// RemoveLine drops a line and all its wagers from tracking.
func (l *Ledger) RemoveLine(line domain.MarketLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := line.Key()
	for _, ext := range l.byLine[key] {
		delete(l.wagers, ext)
	}
	delete(l.byLine, key)
	delete(l.positions, key)
}

// OpenWagers returns copies of wagers that can still match.
func (l *Ledger) OpenWagers() []domain.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Wager
	for _, e := range l.wagers {
		if e.wager.Active() {
			out = append(out, e.wager)
		}
	}
	return out
}

// UnmatchedWagers returns wagers for a line with unmatched stake remaining,
// the ones worth cancelling when the reference price moves.
func (l *Ledger) UnmatchedWagers(line domain.MarketLine) []domain.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Wager
	for _, ext := range l.byLine[line.Key()] {
		e := l.wagers[ext]
		if e.wager.Status == domain.WagerOpen && e.wager.UnmatchedStake > 0 {
			out = append(out, e.wager)
		}
	}
	return out
}

// Wager returns the ledger's projection of one wager by external id.
func (l *Ledger) Wager(externalID string) (domain.Wager, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.wagers[externalID]
	if !ok {
		return domain.Wager{}, false
	}
	return e.wager, ok
}

// Exposure derives the process-wide exposure account from all positions.
func (l *Ledger) Exposure() domain.ExposureAccount {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct := domain.ExposureAccount{PerEvent: make(map[string]float64)}
	for _, pos := range l.positions {
		acct.PerEvent[pos.Line.EventID] += pos.Exposure()
		acct.TotalExposure += pos.Exposure()
	}
	return acct
}

// removeWager deletes the entry and subtracts its stake contribution.
// Caller holds the lock.
func (l *Ledger) removeWager(externalID string) {
	e, ok := l.wagers[externalID]
	if !ok {
		return
	}
	key := e.wager.Line.Key()
	if pos := l.positions[key]; pos != nil {
		pos.TotalStake -= e.wager.Stake
		pos.MatchedStake -= e.wager.MatchedStake
		pos.UnmatchedStake -= e.wager.UnmatchedStake
	}
	delete(l.wagers, externalID)
	ids := l.byLine[key]
	for i, id := range ids {
		if id == externalID {
			l.byLine[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
