package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/metrics"
	"github.com/alejandrodnm/mirrormaker/internal/planner"
	"github.com/alejandrodnm/mirrormaker/internal/ports"
	"github.com/alejandrodnm/mirrormaker/internal/quotes"
	"github.com/alejandrodnm/mirrormaker/internal/risk"
)

// pollOnce fetches reference quotes and replans every materially-changed
// pair. A fetch failure skips the cycle; the previous snapshot is retained.
func (e *Engine) pollOnce(ctx context.Context) {
	snap := e.Config()
	now := e.now()

	qs, err := e.source.FetchQuotes(ctx, snap.Sport, snap.Markets, snap.Bookmaker)
	if err != nil {
		metrics.PollErrors.Inc()
		slog.Warn("quote fetch failed, keeping prior snapshot", "err", err)
		return
	}

	qs = e.filterTracked(qs, now, snap)
	changes := e.quotes.Update(qs, snap.OddsChangeThreshold)
	metrics.TrackedPairs.Set(float64(e.quotes.Len()))

	if len(changes) > 0 {
		slog.Debug("replanning changed pairs", "changes", len(changes))
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, snap.Workers)
	for _, ch := range changes {
		wg.Add(1)
		sem <- struct{}{}
		go func(ch quotes.Change) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processChange(ctx, ch, snap)
		}(ch)
	}
	wg.Wait()

	metrics.PollCycles.Inc()
	metrics.ExposureTotal.Set(e.ledger.Exposure().TotalExposure)

	e.statusMu.Lock()
	e.lastPollAt = now
	e.statusMu.Unlock()
}

// filterTracked drops events outside the lookahead window and caps the
// number of tracked events. Events we already hold positions in always stay.
func (e *Engine) filterTracked(qs []domain.OddsQuote, now time.Time, snap Snapshot) []domain.OddsQuote {
	held := make(map[string]bool)
	for _, pos := range e.ledger.Positions() {
		held[pos.Line.EventID] = true
	}

	type eventInfo struct {
		id       string
		commence time.Time
	}
	byEvent := make(map[string]eventInfo)
	for _, q := range qs {
		if snap.EventsLookahead > 0 && q.CommenceTime.After(now.Add(snap.EventsLookahead)) {
			continue
		}
		if _, ok := byEvent[q.Line.EventID]; !ok {
			byEvent[q.Line.EventID] = eventInfo{id: q.Line.EventID, commence: q.CommenceTime}
		}
	}

	keep := make(map[string]bool, len(byEvent))
	for id := range byEvent {
		if held[id] {
			keep[id] = true
		}
	}
	if snap.MaxEventsTracked > 0 {
		rest := make([]eventInfo, 0, len(byEvent))
		for id, info := range byEvent {
			if !keep[id] {
				rest = append(rest, info)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].commence.Before(rest[j].commence) })
		for _, info := range rest {
			if len(keep) >= snap.MaxEventsTracked {
				break
			}
			keep[info.id] = true
		}
	} else {
		for id := range byEvent {
			keep[id] = true
		}
	}

	out := qs[:0]
	for _, q := range qs {
		if keep[q.Line.EventID] {
			out = append(out, q)
		}
	}
	return out
}

// processChange replans one changed pair under its line lock: stale
// unmatched liquidity is pulled, then fresh wagers are planned, risk-checked
// and submitted. Errors stay contained to this pair.
func (e *Engine) processChange(ctx context.Context, ch quotes.Change, snap Snapshot) {
	lock := e.locks.get(ch.Pair.PairKey())
	lock.Lock()
	defer lock.Unlock()

	okA := e.controller.OnQuoteChange(ch.Pair.A.Line)
	okB := e.controller.OnQuoteChange(ch.Pair.B.Line)
	if !okA && !okB {
		return
	}

	// The new price supersedes resting liquidity at the old one. A first
	// observation over recovered wagers counts too: their price predates
	// this process, so replanning on top of them would stack liquidity.
	if ch.Prev != nil || e.hasUnmatched(ch.Pair) {
		e.cancelUnmatched(ctx, ch.Pair.A.Line)
		e.cancelUnmatched(ctx, ch.Pair.B.Line)
	}

	plan := planner.PlanPair(ch.Pair, e.ledger.Positions(), e.now(), snap.plannerConfig())
	if plan.NoOp() {
		switch plan.Skip {
		case planner.SkipCeiling:
			e.controller.ReachedCeiling(ch.Pair.A.Line)
			e.controller.ReachedCeiling(ch.Pair.B.Line)
		case planner.SkipCutoff:
			e.closePair(ctx, ch.Pair, "pre-game cutoff")
		}
		if plan.Skip != planner.SkipNone {
			slog.Debug("pair skipped", "pair", ch.Pair.PairKey(), "reason", plan.Skip.String())
		}
		return
	}

	if len(plan.Wagers) == 2 {
		ids, err := e.admitPair(plan.Wagers, snap.riskLimits())
		if err != nil {
			metrics.RiskRejections.Inc()
			slog.Info("pair rejected by risk limits", "pair", ch.Pair.PairKey(), "err", err)
			return
		}
		for i, w := range plan.Wagers {
			if err := e.dispatch(ctx, w, ids[i], "pair"); err != nil {
				// A half-placed pair is an unbalanced position; release the
				// undispatched legs and let reconcile pick up whatever
				// actually landed.
				for j := i + 1; j < len(ids); j++ {
					e.ledger.RollbackPlacement(ids[j])
				}
				e.RequestReconcile()
				return
			}
		}
		return
	}

	approved, id, err := e.admitSingle(plan.Wagers[0], snap.riskLimits())
	if err != nil {
		metrics.RiskRejections.Inc()
		slog.Info("wager rejected by risk limits", "line", plan.Wagers[0].Line.Key(), "err", err)
		return
	}
	if err := e.dispatch(ctx, approved, id, "single"); err != nil {
		e.RequestReconcile()
	}
}

// admitPair risk-checks both legs and books their optimistic placements
// under the admission lock, so the exposure another pair's admission reads
// already includes these reservations.
func (e *Engine) admitPair(ws []domain.TargetWager, lim risk.Limits) ([]string, error) {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	if err := risk.ApprovePair(ws, e.ledger.Positions(), e.ledger.Exposure(), lim); err != nil {
		return nil, err
	}
	ids := make([]string, len(ws))
	for i, w := range ws {
		ids[i] = e.reserve(w)
	}
	return ids, nil
}

// admitSingle risk-checks one wager (shrinking to headroom) and books its
// optimistic placement under the admission lock.
func (e *Engine) admitSingle(w domain.TargetWager, lim risk.Limits) (domain.TargetWager, string, error) {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	pos, _ := e.ledger.Position(w.Line)
	approved, err := risk.Approve(w, pos, e.ledger.Exposure(), lim)
	if err != nil {
		return domain.TargetWager{}, "", err
	}
	return approved, e.reserve(approved), nil
}

// reserve books the optimistic placement and returns its external id.
// Caller holds admitMu.
func (e *Engine) reserve(w domain.TargetWager) string {
	externalID := uuid.NewString()
	now := e.now()
	e.ledger.RecordPlacement(domain.Wager{
		ExternalID:     externalID,
		Line:           w.Line,
		Odds:           w.Odds,
		Stake:          w.Stake,
		UnmatchedStake: w.Stake,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchUnmatched,
		PlacedAt:       now,
		UpdatedAt:      now,
	})
	return externalID
}

// dispatch submits an admitted wager to the exchange. A failed submission
// rolls the placement back so the ledger never carries stake the exchange
// refused.
func (e *Engine) dispatch(ctx context.Context, w domain.TargetWager, externalID, kind string) error {
	res, err := e.exchange.SubmitWager(ctx, w, externalID)
	if err != nil {
		e.ledger.RollbackPlacement(externalID)
		slog.Warn("wager submission failed", "line", w.Line.Key(), "stake", w.Stake, "err", err)
		return fmt.Errorf("engine.dispatch: %w", err)
	}

	e.ledger.SetWagerID(externalID, res.WagerID)
	if w.IsIncrement {
		e.ledger.MarkIncrement(w.Line)
		kind = "increment"
	}
	e.controller.OnPlacement(w.Line)
	e.markPending(externalID)

	if e.storage != nil {
		stored, _ := e.ledger.Wager(externalID)
		if err := e.storage.SaveWager(ctx, stored); err != nil {
			slog.Warn("persisting wager failed", "external_id", externalID, "err", err)
		}
	}

	metrics.WagersPlaced.WithLabelValues(kind).Inc()
	slog.Info("wager placed",
		"line", w.Line.Key(),
		"odds", w.Odds,
		"effective_odds", w.EffectiveOdds,
		"stake", w.Stake,
		"kind", kind,
		"external_id", externalID)
	e.notify(ctx, ports.Event{
		Kind:    ports.EventPlaced,
		Line:    w.Line,
		Amount:  w.Stake,
		Message: fmt.Sprintf("placed %s at %+d for $%.2f", w.Line.Selection, w.Odds, w.Stake),
	})
	return nil
}

// hasUnmatched reports whether either side of the pair has resting
// unmatched liquidity. Caller holds the line lock.
func (e *Engine) hasUnmatched(pair domain.QuotePair) bool {
	return len(e.ledger.UnmatchedWagers(pair.A.Line)) > 0 ||
		len(e.ledger.UnmatchedWagers(pair.B.Line)) > 0
}

// cancelUnmatched pulls every resting unmatched wager for a line. Matched
// stake stays untouched. Caller holds the line lock.
func (e *Engine) cancelUnmatched(ctx context.Context, line domain.MarketLine) {
	for _, w := range e.ledger.UnmatchedWagers(line) {
		if w.WagerID == "" {
			// Submission acknowledged locally but no exchange id yet;
			// reconciliation will resolve it.
			continue
		}
		if err := e.exchange.CancelWager(ctx, w.WagerID); err != nil {
			slog.Warn("cancel failed", "wager_id", w.WagerID, "err", err)
			continue
		}
		if err := e.ledger.ApplyCancellation(w.ExternalID); err != nil {
			slog.Warn("cancellation not applied", "external_id", w.ExternalID, "err", err)
			continue
		}
		if e.storage != nil {
			if err := e.storage.UpdateWagerFill(ctx, w.ExternalID, w.MatchedStake, domain.WagerCanceled); err != nil {
				slog.Warn("persisting cancellation failed", "external_id", w.ExternalID, "err", err)
			}
		}
		metrics.WagersCancelled.Inc()
	}
}

// sweepDue places the next increment for every line whose cooldown expired.
func (e *Engine) sweepDue(ctx context.Context) {
	snap := e.Config()
	now := e.now()
	positions := e.ledger.Positions()

	for _, key := range e.controller.Due(now) {
		pos, ok := positions[key]
		if !ok {
			continue
		}
		e.incrementLine(ctx, pos.Line, snap)
	}
}

// incrementLine sizes and submits one liquidity increment under the line
// lock. A line that cannot take more stake is marked ceiling-reached.
func (e *Engine) incrementLine(ctx context.Context, line domain.MarketLine, snap Snapshot) {
	lock := e.locks.get(line.PairKey())
	lock.Lock()
	defer lock.Unlock()

	pos, ok := e.ledger.Position(line)
	if !ok {
		e.controller.Remove(line)
		return
	}

	w, ok := planner.PlanIncrement(pos, snap.plannerConfig())
	if !ok {
		e.markCeiling(ctx, line, pos)
		return
	}

	approved, id, err := e.admitSingle(w, snap.riskLimits())
	if err != nil {
		metrics.RiskRejections.Inc()
		// No headroom left anywhere; treat like a full line so the sweep
		// stops retrying every pass.
		e.markCeiling(ctx, line, pos)
		return
	}

	if err := e.dispatch(ctx, approved, id, "increment"); err != nil {
		e.RequestReconcile()
	}
}

func (e *Engine) markCeiling(ctx context.Context, line domain.MarketLine, pos domain.PositionRecord) {
	e.controller.ReachedCeiling(line)
	slog.Info("line fully built out", "line", line.Key(), "total_stake", pos.TotalStake)
	e.notify(ctx, ports.Event{
		Kind:    ports.EventCeiling,
		Line:    line,
		Amount:  pos.TotalStake,
		Message: fmt.Sprintf("%s reached its position ceiling at $%.2f", line.Selection, pos.TotalStake),
	})
}

// closeStartedLines retires pairs whose event is inside the pre-game cutoff:
// unmatched liquidity is pulled and no further increments are emitted, even
// for late-arriving fills.
func (e *Engine) closeStartedLines(ctx context.Context) {
	snap := e.Config()
	now := e.now()
	for _, pair := range e.quotes.All() {
		if now.Before(pair.CommenceTime().Add(-snap.MinTimeBeforeStart)) {
			continue
		}
		lock := e.locks.get(pair.PairKey())
		lock.Lock()
		e.closePair(ctx, pair, "event starting")
		lock.Unlock()
	}
}

// closePair removes a pair from tracking. Caller holds the line lock.
func (e *Engine) closePair(ctx context.Context, pair domain.QuotePair, reason string) {
	for _, line := range []domain.MarketLine{pair.A.Line, pair.B.Line} {
		lineKey := line.Key()
		if e.storage != nil {
			for _, w := range e.ledger.OpenWagers() {
				if w.Line.Key() != lineKey {
					continue
				}
				if err := e.storage.DeleteWager(ctx, w.ExternalID); err != nil {
					slog.Warn("deleting wager failed", "external_id", w.ExternalID, "err", err)
				}
			}
		}
		e.cancelUnmatched(ctx, line)
		e.controller.Stop(line)
		e.ledger.RemoveLine(line)
	}
	e.quotes.Remove(pair.PairKey())
	slog.Info("pair closed", "pair", pair.PairKey(), "reason", reason)
	e.notify(ctx, ports.Event{
		Kind:    ports.EventStopped,
		Line:    pair.A.Line,
		Message: fmt.Sprintf("stopped tracking %s (%s)", pair.PairKey(), reason),
	})
}
