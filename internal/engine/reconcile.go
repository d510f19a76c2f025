package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/liquidity"
	"github.com/alejandrodnm/mirrormaker/internal/metrics"
	"github.com/alejandrodnm/mirrormaker/internal/ports"
)

// ReconcileOnce diffs the exchange's authoritative wager list against the
// ledger by external id and corrects local state: missed fills are applied,
// vanished wagers released, and unknown exchange wagers adopted (restart
// recovery). Every correction is a warning-level event, never fatal.
func (e *Engine) ReconcileOnce(ctx context.Context) error {
	now := e.now()

	exchangeWagers, err := e.exchange.ListWagers(ctx, domain.WagerFilters{})
	if err != nil {
		return fmt.Errorf("engine.ReconcileOnce: %w", err)
	}

	seen := make(map[string]bool, len(exchangeWagers))
	for _, ex := range exchangeWagers {
		seen[ex.ExternalID] = true
		e.reconcileWager(ctx, ex)
	}

	// Locally-open wagers the exchange no longer reports were cancelled or
	// voided out from under us. Just-submitted ones get a grace window.
	for _, local := range e.ledger.OpenWagers() {
		if seen[local.ExternalID] || e.inGrace(local.ExternalID, now) {
			continue
		}
		lock := e.locks.get(local.Line.PairKey())
		lock.Lock()
		e.clearPending(local.ExternalID)
		if err := e.ledger.ApplyCancellation(local.ExternalID); err == nil {
			metrics.DriftCorrections.WithLabelValues("vanished").Inc()
			slog.Warn("wager vanished from exchange, releasing unmatched stake",
				"external_id", local.ExternalID, "line", local.Line.Key())
			e.notify(ctx, ports.Event{
				Kind:    ports.EventDrift,
				Line:    local.Line,
				Amount:  local.UnmatchedStake,
				Message: fmt.Sprintf("wager on %s vanished from the exchange", local.Line.Selection),
			})
			if e.storage != nil {
				if err := e.storage.UpdateWagerFill(ctx, local.ExternalID, local.MatchedStake, domain.WagerCanceled); err != nil {
					slog.Warn("persisting vanish failed", "external_id", local.ExternalID, "err", err)
				}
			}
		}
		lock.Unlock()
	}

	metrics.ExposureTotal.Set(e.ledger.Exposure().TotalExposure)

	e.statusMu.Lock()
	e.lastReconcileAt = now
	e.statusMu.Unlock()
	return nil
}

// reconcileWager applies one exchange wager's state to the ledger under the
// line lock.
func (e *Engine) reconcileWager(ctx context.Context, ex domain.Wager) {
	lock := e.locks.get(ex.Line.PairKey())
	lock.Lock()
	defer lock.Unlock()

	local, known := e.ledger.Wager(ex.ExternalID)
	if !known {
		e.adoptWager(ctx, ex)
		return
	}
	e.clearPending(ex.ExternalID)

	if ex.MatchedStake > local.MatchedStake {
		delta, err := e.ledger.ApplyFill(ex.ExternalID, ex.MatchedStake, ex.UpdatedAt)
		if err != nil {
			slog.Warn("fill not applied", "external_id", ex.ExternalID, "err", err)
		} else if delta > 0 {
			metrics.FillsApplied.Inc()
			e.controller.OnFill(ex.Line, e.now())
			slog.Info("fill applied",
				"line", ex.Line.Key(), "delta", delta, "matched_total", ex.MatchedStake)
			e.notify(ctx, ports.Event{
				Kind:    ports.EventFill,
				Line:    ex.Line,
				Amount:  delta,
				Message: fmt.Sprintf("%s matched another $%.2f", ex.Line.Selection, delta),
			})
			if e.storage != nil {
				if err := e.storage.UpdateWagerFill(ctx, ex.ExternalID, ex.MatchedStake, ex.Status); err != nil {
					slog.Warn("persisting fill failed", "external_id", ex.ExternalID, "err", err)
				}
			}
		}
	}

	// Exchange sealed the wager while we still count resting stake.
	if !ex.Active() && local.UnmatchedStake > 0 && ex.UnmatchedStake == 0 {
		if err := e.ledger.ApplyCancellation(ex.ExternalID); err == nil {
			metrics.DriftCorrections.WithLabelValues("sealed").Inc()
			slog.Warn("exchange sealed wager, releasing unmatched stake",
				"external_id", ex.ExternalID, "status", ex.Status)
			if e.storage != nil {
				if err := e.storage.UpdateWagerFill(ctx, ex.ExternalID, ex.MatchedStake, ex.Status); err != nil {
					slog.Warn("persisting seal failed", "external_id", ex.ExternalID, "err", err)
				}
			}
		}
	}
}

// adoptWager folds an exchange wager we have no record of into a fresh
// position. Happens after a restart without storage, or when a submission
// succeeded but the acknowledgement was lost. Stopped lines stay stopped.
func (e *Engine) adoptWager(ctx context.Context, ex domain.Wager) {
	if !ex.Active() && ex.MatchedStake == 0 {
		return
	}
	if e.controller.State(ex.Line).State == liquidity.Stopped {
		return
	}

	e.ledger.Adopt(ex)
	e.controller.OnPlacement(ex.Line)
	metrics.DriftCorrections.WithLabelValues("adopted").Inc()
	slog.Warn("adopted unknown exchange wager",
		"external_id", ex.ExternalID, "line", ex.Line.Key(), "stake", ex.Stake)
	e.notify(ctx, ports.Event{
		Kind:    ports.EventDrift,
		Line:    ex.Line,
		Amount:  ex.Stake,
		Message: fmt.Sprintf("adopted unknown wager on %s ($%.2f)", ex.Line.Selection, ex.Stake),
	})
	if e.storage != nil {
		if err := e.storage.SaveWager(ctx, ex); err != nil {
			slog.Warn("persisting adopted wager failed", "external_id", ex.ExternalID, "err", err)
		}
	}
}
