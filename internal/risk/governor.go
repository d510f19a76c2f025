// Package risk validates planned wagers against multi-level exposure
// ceilings. Rejection is a normal planning outcome, not a fault.
package risk

import (
	"fmt"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Limits are the risk ceilings in force for one decision.
type Limits struct {
	MinBetSize          float64
	MaxBetSize          float64
	MaxExposurePerEvent float64
	MaxExposureTotal    float64
	MaxPlusPosition     float64 // per-line stake cap on the positive-odds side
}

// Approve validates a candidate wager against the limits, shrinking the
// stake to the largest admissible value when the full size would breach an
// exposure ceiling. Returns the (possibly shrunk) wager, or
// domain.ErrRiskLimitExceeded wrapped with the binding constraint when no
// stake ≥ MinBetSize fits.
//
// The exposure delta of a wager is its full stake — worst-case loss if the
// backed selection loses.
func Approve(w domain.TargetWager, pos domain.PositionRecord, acct domain.ExposureAccount, lim Limits) (domain.TargetWager, error) {
	if w.Stake > lim.MaxBetSize {
		w.Stake = lim.MaxBetSize
	}

	allowed := w.Stake
	if room := lim.MaxExposurePerEvent - acct.EventExposure(w.Line.EventID); room < allowed {
		allowed = room
	}
	if room := lim.MaxExposureTotal - acct.TotalExposure; room < allowed {
		allowed = room
	}
	if w.Odds > 0 && lim.MaxPlusPosition > 0 {
		if room := lim.MaxPlusPosition - pos.TotalStake; room < allowed {
			allowed = room
		}
	}

	if allowed < lim.MinBetSize {
		return domain.TargetWager{}, fmt.Errorf(
			"risk.Approve: %s stake %.2f, admissible %.2f: %w",
			w.Line.Key(), w.Stake, allowed, domain.ErrRiskLimitExceeded)
	}
	w.Stake = allowed
	return w, nil
}

// ApprovePair validates both legs of a planned pair against the limits,
// treating the legs sequentially so the second leg sees the first leg's
// exposure. Pairs are all-or-nothing: shrinking one leg would break the
// balanced payout, so any breach rejects the pair.
func ApprovePair(pair []domain.TargetWager, positions map[string]domain.PositionRecord, acct domain.ExposureAccount, lim Limits) error {
	running := acct.TotalExposure
	perEvent := make(map[string]float64, 1)
	for _, w := range pair {
		if w.Stake < lim.MinBetSize || w.Stake > lim.MaxBetSize {
			return fmt.Errorf("risk.ApprovePair: %s stake %.2f outside [%.2f, %.2f]: %w",
				w.Line.Key(), w.Stake, lim.MinBetSize, lim.MaxBetSize, domain.ErrRiskLimitExceeded)
		}
		evExposure := acct.EventExposure(w.Line.EventID) + perEvent[w.Line.EventID] + w.Stake
		if evExposure > lim.MaxExposurePerEvent {
			return fmt.Errorf("risk.ApprovePair: event %s exposure %.2f exceeds %.2f: %w",
				w.Line.EventID, evExposure, lim.MaxExposurePerEvent, domain.ErrRiskLimitExceeded)
		}
		running += w.Stake
		if running > lim.MaxExposureTotal {
			return fmt.Errorf("risk.ApprovePair: total exposure %.2f exceeds %.2f: %w",
				running, lim.MaxExposureTotal, domain.ErrRiskLimitExceeded)
		}
		if w.Odds > 0 && lim.MaxPlusPosition > 0 {
			if positions[w.Line.Key()].TotalStake+w.Stake > lim.MaxPlusPosition {
				return fmt.Errorf("risk.ApprovePair: %s plus-side position cap %.2f: %w",
					w.Line.Key(), lim.MaxPlusPosition, domain.ErrRiskLimitExceeded)
			}
		}
		perEvent[w.Line.EventID] += w.Stake
	}
	return nil
}
