// Package planner converts reference quotes into target exchange wagers.
//
// Replication works by betting the opposite selection: placing a wager on
// Tigers at +112 offers the matched counterparty Rays at -112, which is
// exactly the reference price for Rays. Commission is folded into effective
// odds before profitability and sizing decisions.
package planner

import (
	"time"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Config is the planning parameter set, taken from the engine's current
// config snapshot so a live update never lands mid-decision.
type Config struct {
	CommissionRate     float64
	BaseStake          float64
	PositionMultiplier float64
	MinBetSize         float64
	MaxBetSize         float64
	MinTimeBeforeStart time.Duration
}

// Ceiling is the per-line cumulative stake cap.
func (c Config) Ceiling() float64 { return c.BaseStake * c.PositionMultiplier }

// SkipReason explains a no-op plan.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipCutoff
	SkipCeiling
	SkipUnprofitable
	SkipBetBounds
)

func (r SkipReason) String() string {
	switch r {
	case SkipCutoff:
		return "pre-game cutoff"
	case SkipCeiling:
		return "position ceiling"
	case SkipUnprofitable:
		return "unprofitable after commission"
	case SkipBetBounds:
		return "stake outside bet-size bounds"
	default:
		return "none"
	}
}

// Plan is the planner's output: zero, one or two target wagers.
type Plan struct {
	Wagers []domain.TargetWager
	Skip   SkipReason
}

// NoOp reports whether the plan produced nothing to place.
func (p Plan) NoOp() bool { return len(p.Wagers) == 0 }

// leg is one side of a candidate pair during sizing.
type leg struct {
	line    domain.MarketLine
	refOdds int // reference price for this selection
	odds    int // our placement price (ladder-rounded opposite of the other side)
	eff     int // post-commission effective odds
	stake   float64
}

// PlanPair computes the target wagers replicating a reference quote pair.
// positions is keyed by line key and may be missing entries for fresh lines.
func PlanPair(pair domain.QuotePair, positions map[string]domain.PositionRecord, now time.Time, cfg Config) Plan {
	if !pair.CommenceTime().IsZero() && now.After(pair.CommenceTime().Add(-cfg.MinTimeBeforeStart)) {
		return Plan{Skip: SkipCutoff}
	}

	legs := buildLegs(pair, cfg)

	// plus side (higher odds) carries the base stake; the favorite side is
	// scaled so payouts balance across both outcomes
	plus, minus := legs[0], legs[1]
	if minus.odds > plus.odds {
		plus, minus = minus, plus
	}
	plus.stake = cfg.BaseStake
	minus.stake = domain.BalancedStake(plus.stake, plus.eff, minus.eff)

	ceiling := cfg.Ceiling()
	plusOK := fitsLeg(plus, positions, ceiling, cfg)
	minusOK := fitsLeg(minus, positions, ceiling, cfg)

	switch {
	case plusOK && minusOK:
		if !domain.PairProfitable(plus.eff, minus.eff) {
			return Plan{Skip: SkipUnprofitable}
		}
		return Plan{Wagers: []domain.TargetWager{wagerFor(plus, false), wagerFor(minus, false)}}
	case plusOK:
		return singleSided(plus, positions, ceiling, cfg)
	case minusOK:
		return singleSided(minus, positions, ceiling, cfg)
	default:
		if atCeiling(plus, positions, ceiling) && atCeiling(minus, positions, ceiling) {
			return Plan{Skip: SkipCeiling}
		}
		return Plan{Skip: SkipBetBounds}
	}
}

// PlanIncrement sizes the next liquidity increment for a line after its
// cooldown expires. Returns false when nothing fits under the ceiling.
func PlanIncrement(pos domain.PositionRecord, cfg Config) (domain.TargetWager, bool) {
	size := cfg.BaseStake
	if remaining := pos.RemainingCapacity(cfg.Ceiling()); remaining < size {
		size = remaining
	}
	if size > cfg.MaxBetSize {
		size = cfg.MaxBetSize
	}
	if size < cfg.MinBetSize {
		return domain.TargetWager{}, false
	}
	return domain.TargetWager{
		Line:          pos.Line,
		Odds:          pos.CurrentOdds,
		EffectiveOdds: domain.EffectiveOdds(pos.CurrentOdds, cfg.CommissionRate),
		Stake:         size,
		IsIncrement:   true,
	}, true
}

func buildLegs(pair domain.QuotePair, cfg Config) [2]leg {
	oddsA := domain.RoundToLadder(domain.OppositeOdds(pair.B.AmericanOdds))
	oddsB := domain.RoundToLadder(domain.OppositeOdds(pair.A.AmericanOdds))
	return [2]leg{
		{
			line:    pair.A.Line,
			refOdds: pair.A.AmericanOdds,
			odds:    oddsA,
			eff:     domain.EffectiveOdds(oddsA, cfg.CommissionRate),
		},
		{
			line:    pair.B.Line,
			refOdds: pair.B.AmericanOdds,
			odds:    oddsB,
			eff:     domain.EffectiveOdds(oddsB, cfg.CommissionRate),
		},
	}
}

// fitsLeg reports whether the leg's stake respects bet-size bounds and the
// line's remaining ceiling capacity.
func fitsLeg(l leg, positions map[string]domain.PositionRecord, ceiling float64, cfg Config) bool {
	if l.stake < cfg.MinBetSize || l.stake > cfg.MaxBetSize {
		return false
	}
	pos := positions[l.line.Key()]
	return pos.RemainingCapacity(ceiling) >= l.stake
}

func atCeiling(l leg, positions map[string]domain.PositionRecord, ceiling float64) bool {
	pos := positions[l.line.Key()]
	return pos.RemainingCapacity(ceiling) <= 0
}

// singleSided falls back to an unbalanced position when the pair cannot be
// sized. Placed only when the lone side is +EV versus the reference price —
// the effective odds we earn must be at least as good as the price we copy.
// Anything worse is skipped rather than guessed at.
func singleSided(l leg, positions map[string]domain.PositionRecord, ceiling float64, cfg Config) Plan {
	if l.eff < l.refOdds {
		return Plan{Skip: SkipUnprofitable}
	}
	pos := positions[l.line.Key()]
	if remaining := pos.RemainingCapacity(ceiling); l.stake > remaining {
		l.stake = remaining
	}
	if l.stake < cfg.MinBetSize {
		return Plan{Skip: SkipBetBounds}
	}
	return Plan{Wagers: []domain.TargetWager{wagerFor(l, true)}}
}

func wagerFor(l leg, unbalanced bool) domain.TargetWager {
	return domain.TargetWager{
		Line:          l.line,
		Odds:          l.odds,
		EffectiveOdds: l.eff,
		Stake:         l.stake,
		Unbalanced:    unbalanced,
	}
}
