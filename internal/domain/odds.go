package domain

import "math"

// odds.go — american odds arithmetic shared by the planner and the ledger.
//
// All exchange odds are integers on the exchange's allowed ladder. Commission
// applies to net winnings only, so positive odds shrink and negative odds
// grow in magnitude once adjusted.

// DecimalWin returns the net winnings per unit staked at the given american
// odds: +150 → 1.5, -200 → 0.5. Returns 0 for odds inside (-100, 100), which
// are not valid american prices.
func DecimalWin(odds int) float64 {
	switch {
	case odds >= 100:
		return float64(odds) / 100
	case odds <= -100:
		return 100 / float64(-odds)
	default:
		return 0
	}
}

// OppositeOdds returns the price the matched counterparty receives. Betting a
// selection at +112 offers the other side -112.
func OppositeOdds(odds int) int { return -odds }

// EffectiveOdds applies the exchange commission to winnings and returns the
// resulting price rounded to an integer. Positive odds pay less (+112 at 3%
// → +109); negative odds must risk more (-103 at 3% → -106).
func EffectiveOdds(odds int, commission float64) int {
	if commission <= 0 {
		return odds
	}
	if odds > 0 {
		return int(math.Round(float64(odds) * (1 - commission)))
	}
	return -int(math.Round(float64(-odds) / (1 - commission)))
}

// PairProfitable reports whether a two-sided position at the given effective
// odds guarantees a non-negative return when payouts are balanced. With
// net-win rates w1, w2 the balanced pair profits iff w1·w2 ≥ 1.
func PairProfitable(effOdds1, effOdds2 int) bool {
	return DecimalWin(effOdds1)*DecimalWin(effOdds2) >= 1
}

// BalancedStake sizes the second wager of a pair so total payout is equal
// across both outcomes: stake2 = stake1·(1+w1)/(1+w2).
func BalancedStake(stake1 float64, effOdds1, effOdds2 int) float64 {
	w1 := DecimalWin(effOdds1)
	w2 := DecimalWin(effOdds2)
	if w2 <= 0 {
		return 0
	}
	return stake1 * (1 + w1) / (1 + w2)
}

// GuaranteedProfit returns the worst-case return of a two-wager position
// after commission. Negative means the pair loses on some outcome.
func GuaranteedProfit(stake1 float64, effOdds1 int, stake2 float64, effOdds2 int) float64 {
	p1 := stake1*DecimalWin(effOdds1) - stake2
	p2 := stake2*DecimalWin(effOdds2) - stake1
	return math.Min(p1, p2)
}

// oddsLadder is the exchange's full set of allowed american odds (positive
// magnitudes; every entry is allowed with either sign). Spacing widens as
// prices get longer.
var oddsLadder = buildOddsLadder()

func buildOddsLadder() []int {
	var ladder []int
	for v := 100; v <= 129; v++ {
		ladder = append(ladder, v)
	}
	for v := 130; v <= 198; v += 2 {
		ladder = append(ladder, v)
	}
	for v := 200; v <= 495; v += 5 {
		ladder = append(ladder, v)
	}
	for v := 500; v <= 1000; v += 20 {
		ladder = append(ladder, v)
	}
	for v := 1100; v <= 2000; v += 100 {
		ladder = append(ladder, v)
	}
	for v := 2250; v <= 3000; v += 250 {
		ladder = append(ladder, v)
	}
	for v := 3500; v <= 25000; v += 500 {
		ladder = append(ladder, v)
	}
	return ladder
}

// RoundToLadder snaps odds to the nearest allowed exchange price, keeping the
// sign. Ties resolve toward the shorter price.
func RoundToLadder(odds int) int {
	neg := odds < 0
	mag := odds
	if neg {
		mag = -odds
	}
	if mag <= oddsLadder[0] {
		mag = oddsLadder[0]
	} else if mag >= oddsLadder[len(oddsLadder)-1] {
		mag = oddsLadder[len(oddsLadder)-1]
	} else {
		best := oddsLadder[0]
		bestDiff := math.MaxInt
		for _, v := range oddsLadder {
			d := absInt(v - mag)
			if d < bestDiff {
				best, bestDiff = v, d
			}
			if v > mag {
				break
			}
		}
		mag = best
	}
	if neg {
		return -mag
	}
	return mag
}
