package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecimalWin(t *testing.T) {
	assert.InDelta(t, 1.12, DecimalWin(112), 0.0001)
	assert.InDelta(t, 100.0/103.0, DecimalWin(-103), 0.0001)
	assert.InDelta(t, 1.0, DecimalWin(100), 0.0001)
	assert.InDelta(t, 1.0, DecimalWin(-100), 0.0001)
	assert.Equal(t, 0.0, DecimalWin(50), "odds inside (-100,100) are invalid")
}

func TestEffectiveOdds_Commission(t *testing.T) {
	// +112 at 3%: 112×0.97 = 108.64 → +109
	assert.Equal(t, 109, EffectiveOdds(112, 0.03))
	// -103 at 3%: 103/0.97 = 106.19 → -106
	assert.Equal(t, -106, EffectiveOdds(-103, 0.03))
	// zero commission passes through
	assert.Equal(t, -150, EffectiveOdds(-150, 0))
}

func TestBalancedStake_ReferenceScenario(t *testing.T) {
	// +109/-106 effective pair, $100 base:
	// stake2 = 100×(1+1.09)/(1+100/106) = 209/1.943396 = 107.54
	stake2 := BalancedStake(100, 109, -106)
	assert.InDelta(t, 107.54, stake2, 0.01)

	profit := GuaranteedProfit(100, 109, stake2, -106)
	assert.InDelta(t, 1.45, profit, 0.02)
	assert.GreaterOrEqual(t, profit, 0.0)
}

func TestPairProfitable(t *testing.T) {
	assert.True(t, PairProfitable(109, -106))
	// symmetric -110/-110 pair loses the vig on both sides
	assert.False(t, PairProfitable(-110, -110))
}

func TestRoundToLadder(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{112, 112},    // already allowed
		{-103, -103},  // already allowed
		{131, 130},    // tie in the step-2 band resolves short
		{197, 196},    // 196 vs 198: 197 is a tie, shorter wins
		{-133, -132},  // step-2 band
		{303, 305},    // step-5 band
		{512, 520},    // 512: 500 vs 520 → 520 is 8 away, 500 is 12 → 520
		{-26000, -25000}, // clamped to longest allowed price
		{80, 100},     // clamped to shortest allowed price
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RoundToLadder(tc.in), "RoundToLadder(%d)", tc.in)
	}
}

func TestMarketLineKeys(t *testing.T) {
	a := MarketLine{EventID: "ev1", Market: MarketSpread, Selection: "Tigers", Point: -1.5}
	b := MarketLine{EventID: "ev1", Market: MarketSpread, Selection: "Rays", Point: 1.5}
	assert.NotEqual(t, a.Key(), b.Key())
	// opposite-signed handicaps are the two sides of one spread market
	assert.Equal(t, a.PairKey(), b.PairKey())

	ml := MarketLine{EventID: "ev1", Market: MarketMoneyline, Selection: "Tigers"}
	assert.Equal(t, "ev1/moneyline", ml.PairKey())
}
