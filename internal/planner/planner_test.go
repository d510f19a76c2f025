package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

func testConfig() Config {
	return Config{
		CommissionRate:     0.03,
		BaseStake:          100,
		PositionMultiplier: 5,
		MinBetSize:         5,
		MaxBetSize:         200,
		MinTimeBeforeStart: 15 * time.Minute,
	}
}

func moneylinePair(oddsA, oddsB int, commence time.Time) domain.QuotePair {
	now := time.Now()
	return domain.QuotePair{
		A: domain.OddsQuote{
			Line:         domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Rays"},
			AmericanOdds: oddsA,
			CommenceTime: commence,
			ObservedAt:   now,
		},
		B: domain.OddsQuote{
			Line:         domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Tigers"},
			AmericanOdds: oddsB,
			CommenceTime: commence,
			ObservedAt:   now,
		},
	}
}

// Reference scenario: Tigers +103 / Rays -112, 3% commission, $100 base.
// Expected: Tigers wager at +112 (effective +109) $100, Rays wager at -103
// (effective -106) ≈$107.54, guaranteed profit ≈$1.46.
func TestPlanPair_ReferenceScenario(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-112, 103, now.Add(3*time.Hour))

	plan := PlanPair(pair, nil, now, testConfig())
	require.False(t, plan.NoOp())
	require.Len(t, plan.Wagers, 2)

	tigers, rays := plan.Wagers[0], plan.Wagers[1]
	if tigers.Line.Selection != "Tigers" {
		tigers, rays = rays, tigers
	}

	assert.Equal(t, 112, tigers.Odds)
	assert.Equal(t, 109, tigers.EffectiveOdds)
	assert.InDelta(t, 100.0, tigers.Stake, 0.001)

	assert.Equal(t, -103, rays.Odds)
	assert.Equal(t, -106, rays.EffectiveOdds)
	assert.InDelta(t, 107.54, rays.Stake, 0.01)

	profit := domain.GuaranteedProfit(tigers.Stake, tigers.EffectiveOdds, rays.Stake, rays.EffectiveOdds)
	assert.InDelta(t, 1.45, profit, 0.02)
	assert.GreaterOrEqual(t, profit, 0.0, "accepted pairs must not lose on any outcome")
}

func TestPlanPair_CutoffSkips(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-112, 103, now.Add(10*time.Minute))
	plan := PlanPair(pair, nil, now, testConfig())
	assert.True(t, plan.NoOp())
	assert.Equal(t, SkipCutoff, plan.Skip)
}

func TestPlanPair_CeilingSkips(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-112, 103, now.Add(3*time.Hour))
	positions := map[string]domain.PositionRecord{
		pair.A.Line.Key(): {Line: pair.A.Line, TotalStake: 500},
		pair.B.Line.Key(): {Line: pair.B.Line, TotalStake: 500},
	}
	plan := PlanPair(pair, positions, now, testConfig())
	assert.Equal(t, SkipCeiling, plan.Skip)
}

// A heavy favorite cannot be paired: the balanced stake on the minus side
// overflows the max bet. The plus side goes out alone as an unbalanced +EV
// position.
func TestPlanPair_SingleSidedFallback(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-600, 400, now.Add(3*time.Hour))

	plan := PlanPair(pair, nil, now, testConfig())
	require.Len(t, plan.Wagers, 1)
	w := plan.Wagers[0]
	assert.Equal(t, "Tigers", w.Line.Selection)
	assert.Equal(t, 600, w.Odds)
	assert.True(t, w.Unbalanced)
	assert.GreaterOrEqual(t, w.EffectiveOdds, 400, "lone side must beat the reference price")
}

// Mirroring a vig-laden book collects the overround, so a normal -110/-110
// reference line stays profitable even after commission.
func TestPlanPair_VigLineProfitable(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-110, -110, now.Add(3*time.Hour))
	plan := PlanPair(pair, nil, now, testConfig())
	require.Len(t, plan.Wagers, 2)
	assert.GreaterOrEqual(t,
		domain.GuaranteedProfit(plan.Wagers[0].Stake, plan.Wagers[0].EffectiveOdds,
			plan.Wagers[1].Stake, plan.Wagers[1].EffectiveOdds),
		0.0)
}

// A low-vig line leaves no margin once commission is taken out; the pair is
// skipped rather than placed at a guaranteed loss.
func TestPlanPair_UnprofitableSkipped(t *testing.T) {
	now := time.Now()
	pair := moneylinePair(-105, 100, now.Add(3*time.Hour))
	plan := PlanPair(pair, nil, now, testConfig())
	assert.True(t, plan.NoOp())
	assert.Equal(t, SkipUnprofitable, plan.Skip)
}

func TestPlanIncrement(t *testing.T) {
	line := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Tigers"}
	cfg := testConfig()

	w, ok := PlanIncrement(domain.PositionRecord{Line: line, TotalStake: 200, CurrentOdds: 112}, cfg)
	require.True(t, ok)
	assert.True(t, w.IsIncrement)
	assert.InDelta(t, 100.0, w.Stake, 0.001)
	assert.Equal(t, 112, w.Odds)

	// capped so the ceiling is never crossed
	w, ok = PlanIncrement(domain.PositionRecord{Line: line, TotalStake: 460, CurrentOdds: 112}, cfg)
	require.True(t, ok)
	assert.InDelta(t, 40.0, w.Stake, 0.001)

	// nothing meaningful left under the ceiling
	_, ok = PlanIncrement(domain.PositionRecord{Line: line, TotalStake: 498, CurrentOdds: 112}, cfg)
	assert.False(t, ok)
}
