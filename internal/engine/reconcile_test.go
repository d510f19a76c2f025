package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/liquidity"
)

func TestReconcileAppliesMissedFill(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	tigers := wagerFor(t, e, "Detroit Tigers")
	require.NoError(t, sim.Fill(tigers.ExternalID, 40))

	require.NoError(t, e.ReconcileOnce(context.Background()))

	pos, ok := e.ledger.Position(tigers.Line)
	require.True(t, ok)
	assert.Equal(t, 40.0, pos.MatchedStake)
	assert.Equal(t, 60.0, pos.UnmatchedStake)
	require.NotNil(t, pos.LastFillAt)
}

func TestReconcileReplayIsIdempotent(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	tigers := wagerFor(t, e, "Detroit Tigers")
	require.NoError(t, sim.Fill(tigers.ExternalID, 40))

	require.NoError(t, e.ReconcileOnce(context.Background()))
	once, _ := e.ledger.Position(tigers.Line)

	require.NoError(t, e.ReconcileOnce(context.Background()))
	twice, _ := e.ledger.Position(tigers.Line)

	assert.Equal(t, once, twice)
}

func TestReconcileAdoptsUnknownWager(t *testing.T) {
	e, _, sim, clk := newTestEngine(testSnapshot())
	line := domain.MarketLine{EventID: "ev9", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}
	now := clk.now()
	sim.Adopt(domain.Wager{
		WagerID:        "px-77",
		ExternalID:     "ext-orphan",
		Line:           line,
		Odds:           112,
		Stake:          100,
		MatchedStake:   25,
		UnmatchedStake: 75,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchPartial,
		PlacedAt:       now.Add(-time.Hour),
		UpdatedAt:      now,
	})

	require.NoError(t, e.ReconcileOnce(context.Background()))

	pos, ok := e.ledger.Position(line)
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.TotalStake)
	assert.Equal(t, 25.0, pos.MatchedStake)
	assert.Equal(t, liquidity.AwaitingFill, e.controller.State(line).State)
}

func TestReconcileSkipsAdoptionForStoppedLine(t *testing.T) {
	e, _, sim, clk := newTestEngine(testSnapshot())
	line := domain.MarketLine{EventID: "ev9", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}
	e.controller.Stop(line)

	sim.Adopt(domain.Wager{
		WagerID:        "px-77",
		ExternalID:     "ext-orphan",
		Line:           line,
		Odds:           112,
		Stake:          100,
		MatchedStake:   100,
		UnmatchedStake: 0,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchFull,
		UpdatedAt:      clk.now(),
	})

	require.NoError(t, e.ReconcileOnce(context.Background()))
	_, ok := e.ledger.Position(line)
	assert.False(t, ok)
}

func TestReconcileReleasesVanishedWager(t *testing.T) {
	e, _, _, clk := newTestEngine(testSnapshot())
	line := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}

	// A wager the ledger knows but the exchange has no trace of, well past
	// the submission grace window.
	e.ledger.Adopt(domain.Wager{
		WagerID:        "px-5",
		ExternalID:     "ext-gone",
		Line:           line,
		Odds:           112,
		Stake:          100,
		MatchedStake:   30,
		UnmatchedStake: 70,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchPartial,
		PlacedAt:       clk.now().Add(-time.Hour),
	})

	require.NoError(t, e.ReconcileOnce(context.Background()))

	pos, ok := e.ledger.Position(line)
	require.True(t, ok)
	assert.Equal(t, 0.0, pos.UnmatchedStake)
	assert.Equal(t, 30.0, pos.MatchedStake)
	assert.Equal(t, 30.0, pos.TotalStake)
}

func TestReconcileGraceWindowProtectsFreshSubmissions(t *testing.T) {
	e, _, _, clk := newTestEngine(testSnapshot())
	line := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}

	e.ledger.Adopt(domain.Wager{
		ExternalID:     "ext-fresh",
		Line:           line,
		Odds:           112,
		Stake:          100,
		UnmatchedStake: 100,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchUnmatched,
		PlacedAt:       clk.now(),
	})
	e.markPending("ext-fresh")

	// Not visible on the exchange yet, but inside the grace window: the
	// optimistic placement must survive.
	require.NoError(t, e.ReconcileOnce(context.Background()))
	pos, _ := e.ledger.Position(line)
	assert.Equal(t, 100.0, pos.UnmatchedStake)

	// Once the grace window lapses the wager is treated as lost.
	clk.advance(time.Minute)
	require.NoError(t, e.ReconcileOnce(context.Background()))
	pos, _ = e.ledger.Position(line)
	assert.Equal(t, 0.0, pos.UnmatchedStake)
}

func TestReconcileVanishedWagerDropsPendingMark(t *testing.T) {
	e, _, _, clk := newTestEngine(testSnapshot())
	line := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}

	e.ledger.Adopt(domain.Wager{
		ExternalID:     "ext-fresh",
		Line:           line,
		Odds:           112,
		Stake:          100,
		UnmatchedStake: 100,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchUnmatched,
		PlacedAt:       clk.now(),
	})
	e.markPending("ext-fresh")

	// Grace lapses and the wager is released; its pending mark must not
	// linger in the map afterwards.
	clk.advance(time.Minute)
	require.NoError(t, e.ReconcileOnce(context.Background()))

	e.pendingMu.Lock()
	_, tracked := e.pending["ext-fresh"]
	e.pendingMu.Unlock()
	assert.False(t, tracked)
}

func TestReconcileSealedWagerReleasesUnmatched(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	tigers := wagerFor(t, e, "Detroit Tigers")
	require.NoError(t, sim.Fill(tigers.ExternalID, 40))
	require.NoError(t, sim.CancelWager(context.Background(), tigers.WagerID))

	require.NoError(t, e.ReconcileOnce(context.Background()))

	pos, ok := e.ledger.Position(tigers.Line)
	require.True(t, ok)
	assert.Equal(t, 40.0, pos.MatchedStake)
	assert.Equal(t, 0.0, pos.UnmatchedStake)
	assert.Equal(t, 40.0, pos.TotalStake)
}
