package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mirrormaker/internal/adapters/prophetx"
	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/liquidity"
)

// fakeSource serves a programmable set of reference quotes.
type fakeSource struct {
	mu     sync.Mutex
	quotes []domain.OddsQuote
	err    error
}

func (f *fakeSource) FetchQuotes(_ context.Context, _ string, _ []domain.MarketType, _ string) ([]domain.OddsQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.OddsQuote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}

func (f *fakeSource) set(quotes []domain.OddsQuote, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = quotes
	f.err = err
}

// clock is a hand-advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testSnapshot() Snapshot {
	return Snapshot{
		Sport:               "baseball_mlb",
		Markets:             []domain.MarketType{domain.MarketMoneyline},
		Bookmaker:           "pinnacle",
		OddsChangeThreshold: 5,
		CommissionRate:      0.03,
		BaseStake:           100,
		PositionMultiplier:  5,
		MinBetSize:          1,
		MaxBetSize:          1000,
		MaxExposurePerEvent: 10000,
		MaxExposureTotal:    50000,
		MaxPlusPosition:     5000,
		MinTimeBeforeStart:  10 * time.Minute,
		FillWaitPeriod:      5 * time.Minute,
	}
}

func refQuotes(commence time.Time, tigersOdds, raysOdds int) []domain.OddsQuote {
	tigers := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}
	rays := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Tampa Bay Rays"}
	return []domain.OddsQuote{
		{Line: tigers, AmericanOdds: tigersOdds, CommenceTime: commence},
		{Line: rays, AmericanOdds: raysOdds, CommenceTime: commence},
	}
}

// newTestEngine wires an engine to a fake source and simulated exchange with
// a controllable clock.
func newTestEngine(snap Snapshot) (*Engine, *fakeSource, *prophetx.Simulator, *clock) {
	src := &fakeSource{}
	sim := prophetx.NewSimulator()
	clk := &clock{t: time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)}
	sim.SetNow(clk.now)

	e := New(src, sim, nil, nil, snap)
	e.now = clk.now
	e.Start()
	return e, src, sim, clk
}

// wagerFor finds the engine's open wager on a selection.
func wagerFor(t *testing.T, e *Engine, selection string) domain.Wager {
	t.Helper()
	for _, w := range e.ledger.OpenWagers() {
		if w.Line.Selection == selection {
			return w
		}
	}
	t.Fatalf("no open wager for %s", selection)
	return domain.Wager{}
}

func TestPollPlacesReplicationPair(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)

	e.pollOnce(context.Background())

	// Tigers backed at the negation of Rays' price, Rays vice versa.
	tigers := wagerFor(t, e, "Detroit Tigers")
	assert.Equal(t, 112, tigers.Odds)
	assert.Equal(t, 100.0, tigers.Stake)

	rays := wagerFor(t, e, "Tampa Bay Rays")
	assert.Equal(t, -103, rays.Odds)
	assert.InDelta(t, 107.54, rays.Stake, 0.01)

	// Both landed on the exchange and are awaiting fills.
	simW, ok := sim.Wager(tigers.ExternalID)
	require.True(t, ok)
	assert.Equal(t, domain.WagerOpen, simW.Status)
	assert.Equal(t, liquidity.AwaitingFill, e.controller.State(tigers.Line).State)

	acct := e.ledger.Exposure()
	assert.InDelta(t, 207.54, acct.TotalExposure, 0.01)
	assert.InDelta(t, 207.54, acct.EventExposure("ev1"), 0.01)
}

func TestPollFetchFailureKeepsSnapshot(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())
	require.Equal(t, 1, e.quotes.Len())

	src.set(nil, errors.New("timeout"))
	e.pollOnce(context.Background())

	// Prior quote retained, positions untouched.
	assert.Equal(t, 1, e.quotes.Len())
	assert.Len(t, e.ledger.OpenWagers(), 2)
}

func TestQuoteMoveCancelsStaleLiquidity(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	commence := clk.now().Add(2 * time.Hour)
	src.set(refQuotes(commence, 103, -112), nil)
	e.pollOnce(context.Background())

	stale := wagerFor(t, e, "Detroit Tigers")

	// Reference moves 8 points — above the 5-point threshold.
	src.set(refQuotes(commence, 111, -120), nil)
	e.pollOnce(context.Background())

	// The stale wager was cancelled on the exchange and replaced.
	simW, ok := sim.Wager(stale.ExternalID)
	require.True(t, ok)
	assert.False(t, simW.Active())

	fresh := wagerFor(t, e, "Detroit Tigers")
	assert.Equal(t, 120, fresh.Odds)
	assert.NotEqual(t, stale.ExternalID, fresh.ExternalID)
}

func TestSmallMoveLeavesWagersAlone(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	commence := clk.now().Add(2 * time.Hour)
	src.set(refQuotes(commence, 103, -112), nil)
	e.pollOnce(context.Background())
	before := wagerFor(t, e, "Detroit Tigers")

	src.set(refQuotes(commence, 105, -112), nil)
	e.pollOnce(context.Background())

	after := wagerFor(t, e, "Detroit Tigers")
	assert.Equal(t, before.ExternalID, after.ExternalID)
}

func TestSubmissionFailureRollsBackLedger(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	sim.FailSubmits(errors.New("exchange down"))

	e.pollOnce(context.Background())

	assert.Empty(t, e.ledger.OpenWagers())
	assert.Equal(t, 0.0, e.ledger.Exposure().TotalExposure)
}

func TestFillCooldownIncrementCeiling(t *testing.T) {
	snap := testSnapshot()
	snap.PositionMultiplier = 2 // ceiling $200: one increment then done
	e, src, sim, clk := newTestEngine(snap)
	src.set(refQuotes(clk.now().Add(6*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	ctx := context.Background()
	tigers := wagerFor(t, e, "Detroit Tigers")

	// Full fill → cooldown.
	require.NoError(t, sim.Fill(tigers.ExternalID, 100))
	require.NoError(t, e.ReconcileOnce(ctx))
	assert.Equal(t, liquidity.Cooldown, e.controller.State(tigers.Line).State)

	// Sweeping before the deadline places nothing.
	e.sweepDue(ctx)
	pos, _ := e.ledger.Position(tigers.Line)
	assert.Equal(t, 100.0, pos.TotalStake)

	// Past the deadline a $100 increment goes out at the same odds.
	clk.advance(5 * time.Minute)
	e.sweepDue(ctx)
	pos, _ = e.ledger.Position(tigers.Line)
	assert.Equal(t, 200.0, pos.TotalStake)
	assert.Equal(t, 1, pos.IncrementsPlaced)
	assert.Equal(t, liquidity.AwaitingFill, e.controller.State(tigers.Line).State)

	// Fill the increment; the next sweep finds no capacity left.
	var incrementID string
	for _, w := range e.ledger.UnmatchedWagers(tigers.Line) {
		incrementID = w.ExternalID
	}
	require.NotEmpty(t, incrementID)
	require.NoError(t, sim.Fill(incrementID, 100))
	require.NoError(t, e.ReconcileOnce(ctx))
	clk.advance(5 * time.Minute)
	e.sweepDue(ctx)

	assert.Equal(t, liquidity.CeilingReached, e.controller.State(tigers.Line).State)
	pos, _ = e.ledger.Position(tigers.Line)
	assert.Equal(t, 200.0, pos.TotalStake)
}

func TestCutoffClosesPair(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())
	tigers := wagerFor(t, e, "Detroit Tigers")

	// Inside the 10-minute pre-game cutoff.
	clk.advance(111 * time.Minute)
	e.closeStartedLines(context.Background())

	assert.Empty(t, e.ledger.OpenWagers())
	assert.Equal(t, 0, e.quotes.Len())
	assert.Equal(t, liquidity.Stopped, e.controller.State(tigers.Line).State)

	simW, ok := sim.Wager(tigers.ExternalID)
	require.True(t, ok)
	assert.False(t, simW.Active())

	// A late fill on the stopped line never schedules an increment.
	e.controller.OnFill(tigers.Line, clk.now())
	assert.Empty(t, e.controller.Due(clk.now().Add(time.Hour)))
}

func TestStopPausesPolling(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)

	e.Stop()
	require.False(t, e.Running())
	// Run's tick guard is what skips work; pollOnce itself stays callable
	// for on-demand use, so assert via Status instead.
	st := e.Status()
	assert.False(t, st.Running)

	e.Start()
	e.pollOnce(context.Background())
	assert.Len(t, e.ledger.OpenWagers(), 2)
}

func TestUpdateConfigTakesEffectNextDecision(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	commence := clk.now().Add(2 * time.Hour)
	src.set(refQuotes(commence, 103, -112), nil)
	e.pollOnce(context.Background())

	next := e.Config()
	next.OddsChangeThreshold = 20
	e.UpdateConfig(next)

	// A 8-point move is now below threshold: nothing replanned.
	before := wagerFor(t, e, "Detroit Tigers")
	src.set(refQuotes(commence, 111, -120), nil)
	e.pollOnce(context.Background())
	after := wagerFor(t, e, "Detroit Tigers")
	assert.Equal(t, before.ExternalID, after.ExternalID)
}

func TestMaxEventsTrackedPrefersEarliest(t *testing.T) {
	snap := testSnapshot()
	snap.MaxEventsTracked = 1
	e, src, _, clk := newTestEngine(snap)

	early := refQuotes(clk.now().Add(time.Hour), 103, -112)
	late := refQuotes(clk.now().Add(3*time.Hour), 120, -130)
	for i := range late {
		late[i].Line.EventID = "ev2"
	}
	src.set(append(early, late...), nil)
	e.pollOnce(context.Background())

	assert.Equal(t, 1, e.quotes.Len())
	_, tracked := e.quotes.Get(domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline}.PairKey())
	assert.True(t, tracked)
}

func TestStatusSummary(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	st := e.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.TrackedPairs)
	assert.Equal(t, 2, st.OpenWagers)
	require.Len(t, st.Lines, 2)
	assert.Equal(t, "awaiting_fill", st.Lines[0].State)
	assert.InDelta(t, 207.54, st.Exposure.TotalExposure, 0.01)
	assert.Equal(t, clk.now(), st.LastPollAt)
}

func TestStatusMarshalsSnakeCase(t *testing.T) {
	e, src, _, clk := newTestEngine(testSnapshot())
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	b, err := json.Marshal(e.Status())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"position":`)
	assert.NotContains(t, string(b), `"Position"`)
}

func TestConcurrentPairsHonorTotalExposureCap(t *testing.T) {
	snap := testSnapshot()
	snap.MaxExposureTotal = 350 // room for one ~$207.54 pair, not two
	snap.Workers = 2
	e, src, _, clk := newTestEngine(snap)

	commence := clk.now().Add(2 * time.Hour)
	mets := domain.MarketLine{EventID: "ev2", Market: domain.MarketMoneyline, Selection: "New York Mets"}
	phillies := domain.MarketLine{EventID: "ev2", Market: domain.MarketMoneyline, Selection: "Philadelphia Phillies"}
	qs := append(refQuotes(commence, 103, -112),
		domain.OddsQuote{Line: mets, AmericanOdds: 103, CommenceTime: commence},
		domain.OddsQuote{Line: phillies, AmericanOdds: -112, CommenceTime: commence},
	)
	src.set(qs, nil)

	// Both pairs replan in parallel; admission must see the other pair's
	// reservation, so exactly one lands.
	e.pollOnce(context.Background())

	exposure := e.ledger.Exposure()
	assert.LessOrEqual(t, exposure.TotalExposure, 350.0)
	assert.InDelta(t, 207.54, exposure.TotalExposure, 0.01)
	assert.Len(t, e.ledger.OpenWagers(), 2)
}

func TestRestartReplanReplacesRecoveredLiquidity(t *testing.T) {
	e, src, sim, clk := newTestEngine(testSnapshot())
	tigers := domain.MarketLine{EventID: "ev1", Market: domain.MarketMoneyline, Selection: "Detroit Tigers"}

	// A fully-unmatched wager from a previous process, still resting on the
	// exchange, reloaded the way Recover does.
	recovered := domain.Wager{
		ExternalID:     "ext-old",
		WagerID:        "px-old",
		Line:           tigers,
		Odds:           112,
		Stake:          100,
		UnmatchedStake: 100,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchUnmatched,
		PlacedAt:       clk.now().Add(-time.Hour),
		UpdatedAt:      clk.now().Add(-time.Hour),
	}
	sim.Adopt(recovered)
	e.ledger.Adopt(recovered)
	e.controller.OnPlacement(tigers)

	// First poll after the restart, reference price unchanged: the resting
	// wager is pulled before fresh liquidity is planned, never stacked.
	src.set(refQuotes(clk.now().Add(2*time.Hour), 103, -112), nil)
	e.pollOnce(context.Background())

	pos, ok := e.ledger.Position(tigers)
	require.True(t, ok)
	assert.InDelta(t, 100.0, pos.UnmatchedStake, 0.01)
	assert.InDelta(t, 100.0, pos.TotalStake, 0.01)

	old, ok := sim.Wager("ext-old")
	require.True(t, ok)
	assert.Equal(t, domain.WagerCanceled, old.Status)
}
