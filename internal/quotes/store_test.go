package quotes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

func quote(event, sel string, odds int) domain.OddsQuote {
	return domain.OddsQuote{
		Line:         domain.MarketLine{EventID: event, Market: domain.MarketMoneyline, Selection: sel},
		AmericanOdds: odds,
		CommenceTime: time.Now().Add(3 * time.Hour),
		ObservedAt:   time.Now(),
	}
}

func TestUpdate_FirstObservationIsAChange(t *testing.T) {
	s := New()
	changes := s.Update([]domain.OddsQuote{
		quote("ev1", "Rays", -112),
		quote("ev1", "Tigers", 103),
	}, 5)

	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Prev)
	assert.Equal(t, 0, changes[0].Delta)
	// lexicographic side ordering: Rays before Tigers
	assert.Equal(t, "Rays", changes[0].Pair.A.Line.Selection)
}

func TestUpdate_BelowThresholdIsQuiet(t *testing.T) {
	s := New()
	s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 103), quote("ev1", "Rays", -112)}, 5)

	changes := s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 106), quote("ev1", "Rays", -114)}, 5)
	assert.Empty(t, changes, "3 and 2 point moves are under a 5 point threshold")

	changes = s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 112), quote("ev1", "Rays", -114)}, 5)
	require.Len(t, changes, 1)
	assert.Equal(t, 6, changes[0].Delta)
	require.NotNil(t, changes[0].Prev)
	assert.Equal(t, 106, changes[0].Prev.B.AmericanOdds)
}

func TestUpdate_SingleSidedMarketSkipped(t *testing.T) {
	s := New()
	changes := s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 103)}, 5)
	assert.Empty(t, changes)
	assert.Equal(t, 0, s.Len())
}

func TestUpdate_AbsentPairRetained(t *testing.T) {
	s := New()
	s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 103), quote("ev1", "Rays", -112)}, 5)
	s.Update([]domain.OddsQuote{quote("ev2", "Mets", 120), quote("ev2", "Cubs", -130)}, 5)

	_, ok := s.Get("ev1/moneyline")
	assert.True(t, ok, "pairs missing from a poll keep their prior quote")
	assert.Equal(t, 2, s.Len())
}

func TestRemove(t *testing.T) {
	s := New()
	s.Update([]domain.OddsQuote{quote("ev1", "Tigers", 103), quote("ev1", "Rays", -112)}, 5)
	s.Remove("ev1/moneyline")
	_, ok := s.Get("ev1/moneyline")
	assert.False(t, ok)
}
