package domain

import (
	"fmt"
	"math"
	"time"
)

// MarketType is the kind of market a line belongs to.
type MarketType string

const (
	MarketMoneyline MarketType = "moneyline"
	MarketSpread    MarketType = "spread"
	MarketTotal     MarketType = "total"
)

// MarketLine identifies one bettable proposition: a single selection on a
// single market of a single event. A point change on a spread or total is a
// different line.
type MarketLine struct {
	EventID   string
	Market    MarketType
	Selection string
	Point     float64 // 0 for moneyline
}

// Key is a stable map key for the line.
func (l MarketLine) Key() string {
	if l.Market == MarketMoneyline {
		return fmt.Sprintf("%s/%s/%s", l.EventID, l.Market, l.Selection)
	}
	return fmt.Sprintf("%s/%s/%s/%g", l.EventID, l.Market, l.Selection, l.Point)
}

// PairKey identifies the two-sided market the line belongs to — both
// selections share it. Spread points carry opposite signs per side, so the
// key uses the handicap magnitude.
func (l MarketLine) PairKey() string {
	if l.Market == MarketMoneyline {
		return fmt.Sprintf("%s/%s", l.EventID, l.Market)
	}
	return fmt.Sprintf("%s/%s/%g", l.EventID, l.Market, math.Abs(l.Point))
}

// OddsQuote is one observed reference-book price for a line.
type OddsQuote struct {
	Line         MarketLine
	AmericanOdds int
	CommenceTime time.Time // event start, used for the pre-game cutoff
	ObservedAt   time.Time
}

// QuotePair holds the reference quotes for both selections of a market.
// Side ordering is fixed by the snapshot store (lexicographic by selection)
// so repeated observations of the same pair compare positionally.
type QuotePair struct {
	A OddsQuote
	B OddsQuote
}

// PairKey returns the shared pair key of both quotes.
func (p QuotePair) PairKey() string { return p.A.Line.PairKey() }

// CommenceTime returns the event start time carried by the quotes.
func (p QuotePair) CommenceTime() time.Time { return p.A.CommenceTime }

// MaxDelta returns the largest absolute odds-point move between two
// observations of the same pair.
func (p QuotePair) MaxDelta(prev QuotePair) int {
	da := absInt(p.A.AmericanOdds - prev.A.AmericanOdds)
	db := absInt(p.B.AmericanOdds - prev.B.AmericanOdds)
	if da > db {
		return da
	}
	return db
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
