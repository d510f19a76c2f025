package ports

import (
	"context"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// OddsSource fetches reference-book prices. A failed fetch means "no update
// this cycle" — the engine keeps the prior snapshot.
type OddsSource interface {
	// FetchQuotes returns the bookmaker's current quotes for the given sport
	// and market types, one OddsQuote per selection.
	FetchQuotes(ctx context.Context, sport string, markets []domain.MarketType, bookmaker string) ([]domain.OddsQuote, error)
}
