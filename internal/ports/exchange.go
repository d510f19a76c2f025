package ports

import (
	"context"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Exchange places, cancels and lists wagers on the betting exchange.
type Exchange interface {
	// SubmitWager submits a wager at the target's odds and stake. The
	// external id is generated by the caller and echoed back.
	SubmitWager(ctx context.Context, target domain.TargetWager, externalID string) (domain.SubmitResult, error)

	// CancelWager cancels a wager by its exchange id.
	CancelWager(ctx context.Context, wagerID string) error

	// ListWagers returns the authoritative wager state for reconciliation.
	ListWagers(ctx context.Context, filters domain.WagerFilters) ([]domain.Wager, error)

	// GetWager fetches a single wager by exchange id.
	GetWager(ctx context.Context, wagerID string) (domain.Wager, error)
}
