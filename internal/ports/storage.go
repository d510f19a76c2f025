package ports

import (
	"context"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Storage persists wager projections so reconciliation can reattach to
// exchange wagers (keyed by external id) after a process restart.
type Storage interface {
	ApplySchema(ctx context.Context) error

	SaveWager(ctx context.Context, w domain.Wager) error
	UpdateWagerFill(ctx context.Context, externalID string, matchedStake float64, status domain.WagerStatus) error
	DeleteWager(ctx context.Context, externalID string) error

	// OpenWagers returns wagers not yet closed/canceled, for restart recovery.
	OpenWagers(ctx context.Context) ([]domain.Wager, error)

	Close() error
}
