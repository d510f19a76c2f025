package ports

import (
	"context"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Event is a notable engine occurrence pushed to notifiers.
type Event struct {
	Kind    EventKind
	Line    domain.MarketLine
	Message string
	Amount  float64 // stake or fill amount, when it applies
}

// EventKind classifies notifier events.
type EventKind string

const (
	EventFill    EventKind = "fill"
	EventDrift   EventKind = "drift"
	EventCeiling EventKind = "ceiling"
	EventStopped EventKind = "stopped"
	EventPlaced  EventKind = "placed"
)

// Notifier surfaces engine events to the operator.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
