package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/mirrormaker/internal/ports"
)

// Multi fans an event out to several notifiers. Delivery failures are
// collected, not short-circuited, so a broken Telegram session never
// silences the console.
type Multi struct {
	targets []ports.Notifier
}

// NewMulti builds a fan-out notifier.
func NewMulti(targets ...ports.Notifier) *Multi {
	return &Multi{targets: targets}
}

// Notify implements ports.Notifier.
func (m *Multi) Notify(ctx context.Context, ev ports.Event) error {
	var errs []error
	for _, n := range m.targets {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
