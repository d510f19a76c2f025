// Package notify surfaces engine events to the operator: a console writer
// with a tabular status view, and an optional Telegram pusher.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/mirrormaker/internal/engine"
	"github.com/alejandrodnm/mirrormaker/internal/ports"
)

// Console implements ports.Notifier on a plain writer.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify prints one event line.
func (c *Console) Notify(_ context.Context, ev ports.Event) error {
	now := time.Now().Format("15:04:05")
	_, err := fmt.Fprintf(c.out, "[%s][%s] %s\n", now, tag(ev.Kind), ev.Message)
	return err
}

func tag(kind ports.EventKind) string {
	switch kind {
	case ports.EventFill:
		return "FILL"
	case ports.EventDrift:
		return "DRIFT"
	case ports.EventCeiling:
		return "CEIL"
	case ports.EventStopped:
		return "STOP"
	case ports.EventPlaced:
		return "BET"
	default:
		return string(kind)
	}
}

// PrintStatus renders the engine summary as a table: one row per tracked
// line plus the exposure totals.
func (c *Console) PrintStatus(st engine.Status) {
	mode := "paused"
	if st.Running {
		mode = "running"
	}
	fmt.Fprintf(c.out, "\n[%s] %s — %d pairs, %d open wagers\n",
		time.Now().Format("15:04:05"), mode, st.TrackedPairs, st.OpenWagers)

	if len(st.Lines) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Line", "State", "Odds", "Total$", "Matched$", "Open$", "Incr", "Cooldown")

		for _, ls := range st.Lines {
			cooldown := "-"
			if !ls.CooldownUntil.IsZero() {
				cooldown = ls.CooldownUntil.Format("15:04:05")
			}
			table.Append(
				ls.Line.Key(),
				ls.State,
				fmt.Sprintf("%+d", ls.Position.CurrentOdds),
				fmt.Sprintf("%.2f", ls.Position.TotalStake),
				fmt.Sprintf("%.2f", ls.Position.MatchedStake),
				fmt.Sprintf("%.2f", ls.Position.UnmatchedStake),
				fmt.Sprintf("%d", ls.Position.IncrementsPlaced),
				cooldown,
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "  Exposure: $%.2f total across %d events\n",
		st.Exposure.TotalExposure, len(st.Exposure.PerEvent))
	for event, amount := range st.Exposure.PerEvent {
		fmt.Fprintf(c.out, "    %s: $%.2f\n", event, amount)
	}
	fmt.Fprintln(c.out)
}

// StatusLoop renders the summary on a fixed cadence until the context is
// cancelled.
func (c *Console) StatusLoop(ctx context.Context, every time.Duration, status func() engine.Status) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.PrintStatus(status())
		}
	}
}
