package engine

import (
	"sort"
	"time"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// LineStatus is one tracked line's position and controller state.
type LineStatus struct {
	Line          domain.MarketLine     `json:"line"`
	State         string                `json:"state"`
	CooldownUntil time.Time             `json:"cooldown_until,omitzero"`
	Position      domain.PositionRecord `json:"position"`
}

// Status is the engine's operator-facing summary.
type Status struct {
	Running         bool                   `json:"running"`
	TrackedPairs    int                    `json:"tracked_pairs"`
	OpenWagers      int                    `json:"open_wagers"`
	Exposure        domain.ExposureAccount `json:"exposure"`
	Lines           []LineStatus           `json:"lines"`
	LastPollAt      time.Time              `json:"last_poll_at,omitzero"`
	LastReconcileAt time.Time              `json:"last_reconcile_at,omitzero"`
}

// Status assembles the current summary: tracked lines, exposure and per-line
// controller states, ordered by line key.
func (e *Engine) Status() Status {
	positions := e.ledger.Positions()
	states := e.controller.States()

	lines := make([]LineStatus, 0, len(positions))
	for key, pos := range positions {
		ls := LineStatus{Line: pos.Line, State: "idle", Position: pos}
		if st, ok := states[key]; ok {
			ls.State = st.State.String()
			ls.CooldownUntil = st.CooldownUntil
		}
		lines = append(lines, ls)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Line.Key() < lines[j].Line.Key() })

	e.statusMu.Lock()
	lastPoll, lastReconcile := e.lastPollAt, e.lastReconcileAt
	e.statusMu.Unlock()

	return Status{
		Running:         e.Running(),
		TrackedPairs:    e.quotes.Len(),
		OpenWagers:      len(e.ledger.OpenWagers()),
		Exposure:        e.ledger.Exposure(),
		Lines:           lines,
		LastPollAt:      lastPoll,
		LastReconcileAt: lastReconcile,
	}
}
