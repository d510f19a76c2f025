// Package liquidity drives the per-line increment policy: after a fill, wait
// out a cooldown, then add another slice of liquidity until the position
// ceiling is reached.
package liquidity

import (
	"sync"
	"time"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// State is a line's place in the increment lifecycle.
type State int

const (
	// Idle — no wagers out for the line yet.
	Idle State = iota
	// AwaitingFill — liquidity is resting on the exchange.
	AwaitingFill
	// Cooldown — a fill landed; holding off before the next increment.
	Cooldown
	// CeilingReached — the line is fully built out. Terminal for increments,
	// reopened only by removing the line.
	CeilingReached
	// Stopped — line left tracking (event started or operator close).
	// Terminal: late fills no longer trigger increments.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFill:
		return "awaiting_fill"
	case Cooldown:
		return "cooldown"
	case CeilingReached:
		return "ceiling_reached"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LineState is a line's controller state with its cooldown deadline.
type LineState struct {
	State         State
	CooldownUntil time.Time
}

// Controller tracks the state machine for every line. Cooldowns are logical
// deadlines swept by the engine, never per-line timers.
type Controller struct {
	mu    sync.Mutex
	wait  time.Duration
	lines map[string]*LineState // line key → state
}

// New creates a controller with the given fill-wait period.
func New(fillWait time.Duration) *Controller {
	return &Controller{wait: fillWait, lines: make(map[string]*LineState)}
}

// SetFillWait adjusts the cooldown length for future fills.
func (c *Controller) SetFillWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wait = d
}

// OnPlacement moves a line to AwaitingFill after a wager lands on the
// exchange. No-op for terminal lines.
func (c *Controller) OnPlacement(line domain.MarketLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.state(line.Key())
	if ls.State == Stopped || ls.State == CeilingReached {
		return
	}
	ls.State = AwaitingFill
	ls.CooldownUntil = time.Time{}
}

// OnFill starts the cooldown clock when a fill (partial or full) lands on a
// line awaiting one.
func (c *Controller) OnFill(line domain.MarketLine, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.state(line.Key())
	if ls.State != AwaitingFill {
		return
	}
	ls.State = Cooldown
	ls.CooldownUntil = now.Add(c.wait)
}

// Due returns the lines whose cooldown has expired. The engine decides
// whether each gets an increment or has hit its ceiling.
func (c *Controller) Due(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due []string
	for key, ls := range c.lines {
		if ls.State == Cooldown && !now.Before(ls.CooldownUntil) {
			due = append(due, key)
		}
	}
	return due
}

// OnQuoteChange reports whether a materially-changed quote may supersede the
// line's pending increments. Terminal states refuse; everything else resets
// to Idle so fresh planning starts from the new price.
func (c *Controller) OnQuoteChange(line domain.MarketLine) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.state(line.Key())
	if ls.State == Stopped || ls.State == CeilingReached {
		return false
	}
	ls.State = Idle
	ls.CooldownUntil = time.Time{}
	return true
}

// ReachedCeiling marks a line fully built out.
func (c *Controller) ReachedCeiling(line domain.MarketLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.state(line.Key())
	if ls.State == Stopped {
		return
	}
	ls.State = CeilingReached
	ls.CooldownUntil = time.Time{}
}

// Stop terminally halts a line. Late-arriving fills are ignored afterwards.
func (c *Controller) Stop(line domain.MarketLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.state(line.Key())
	ls.State = Stopped
	ls.CooldownUntil = time.Time{}
}

// StopAll terminally halts every tracked line.
func (c *Controller) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ls := range c.lines {
		ls.State = Stopped
		ls.CooldownUntil = time.Time{}
	}
}

// Remove drops a line from the controller entirely.
func (c *Controller) Remove(line domain.MarketLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, line.Key())
}

// State returns a line's current state (Idle for unknown lines).
func (c *Controller) State(line domain.MarketLine) LineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ls, ok := c.lines[line.Key()]; ok {
		return *ls
	}
	return LineState{State: Idle}
}

// States returns a copy of every tracked line's state, keyed by line key.
func (c *Controller) States() map[string]LineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]LineState, len(c.lines))
	for k, ls := range c.lines {
		out[k] = *ls
	}
	return out
}

// state returns the tracked state for a key, creating it when absent.
// Caller holds the lock.
func (c *Controller) state(key string) *LineState {
	ls, ok := c.lines[key]
	if !ok {
		ls = &LineState{State: Idle}
		c.lines[key] = ls
	}
	return ls
}
