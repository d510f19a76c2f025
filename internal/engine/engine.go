// Package engine owns the polling and reconciliation loops that turn
// reference-book quotes into resting exchange liquidity.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/ledger"
	"github.com/alejandrodnm/mirrormaker/internal/liquidity"
	"github.com/alejandrodnm/mirrormaker/internal/planner"
	"github.com/alejandrodnm/mirrormaker/internal/ports"
	"github.com/alejandrodnm/mirrormaker/internal/quotes"
	"github.com/alejandrodnm/mirrormaker/internal/risk"
)

const (
	defaultPollInterval      = 30 * time.Second
	defaultReconcileInterval = 60 * time.Second
	defaultWorkers           = 4

	// Cooldown deadlines and pre-game cutoffs are swept on this cadence.
	sweepInterval = 5 * time.Second

	// A just-submitted wager may lag the exchange's list endpoint; within
	// this window its absence is not treated as a cancellation.
	reconcileGrace = 30 * time.Second

	// This many consecutive reconciliation failures means the exchange is
	// unreachable and resting liquidity can no longer be supervised.
	maxReconcileFailures = 5
)

// Snapshot is the runtime-tunable configuration, read once per decision
// point. UpdateConfig swaps the whole snapshot atomically so no decision
// mixes old and new values.
type Snapshot struct {
	Sport     string
	Markets   []domain.MarketType
	Bookmaker string

	OddsChangeThreshold int // absolute american-odds points
	CommissionRate      float64
	BaseStake           float64
	PositionMultiplier  float64
	MinBetSize          float64
	MaxBetSize          float64
	MaxExposurePerEvent float64
	MaxExposureTotal    float64
	MaxPlusPosition     float64

	MinTimeBeforeStart time.Duration
	FillWaitPeriod     time.Duration
	PollInterval       time.Duration
	ReconcileInterval  time.Duration

	MaxEventsTracked int
	EventsLookahead  time.Duration
	Workers          int
}

func (s Snapshot) plannerConfig() planner.Config {
	return planner.Config{
		CommissionRate:     s.CommissionRate,
		BaseStake:          s.BaseStake,
		PositionMultiplier: s.PositionMultiplier,
		MinBetSize:         s.MinBetSize,
		MaxBetSize:         s.MaxBetSize,
		MinTimeBeforeStart: s.MinTimeBeforeStart,
	}
}

func (s Snapshot) riskLimits() risk.Limits {
	return risk.Limits{
		MinBetSize:          s.MinBetSize,
		MaxBetSize:          s.MaxBetSize,
		MaxExposurePerEvent: s.MaxExposurePerEvent,
		MaxExposureTotal:    s.MaxExposureTotal,
		MaxPlusPosition:     s.MaxPlusPosition,
	}
}

// Engine wires the snapshot store, planner, ledger, liquidity controller and
// risk limits into the two periodic loops, serializing all work for a market
// behind a per-pair lock.
type Engine struct {
	source   ports.OddsSource
	exchange ports.Exchange
	storage  ports.Storage  // nil when persistence is disabled
	notifier ports.Notifier // nil when no notifier is configured

	quotes     *quotes.Store
	ledger     *ledger.Ledger
	controller *liquidity.Controller

	cfg     atomic.Pointer[Snapshot]
	running atomic.Bool
	now     func() time.Time

	locks lineLocks

	// admitMu serializes the exposure read, risk check and optimistic
	// placement so concurrent pairs cannot jointly breach a portfolio
	// ceiling. Exchange I/O happens outside it.
	admitMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]time.Time // external id → submitted at

	reconcileNow chan struct{}

	statusMu        sync.Mutex
	lastPollAt      time.Time
	lastReconcileAt time.Time
}

// New creates an engine around the given collaborators. The storage and
// notifier may be nil.
func New(source ports.OddsSource, exchange ports.Exchange, storage ports.Storage, notifier ports.Notifier, snap Snapshot) *Engine {
	if snap.PollInterval <= 0 {
		snap.PollInterval = defaultPollInterval
	}
	if snap.ReconcileInterval <= 0 {
		snap.ReconcileInterval = defaultReconcileInterval
	}
	if snap.Workers <= 0 {
		snap.Workers = defaultWorkers
	}

	e := &Engine{
		source:       source,
		exchange:     exchange,
		storage:      storage,
		notifier:     notifier,
		quotes:       quotes.New(),
		ledger:       ledger.New(),
		controller:   liquidity.New(snap.FillWaitPeriod),
		now:          time.Now,
		pending:      make(map[string]time.Time),
		reconcileNow: make(chan struct{}, 1),
	}
	e.cfg.Store(&snap)
	return e
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() Snapshot {
	return *e.cfg.Load()
}

// UpdateConfig swaps in a new snapshot. It takes effect at the next decision
// point; in-flight decisions finish on the snapshot they started with.
func (e *Engine) UpdateConfig(next Snapshot) {
	if next.PollInterval <= 0 {
		next.PollInterval = defaultPollInterval
	}
	if next.ReconcileInterval <= 0 {
		next.ReconcileInterval = defaultReconcileInterval
	}
	if next.Workers <= 0 {
		next.Workers = defaultWorkers
	}
	e.cfg.Store(&next)
	e.controller.SetFillWait(next.FillWaitPeriod)
	slog.Info("config updated",
		"threshold", next.OddsChangeThreshold,
		"base_stake", next.BaseStake,
		"poll_interval", next.PollInterval)
}

// Start resumes the polling and reconciliation work.
func (e *Engine) Start() { e.running.Store(true) }

// Stop pauses both loops. Resting wagers stay on the exchange.
func (e *Engine) Stop() { e.running.Store(false) }

// Running reports whether the loops are active.
func (e *Engine) Running() bool { return e.running.Load() }

// RequestReconcile asks for an out-of-band reconciliation pass (e.g. after a
// submission failure or from the control plane). Non-blocking.
func (e *Engine) RequestReconcile() {
	select {
	case e.reconcileNow <- struct{}{}:
	default:
	}
}

// Recover reloads persisted open wagers into the ledger so reconciliation
// can reattach to exchange state after a restart.
func (e *Engine) Recover(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	ws, err := e.storage.OpenWagers(ctx)
	if err != nil {
		return err
	}
	for _, w := range ws {
		e.ledger.Adopt(w)
		e.controller.OnPlacement(w.Line)
	}
	if len(ws) > 0 {
		slog.Info("recovered open wagers from storage", "count", len(ws))
	}
	return nil
}

// Run drives the loops until the context is cancelled. Start/Stop toggles
// whether ticks do work; Run itself keeps ticking either way.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()

	snap := e.Config()
	poll := time.NewTicker(snap.PollInterval)
	reconcile := time.NewTicker(snap.ReconcileInterval)
	sweep := time.NewTicker(sweepInterval)
	defer poll.Stop()
	defer reconcile.Stop()
	defer sweep.Stop()

	pollEvery, reconcileEvery := snap.PollInterval, snap.ReconcileInterval
	reconcileFailures := 0

	e.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			if cur := e.Config(); cur.PollInterval != pollEvery {
				pollEvery = cur.PollInterval
				poll.Reset(pollEvery)
			}
			if e.Running() {
				e.pollOnce(ctx)
			}
		case <-reconcile.C:
			if cur := e.Config(); cur.ReconcileInterval != reconcileEvery {
				reconcileEvery = cur.ReconcileInterval
				reconcile.Reset(reconcileEvery)
			}
			if e.Running() {
				if err := e.ReconcileOnce(ctx); err != nil {
					reconcileFailures++
					slog.Warn("reconciliation failed", "err", err, "consecutive", reconcileFailures)
					if reconcileFailures >= maxReconcileFailures {
						return fmt.Errorf("engine.Run: exchange unreachable for %d reconciliation passes: %w",
							reconcileFailures, err)
					}
				} else {
					reconcileFailures = 0
				}
			}
		case <-e.reconcileNow:
			if err := e.ReconcileOnce(ctx); err != nil {
				slog.Warn("on-demand reconciliation failed", "err", err)
			} else {
				reconcileFailures = 0
			}
		case <-sweep.C:
			if e.Running() {
				e.sweepDue(ctx)
				e.closeStartedLines(ctx)
			}
		}
	}
}

// notify pushes an event to the notifier, if one is wired.
func (e *Engine) notify(ctx context.Context, ev ports.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		slog.Warn("notifier failed", "kind", ev.Kind, "err", err)
	}
}

func (e *Engine) markPending(externalID string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[externalID] = e.now()
}

func (e *Engine) clearPending(externalID string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pending, externalID)
}

// inGrace reports whether a wager was submitted too recently for its absence
// from the exchange's list to mean anything.
func (e *Engine) inGrace(externalID string, now time.Time) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	at, ok := e.pending[externalID]
	return ok && now.Sub(at) < reconcileGrace
}

// lineLocks serializes all planner/ledger/controller work for one market
// behind a per-pair mutex. Different markets proceed in parallel.
type lineLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lineLocks) get(pairKey string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[pairKey]
	if !ok {
		m = &sync.Mutex{}
		l.locks[pairKey] = m
	}
	return m
}
