package prophetx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Simulator is an in-memory exchange for dry runs and tests. Wagers rest
// unmatched until Fill or Cancel is driven explicitly.
type Simulator struct {
	mu         sync.Mutex
	byExternal map[string]*domain.Wager
	byID       map[string]string // wager id → external id
	submitErr  error
	now        func() time.Time
}

// NewSimulator creates an empty simulated exchange.
func NewSimulator() *Simulator {
	return &Simulator{
		byExternal: make(map[string]*domain.Wager),
		byID:       make(map[string]string),
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Simulator) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailSubmits makes every following SubmitWager return err. Pass nil to
// restore normal behaviour.
func (s *Simulator) FailSubmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// SubmitWager accepts a wager and leaves it resting unmatched. Idempotent on
// externalID: a resubmission returns the original acknowledgement.
func (s *Simulator) SubmitWager(_ context.Context, target domain.TargetWager, externalID string) (domain.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return domain.SubmitResult{}, s.submitErr
	}
	if w, ok := s.byExternal[externalID]; ok {
		return domain.SubmitResult{WagerID: w.WagerID, ExternalID: externalID}, nil
	}

	now := s.now()
	w := &domain.Wager{
		WagerID:        "sim-" + uuid.NewString(),
		ExternalID:     externalID,
		Line:           target.Line,
		Odds:           target.Odds,
		Stake:          target.Stake,
		UnmatchedStake: target.Stake,
		Status:         domain.WagerOpen,
		MatchingStatus: domain.MatchUnmatched,
		PlacedAt:       now,
		UpdatedAt:      now,
	}
	s.byExternal[externalID] = w
	s.byID[w.WagerID] = externalID
	return domain.SubmitResult{WagerID: w.WagerID, ExternalID: externalID}, nil
}

// CancelWager releases the unmatched portion of a wager. Matched stake stays.
func (s *Simulator) CancelWager(_ context.Context, wagerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.byWagerID(wagerID)
	if err != nil {
		return err
	}
	if w.Status != domain.WagerOpen {
		return nil
	}
	w.UnmatchedStake = 0
	if w.MatchedStake == 0 {
		w.Status = domain.WagerCanceled
	} else {
		w.MatchingStatus = domain.MatchFull
	}
	w.UpdatedAt = s.now()
	return nil
}

// ListWagers returns all wagers matching the filters, oldest first.
func (s *Simulator) ListWagers(_ context.Context, filters domain.WagerFilters) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make(map[string]bool, len(filters.EventIDs))
	for _, id := range filters.EventIDs {
		events[id] = true
	}

	var out []domain.Wager
	for _, w := range s.byExternal {
		if len(events) > 0 && !events[w.Line.EventID] {
			continue
		}
		if !filters.Since.IsZero() && w.UpdatedAt.Before(filters.Since) {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

// GetWager fetches a single wager by exchange id.
func (s *Simulator) GetWager(_ context.Context, wagerID string) (domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.byWagerID(wagerID)
	if err != nil {
		return domain.Wager{}, err
	}
	return *w, nil
}

// Fill drives the simulated order book: sets a wager's cumulative matched
// stake. Test and dry-run helper, not part of the exchange port.
func (s *Simulator) Fill(externalID string, matchedTotal float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byExternal[externalID]
	if !ok {
		return fmt.Errorf("prophetx.Fill: %w: %s", domain.ErrUnknownWager, externalID)
	}
	if matchedTotal > w.Stake {
		matchedTotal = w.Stake
	}
	if matchedTotal <= w.MatchedStake {
		return nil
	}
	w.MatchedStake = matchedTotal
	w.UnmatchedStake = w.Stake - matchedTotal
	if w.UnmatchedStake == 0 {
		w.MatchingStatus = domain.MatchFull
	} else {
		w.MatchingStatus = domain.MatchPartial
	}
	w.UpdatedAt = s.now()
	return nil
}

// Adopt seeds a wager the engine never submitted, for restart-recovery tests.
func (s *Simulator) Adopt(w domain.Wager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.byExternal[w.ExternalID] = &cp
	s.byID[w.WagerID] = w.ExternalID
}

// Wager returns a copy of the wager with the given external id.
func (s *Simulator) Wager(externalID string) (domain.Wager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byExternal[externalID]
	if !ok {
		return domain.Wager{}, false
	}
	return *w, true
}

func (s *Simulator) byWagerID(wagerID string) (*domain.Wager, error) {
	ext, ok := s.byID[wagerID]
	if !ok {
		return nil, fmt.Errorf("prophetx: %w: %s", domain.ErrUnknownWager, wagerID)
	}
	return s.byExternal[ext], nil
}
