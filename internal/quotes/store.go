// Package quotes holds the latest reference-book snapshot and detects
// materially-changed lines between polls.
package quotes

import (
	"sort"
	"sync"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
)

// Change is a pair whose reference price moved at least the significance
// threshold since the previous poll, or a pair seen for the first time.
type Change struct {
	Pair  domain.QuotePair
	Prev  *domain.QuotePair // nil for a first observation
	Delta int               // largest absolute odds-point move, 0 for new pairs
}

// Store keeps the latest quote pair per market. The threshold is expressed
// in absolute american-odds points.
type Store struct {
	mu    sync.RWMutex
	pairs map[string]domain.QuotePair
}

// New creates an empty snapshot store.
func New() *Store {
	return &Store{pairs: make(map[string]domain.QuotePair)}
}

// Update ingests a fresh poll and returns the pairs worth replanning.
// Quotes are grouped into two-sided pairs; incomplete markets (a single
// visible selection) are skipped until the bookmaker prices both sides.
// The previous snapshot is retained for any pair absent from this poll.
func (s *Store) Update(qs []domain.OddsQuote, threshold int) []Change {
	grouped := make(map[string][]domain.OddsQuote)
	for _, q := range qs {
		key := q.Line.PairKey()
		grouped[key] = append(grouped[key], q)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for key, group := range grouped {
		if len(group) != 2 {
			continue
		}
		// fixed side ordering so repeat observations compare positionally
		sort.Slice(group, func(i, j int) bool {
			return group[i].Line.Selection < group[j].Line.Selection
		})
		pair := domain.QuotePair{A: group[0], B: group[1]}

		prev, seen := s.pairs[key]
		s.pairs[key] = pair

		if !seen {
			changes = append(changes, Change{Pair: pair})
			continue
		}
		if delta := pair.MaxDelta(prev); delta >= threshold {
			prevCopy := prev
			changes = append(changes, Change{Pair: pair, Prev: &prevCopy, Delta: delta})
		}
	}
	return changes
}

// Get returns the latest pair for a pair key.
func (s *Store) Get(pairKey string) (domain.QuotePair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pairs[pairKey]
	return p, ok
}

// Remove drops a pair from tracking (event started or closed).
func (s *Store) Remove(pairKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, pairKey)
}

// All returns a copy of every tracked pair.
func (s *Store) All() []domain.QuotePair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuotePair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	return out
}

// Len returns the number of tracked pairs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pairs)
}
