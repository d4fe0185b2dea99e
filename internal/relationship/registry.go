package relationship

import (
	"sort"
	"sync"

	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// Registry holds the live candidates indexed by outcome and market.
type Registry struct {
	mu         sync.RWMutex
	candidates map[string]Candidate
	byOutcome  map[types.OutcomeKey]map[string]struct{}
	byMarket   map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		candidates: make(map[string]Candidate),
		byOutcome:  make(map[types.OutcomeKey]map[string]struct{}),
		byMarket:   make(map[string]map[string]struct{}),
	}
}

// Put adds or replaces a candidate. Returns true if one was replaced.
func (r *Registry) Put(c Candidate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.candidates[c.Key]
	if replaced {
		r.removeLocked(c.Key)
	}

	r.candidates[c.Key] = c
	for _, leg := range []types.OutcomeKey{c.LegA, c.LegB} {
		addIndex(r.byOutcome, leg, c.Key)
		addIndex(r.byMarket, leg.MarketKey(), c.Key)
	}
	CandidatesLive.Set(float64(len(r.candidates)))
	return replaced
}

// Remove drops a candidate. Returns true if it existed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.candidates[key]
	if ok {
		r.removeLocked(key)
		CandidatesLive.Set(float64(len(r.candidates)))
	}
	return ok
}

func (r *Registry) removeLocked(key string) {
	c := r.candidates[key]
	delete(r.candidates, key)
	for _, leg := range []types.OutcomeKey{c.LegA, c.LegB} {
		dropIndex(r.byOutcome, leg, key)
		dropIndex(r.byMarket, leg.MarketKey(), key)
	}
}

// Get returns a candidate by key.
func (r *Registry) Get(key string) (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.candidates[key]
	return c, ok
}

// ForOutcome returns every candidate with the outcome as a leg.
func (r *Registry) ForOutcome(key types.OutcomeKey) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.byOutcome[key]
	out := make([]Candidate, 0, len(keys))
	for k := range keys {
		out = append(out, r.candidates[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Contains reports whether the outcome participates in any live candidate.
func (r *Registry) Contains(key types.OutcomeKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byOutcome[key]) > 0
}

// InvalidateMarket removes every candidate touching the market and returns
// the removed keys.
func (r *Registry) InvalidateMarket(venue, marketID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.byMarket[venue+":"+marketID]
	removed := make([]string, 0, len(idx))
	for k := range idx {
		removed = append(removed, k)
	}
	for _, k := range removed {
		r.removeLocked(k)
	}
	CandidatesLive.Set(float64(len(r.candidates)))
	sort.Strings(removed)
	return removed
}

// All returns every live candidate ordered by key.
func (r *Registry) All() []Candidate {
	r.mu.RLock()
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live candidates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}

func addIndex[K comparable](idx map[K]map[string]struct{}, k K, key string) {
	set, ok := idx[k]
	if !ok {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[key] = struct{}{}
}

func dropIndex[K comparable](idx map[K]map[string]struct{}, k K, key string) {
	set, ok := idx[k]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(idx, k)
	}
}
