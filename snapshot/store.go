package snapshot

import (
	"sort"
	"sync"

	"github.com/zsiec/mediacore/media"
)

// Store is the generator's per-index cache of converted snapshot frames.
// Entries are never evicted by a task being cancelled — only a task's
// *pending* decode work goes away when its range falls out of the cache
// window; any index it already finished stays in Store so a viewer
// shifting back into a previously-visible range is served without a
// redecode (spec §8 scenario 4: "previously populated snapshots ... are
// returned from cache").
type Store struct {
	mu      sync.RWMutex
	entries map[int32]*media.Frame
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[int32]*media.Frame)}
}

// Put installs f as the snapshot for ssIndex, releasing whatever frame
// previously occupied that slot. The Store takes its own reference.
func (s *Store) Put(ssIndex int32, f *media.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Retain()
	if old, ok := s.entries[ssIndex]; ok {
		old.Close()
	}
	s.entries[ssIndex] = f
}

// Get returns the cached snapshot for ssIndex, if any, with a reference the
// caller must Close.
func (s *Store) Get(ssIndex int32) (*media.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.entries[ssIndex]
	if !ok {
		return nil, false
	}
	f.Retain()
	return f, true
}

// NearestWithin returns the cached snapshot whose index is closest to
// ssIndex among those already populated within [lo, hi) — the §4.6 fallback
// step 2 ("nearest already-decoded snapshot in the same task"). Returns the
// matching index alongside the frame so callers can report provenance.
func (s *Store) NearestWithin(lo, hi, ssIndex int32) (*media.Frame, int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, 0, false
	}
	candidates := make([]int32, 0, len(s.entries))
	for idx := range s.entries {
		if idx >= lo && idx < hi {
			candidates = append(candidates, idx)
		}
	}
	if len(candidates) == 0 {
		return nil, 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return absInt32(candidates[i]-ssIndex) < absInt32(candidates[j]-ssIndex)
	})
	best := candidates[0]
	f := s.entries[best]
	f.Retain()
	return f, best, true
}

// Len reports the number of cached indices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
