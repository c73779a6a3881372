package snapshot

import (
	"math"
	"sync"

	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
)

// viewer is one client's visible snapshot-index window plus its cache
// factor (spec §4.6: "Input events: window-size changes, viewer
// creation/destruction, cache-factor changes").
type viewer struct {
	windowStart int32
	windowCount int32
	cacheFactor float64
}

// viewRange returns the viewer's pure in-view index span.
func (v viewer) viewRange() (int32, int32) {
	return v.windowStart, v.windowStart + v.windowCount
}

// cacheRange expands viewRange on both sides using the cache-size formula
// from original_source/Snapshot.cpp (SPEC_FULL.md §4.1 supplement):
// ceil((floor(windowCount)+2) * cacheFactor) total indices, split evenly
// as prefetch on either side of the view range.
func (v viewer) cacheRange() (int32, int32) {
	viewStart, viewEnd := v.viewRange()
	total := int32(math.Ceil(float64(v.windowCount+2) * v.cacheFactor))
	extra := total - v.windowCount
	if extra < 0 {
		extra = 0
	}
	back := extra / 2
	fwd := extra - back
	lo := viewStart - back
	if lo < 0 {
		lo = 0
	}
	return lo, viewEnd + fwd
}

// viewerRegistry owns the generator's set of viewers and derives the
// WeightedRange list scheduler.AggregateRanges consumes from it.
type viewerRegistry struct {
	mu      sync.Mutex
	viewers map[string]*viewer
}

func newViewerRegistry() *viewerRegistry {
	return &viewerRegistry{viewers: make(map[string]*viewer)}
}

// setWindow creates or updates viewerID's window. Returns true if this call
// changed anything observable (new viewer, or a different start/count);
// callers ignore it, since dirtiness for task-list rebuilds is decided by
// comparing the aggregated range set itself (see Generator.tick).
func (r *viewerRegistry) setWindow(viewerID string, start, count int32, defaultCacheFactor float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerID]
	if !ok {
		r.viewers[viewerID] = &viewer{windowStart: start, windowCount: count, cacheFactor: defaultCacheFactor}
		return true
	}
	changed := v.windowStart != start || v.windowCount != count
	v.windowStart = start
	v.windowCount = count
	return changed
}

func (r *viewerRegistry) setCacheFactor(viewerID string, factor float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerID]
	if !ok {
		return false
	}
	changed := v.cacheFactor != factor
	v.cacheFactor = factor
	return changed
}

func (r *viewerRegistry) remove(viewerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.viewers[viewerID]; !ok {
		return false
	}
	delete(r.viewers, viewerID)
	return true
}

func (r *viewerRegistry) get(viewerID string) (viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[viewerID]
	if !ok {
		return viewer{}, false
	}
	return *v, true
}

// snapshot returns a copy of every registered viewer, used to build the
// aggregated WeightedRange list and the priority function for a tick.
func (r *viewerRegistry) snapshot() []viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		out = append(out, *v)
	}
	return out
}

// desiredRanges implements spec §4.1's "Viewers each produce a list of
// desired ranges (view, prefetch-back, prefetch-forward)" for every
// registered viewer, ready for scheduler.AggregateRanges.
func desiredRanges(viewers []viewer) []scheduler.WeightedRange {
	var out []scheduler.WeightedRange
	for _, v := range viewers {
		viewStart, viewEnd := v.viewRange()
		cacheStart, cacheEnd := v.cacheRange()
		out = append(out, scheduler.WeightedRange{First: viewStart, Second: viewEnd, InView: true})
		if cacheStart < viewStart {
			out = append(out, scheduler.WeightedRange{First: cacheStart, Second: viewStart, InView: false})
		}
		if cacheEnd > viewEnd {
			out = append(out, scheduler.WeightedRange{First: viewEnd, Second: cacheEnd, InView: false})
		}
	}
	return out
}

// priorityFromViewers builds the scheduler.Priority function for a tick
// (spec §4.1): in-view beats out-of-view; ties among out-of-view tasks
// break by distance to the nearest viewer's view-window edge.
func priorityFromViewers(viewers []viewer) func(*gop.Task) scheduler.Priority {
	return func(t *gop.Task) scheduler.Priority {
		inView := false
		var best int64 = math.MaxInt64
		for _, v := range viewers {
			viewStart, viewEnd := v.viewRange()
			if t.SSIndexFirst < viewEnd && t.SSIndexSecond > viewStart {
				inView = true
			}
			d := edgeDistance(t.SSIndexFirst, t.SSIndexSecond, viewStart, viewEnd)
			if d < best {
				best = d
			}
		}
		if best == math.MaxInt64 {
			best = 0
		}
		return scheduler.Priority{InView: inView, Distance: best}
	}
}

// edgeDistance returns how far [first, second) falls from [viewStart,
// viewEnd), 0 if they overlap.
func edgeDistance(first, second, viewStart, viewEnd int32) int64 {
	switch {
	case second <= viewStart:
		return int64(viewStart - second)
	case first >= viewEnd:
		return int64(first - viewEnd)
	default:
		return 0
	}
}
