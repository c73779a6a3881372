// Package seekpoint tracks the sorted table of known keyframe PTS values a
// container exposes, mutated both by the parser (ahead of time, during
// metadata parsing) and by the demuxer worker (as it observes better
// candidates mid-stream). It follows the single-writer/many-readers
// protocol spec.md §9 calls for: the writer appends under a short mutex,
// readers take an immutable snapshot and iterate indices, never holding the
// lock across work.
package seekpoint

import (
	"math"
	"sort"
	"sync"
)

// MaxPTS is the sentinel "second" bound returned by Bracket when target
// falls at or after the last known seek point.
const MaxPTS = math.MaxInt64

// Table is a strictly-increasing sequence of PTS values known to be
// keyframes: the first entry is <= the stream start, the last is <= the
// last PTS seen.
type Table struct {
	mu     sync.Mutex
	points []int64
}

// New creates a Table seeded with initial seek points (normally the
// parser's seek-point list). initial is assumed already sorted and
// strictly increasing; it is copied, not retained.
func New(initial []int64) *Table {
	return &Table{points: append([]int64(nil), initial...)}
}

// Append adds pts to the table if it is strictly greater than the last
// known seek point. Returns false (and drops pts) if it is not — either a
// duplicate, an out-of-order keyframe, or stream clock irregularity. This
// is how the demuxer worker extends the table per spec §3/§4.2.
func (t *Table) Append(pts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.points); n > 0 && pts <= t.points[n-1] {
		return false
	}
	t.points = append(t.points, pts)
	return true
}

// Snapshot returns the current seek points as a read-only slice. Because
// the table only ever grows by appending, and the full slice expression
// below caps the returned slice's capacity at its current length, this
// snapshot remains valid forever even as the table continues to grow
// concurrently — callers never need to hold Table's lock while iterating.
func (t *Table) Snapshot() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.points)
	return t.points[:n:n]
}

// Len reports the current number of known seek points.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points)
}

// Bracket returns the (first, second) seek points bracketing target within
// points: first is the greatest seek point <= target, second is the next
// one after it (or MaxPTS if target is at or past the last known point).
// ok is false if target precedes every known seek point.
func Bracket(points []int64, target int64) (first, second int64, ok bool) {
	if len(points) == 0 || target < points[0] {
		return 0, 0, false
	}
	idx := sort.Search(len(points), func(i int) bool { return points[i] > target }) - 1
	first = points[idx]
	if idx+1 < len(points) {
		second = points[idx+1]
	} else {
		second = MaxPTS
	}
	return first, second, true
}
