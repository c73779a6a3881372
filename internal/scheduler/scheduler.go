// Package scheduler implements the Task Scheduler (spec §4.1): it owns a
// reader's set of active GopDecodeTasks, reconciles it against a
// newly-computed cache window, and republishes priority-ordered views of it
// so the demuxer, decoder, and post-processor workers can each pick their
// next task without contending on a shared lock.
package scheduler

import (
	"sort"
	"sync"

	"github.com/zsiec/mediacore/internal/gop"
)

// SeekRange identifies a VideoReader-style task by its seek-point span.
type SeekRange struct {
	First, Second int64
}

// IndexRange identifies a SnapshotGenerator-style task by its snapshot
// index span.
type IndexRange struct {
	First, Second int32
}

// SnapWindow is the view state derived from a client's read position
// (spec §3). Recomputed on every seek; compared to the scheduler's cached
// copy to decide whether the task list needs rebuilding.
type SnapWindow struct {
	ReadPos                                int64
	ViewIdxFirst, ViewIdxSecond            int64
	CacheIdxFirst, CacheIdxSecond          int64
	SeekPTSCacheFirst, SeekPTSCacheSecond  int64
}

// Priority is a task's scheduling weight: in-view tasks always outrank
// out-of-view ones; within a group, lower Distance wins. Distance is
// whatever the caller computes — proximity to the read pointer for
// in-view tasks, distance to the view window edge for out-of-view ones,
// both already sign-adjusted for the current direction (spec §4.1).
type Priority struct {
	InView   bool
	Distance int64
}

// Less reports whether p should be scheduled before o.
func (p Priority) Less(o Priority) bool {
	if p.InView != o.InView {
		return p.InView
	}
	return p.Distance < o.Distance
}

type entry struct {
	task     *gop.Task
	priority Priority
}

// Scheduler owns a reader's canonical task list and three independent
// priority-ordered views of it, one per worker class, each behind its own
// RWMutex (spec §5: "the task list is protected by three mutexes ... to
// permit independent iteration; writers take all three").
type Scheduler struct {
	mu  sync.Mutex // serializes reconciliation; short critical section
	all []entry

	lastWindow SnapWindow
	haveWindow bool

	demuxMu     sync.RWMutex
	demuxOrder  []entry
	decodeMu    sync.RWMutex
	decodeOrder []entry
	postMu      sync.RWMutex
	postOrder   []entry
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// UpdateCacheWindow records window as the scheduler's current view of the
// read position. It returns true (the task list is "dirty" and should be
// reconciled) when window differs from the last recorded one, or force is
// set.
func (s *Scheduler) UpdateCacheWindow(window SnapWindow, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty := force || !s.haveWindow || window != s.lastWindow
	s.lastWindow = window
	s.haveWindow = true
	return dirty
}

// ReconcileBySeekRange rebuilds the task list for VideoReader-style
// scheduling, where tasks are keyed by seek_pts_range equality (spec
// §4.1): ranges present in both the old and new list are kept as-is,
// ranges no longer wanted are cancelled, and new ranges get a task from
// newTask. priority is recomputed for every surviving and new task before
// the three worker views are republished.
func (s *Scheduler) ReconcileBySeekRange(wanted []SeekRange, newTask func(SeekRange) *gop.Task, priority func(*gop.Task) Priority) []*gop.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[SeekRange]*gop.Task, len(s.all))
	for _, e := range s.all {
		existing[SeekRange{e.task.SeekPTSFirst, e.task.SeekPTSSecond}] = e.task
	}

	kept := make(map[SeekRange]bool, len(wanted))
	next := make([]entry, 0, len(wanted))
	tasks := make([]*gop.Task, 0, len(wanted))
	for _, r := range wanted {
		t, ok := existing[r]
		if !ok {
			t = newTask(r)
		}
		kept[r] = true
		next = append(next, entry{task: t, priority: priority(t)})
		tasks = append(tasks, t)
	}
	for r, t := range existing {
		if !kept[r] {
			t.Cancel()
		}
	}

	s.all = next
	s.republishLocked()
	return tasks
}

// ReconcileByIndexRange rebuilds the task list for SnapshotGenerator-style
// scheduling, where tasks are keyed by ss_index_range (spec §4.1). wanted
// should already be the output of AggregateRanges, i.e. the minimal
// non-overlapping set for this window. A task whose range exactly matches
// a wanted one is kept; anything else is cancelled and replaced. The
// aggregation pass is where the spec's merge/split algorithm actually
// lives (at the range level); replace-on-mismatch here is deliberately
// simpler than a byte-level task split, since a partially-decoded task
// losing a few candidates to a boundary shift is cheap to redo.
func (s *Scheduler) ReconcileByIndexRange(wanted []IndexRange, newTask func(IndexRange) *gop.Task, priority func(*gop.Task) Priority) []*gop.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	type existingEntry struct {
		rng  IndexRange
		task *gop.Task
	}
	existing := make([]existingEntry, 0, len(s.all))
	for _, e := range s.all {
		existing = append(existing, existingEntry{IndexRange{e.task.SSIndexFirst, e.task.SSIndexSecond}, e.task})
	}

	used := make(map[*gop.Task]bool, len(existing))
	next := make([]entry, 0, len(wanted))
	tasks := make([]*gop.Task, 0, len(wanted))
	for _, r := range wanted {
		var t *gop.Task
		for _, ex := range existing {
			if ex.rng == r && !used[ex.task] {
				t = ex.task
				used[ex.task] = true
				break
			}
		}
		if t == nil {
			t = newTask(r)
		}
		next = append(next, entry{task: t, priority: priority(t)})
		tasks = append(tasks, t)
	}
	for _, ex := range existing {
		if !used[ex.task] {
			ex.task.Cancel()
		}
	}

	s.all = next
	s.republishLocked()
	return tasks
}

// CancelFromMediaEnd implements the §4.1 failure semantics: when failed's
// first seek point turned out to be past the media end, every subsequent
// task in seek-point order is unreachable too and is cancelled in the same
// pass.
func (s *Scheduler) CancelFromMediaEnd(failed *gop.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed.Cancel()
	for _, e := range s.all {
		if e.task.SeekPTSFirst >= failed.SeekPTSFirst {
			e.task.Cancel()
		}
	}
}

func (s *Scheduler) republishLocked() {
	ordered := make([]entry, len(s.all))
	copy(ordered, s.all)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority.Less(ordered[j].priority) })

	s.demuxMu.Lock()
	s.demuxOrder = ordered
	s.demuxMu.Unlock()

	s.decodeMu.Lock()
	s.decodeOrder = ordered
	s.decodeMu.Unlock()

	s.postMu.Lock()
	s.postOrder = ordered
	s.postMu.Unlock()
}

// FindNextDemuxTask returns the highest-priority task that still needs
// demuxing (not cancelled, demuxer_eof not yet set), or nil.
func (s *Scheduler) FindNextDemuxTask() *gop.Task {
	s.demuxMu.RLock()
	defer s.demuxMu.RUnlock()
	for _, e := range s.demuxOrder {
		if e.task.Cancelled() || e.task.DemuxerEOF() {
			continue
		}
		return e.task
	}
	return nil
}

// FindNextDecodeTask returns the highest-priority task that still needs
// decoding (not cancelled, decoder_eof not yet set), or nil.
func (s *Scheduler) FindNextDecodeTask() *gop.Task {
	s.decodeMu.RLock()
	defer s.decodeMu.RUnlock()
	for _, e := range s.decodeOrder {
		if e.task.Cancelled() || e.task.DecoderEOF() {
			continue
		}
		return e.task
	}
	return nil
}

// FindNextPostprocessTask returns the highest-priority task with decoded
// frames waiting to be converted, or nil.
func (s *Scheduler) FindNextPostprocessTask() *gop.Task {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	for _, e := range s.postOrder {
		if e.task.Cancelled() {
			continue
		}
		if e.task.Decoded.Len() > 0 {
			return e.task
		}
	}
	return nil
}

// Tasks returns a snapshot of the current canonical task list, PTS/index
// ordered as given to the last Reconcile call.
func (s *Scheduler) Tasks() []*gop.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gop.Task, len(s.all))
	for i, e := range s.all {
		out[i] = e.task
	}
	return out
}

// Len reports the number of active tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

// WeightedRange is a desired snapshot-index range tagged with whether it
// falls inside the currently visible view (vs. prefetch-only).
type WeightedRange struct {
	First, Second int32
	InView        bool
}

// AggregateRanges implements the task-range aggregation algorithm from
// spec §4.1: ranges sharing the same InView flag merge on overlap; ranges
// with different InView flags are split so the in-view portion dominates;
// a final pass coalesces adjacent same-flag ranges until a fixed point.
// The result is the minimal set of non-overlapping ranges, sorted by
// First, whose InView bit is well-defined everywhere the input covered.
func AggregateRanges(ranges []WeightedRange) []WeightedRange {
	if len(ranges) == 0 {
		return nil
	}

	breakpoints := make(map[int32]struct{}, len(ranges)*2)
	for _, r := range ranges {
		breakpoints[r.First] = struct{}{}
		breakpoints[r.Second] = struct{}{}
	}
	points := make([]int32, 0, len(breakpoints))
	for p := range breakpoints {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })

	var swept []WeightedRange
	for i := 0; i+1 < len(points); i++ {
		lo, hi := points[i], points[i+1]
		covered, inView := false, false
		for _, r := range ranges {
			if r.First <= lo && hi <= r.Second {
				covered = true
				if r.InView {
					inView = true
				}
			}
		}
		if !covered {
			continue
		}
		swept = append(swept, WeightedRange{First: lo, Second: hi, InView: inView})
	}

	return coalesce(swept)
}

// coalesce merges adjacent ranges sharing the same InView flag until no
// more merges are possible.
func coalesce(ranges []WeightedRange) []WeightedRange {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].First < ranges[j].First })
	out := []WeightedRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.Second == r.First && last.InView == r.InView {
			last.Second = r.Second
			continue
		}
		out = append(out, r)
	}
	return out
}
