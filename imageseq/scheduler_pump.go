package imageseq

import (
	"context"

	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
)

// behindPenalty mirrors videoreader's: added to a task's priority distance
// when it falls on the wrong side of the reader's current direction, so
// same-direction tasks of any distance always outrank it.
const behindPenalty = int64(1) << 40

// schedulerTick recomputes the cache window from the current frame index,
// direction, and cache-frame tuning, and reconciles the scheduler's task
// list against it — the same update_cache_window/rebuild_task_list pass
// videoreader.schedulerTick runs, just over frame-index ranges instead of
// GOP-bracketed PTS ranges (spec §4.7: "cache range is expressed in
// frame-index units, not PTS").
func (r *Reader) schedulerTick(ctx context.Context) error {
	readIndex := r.readIndex.Load()
	forward := r.forward.Load()

	forwardSpan := r.forwardCacheFrames.Load()
	backwardSpan := r.backwardCacheFrames.Load()

	var lo, hi int64
	if forward {
		lo, hi = readIndex-backwardSpan, readIndex+forwardSpan
	} else {
		lo, hi = readIndex-forwardSpan, readIndex+backwardSpan
	}
	if lo < 0 {
		lo = 0
	}
	if last := int64(len(r.files)) - 1; hi > last {
		hi = last
	}

	window := scheduler.SnapWindow{
		ReadPos:            readIndex,
		SeekPTSCacheFirst:  lo,
		SeekPTSCacheSecond: hi,
	}

	dirty := r.sched.UpdateCacheWindow(window, false)
	r.cacheLo.Store(lo)
	r.cacheHi.Store(hi)
	if !dirty {
		return nil
	}

	wanted := imageRanges(lo, hi)
	if len(wanted) == 0 {
		return nil
	}

	lastIndex := int64(len(r.files))
	priority := priorityFor(lo, hi, readIndex, forward)
	r.sched.ReconcileBySeekRange(wanted,
		func(rng scheduler.SeekRange) *gop.Task {
			t := gop.New(rng.First, rng.Second, r.packetQueueSize, r.decodedQueueSize)
			t.SetMediaBegin(rng.First == 0)
			t.SetMediaEnd(rng.Second == lastIndex)
			return t
		},
		priority,
	)
	return nil
}

// imageRanges covers [lo, hi] with one seek range per file index, each
// trivially one frame wide — there is no GOP or seek-point table to
// bracket against since every image is its own independent task.
func imageRanges(lo, hi int64) []scheduler.SeekRange {
	if hi < lo {
		return nil
	}
	out := make([]scheduler.SeekRange, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, scheduler.SeekRange{First: i, Second: i + 1})
	}
	return out
}

// priorityFor mirrors videoreader's priorityFor: in-view tasks always
// outrank out-of-view ones, and distance is measured from the read index in
// the current playback direction.
func priorityFor(cacheLo, cacheHi, readIndex int64, forward bool) func(*gop.Task) scheduler.Priority {
	return func(t *gop.Task) scheduler.Priority {
		inView := t.SeekPTSFirst < cacheHi+1 && t.SeekPTSSecond > cacheLo

		var dist int64
		if forward {
			dist = t.SeekPTSFirst - readIndex
		} else {
			dist = readIndex - t.SeekPTSSecond
		}
		if dist < 0 {
			dist = -dist + behindPenalty
		}
		return scheduler.Priority{InView: inView, Distance: dist}
	}
}
