package videoreader

import (
	"context"

	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/seekpoint"
	"github.com/zsiec/mediacore/media"
)

// behindPenalty is added to a task's priority distance when it falls on
// the wrong side of the reader's current direction, so same-direction
// tasks of any distance always outrank it without needing a second sort
// key (spec §4.1: "out-of-view tasks ordered by distance ... directionally
// weighted").
const behindPenalty = int64(1) << 40

// schedulerTick is the fourth worker every VideoReader runs alongside the
// demuxer/decoder/post-processor trio (spec §5 names it implicitly as part
// of "Each reader instance owns a fixed set of workers"): it recomputes the
// cache window from the current read position, direction, and cache-frame
// tuning, and reconciles the scheduler's task list against it (spec §4.1's
// update_cache_window / rebuild_task_list).
func (r *Reader) schedulerTick(ctx context.Context) error {
	readPos := r.readPos.Load()
	forward := r.forward.Load()
	dur := r.frameDurationPTS
	if dur <= 0 {
		dur = 1
	}

	forwardSpan := r.forwardCacheFrames.Load() * dur
	backwardSpan := r.backwardCacheFrames.Load() * dur

	var lo, hi int64
	if forward {
		lo, hi = readPos-backwardSpan, readPos+forwardSpan
	} else {
		lo, hi = readPos-forwardSpan, readPos+backwardSpan
	}
	if lo < 0 {
		lo = 0
	}

	window := scheduler.SnapWindow{
		ReadPos:           readPos,
		SeekPTSCacheFirst: lo,
		SeekPTSCacheSecond: hi,
	}

	dirty := r.sched.UpdateCacheWindow(window, false)
	r.cacheLo.Store(lo)
	r.cacheHi.Store(hi)
	if !dirty {
		return nil
	}

	points := r.seekPoints.Snapshot()
	wanted := gopRanges(points, lo, hi)
	if len(wanted) == 0 {
		return nil
	}

	priority := priorityFor(lo, hi, readPos, forward)
	r.sched.ReconcileBySeekRange(wanted,
		func(rng scheduler.SeekRange) *gop.Task {
			t := gop.New(rng.First, rng.Second, media.PacketQueueSize, media.DecodedQueueSize)
			t.SetMediaBegin(rng.First == points[0])
			t.SetMediaEnd(rng.Second == seekpoint.MaxPTS)
			return t
		},
		priority,
	)
	return nil
}

// gopRanges covers [lo, hi] with the consecutive GOP-sized seek ranges the
// seek-point table brackets, one scheduler.SeekRange per GOP (spec §4.1:
// "for the VideoReader, tasks are keyed by seek_pts_range equality").
func gopRanges(points []int64, lo, hi int64) []scheduler.SeekRange {
	if len(points) == 0 {
		return nil
	}
	if lo < points[0] {
		lo = points[0]
	}

	var out []scheduler.SeekRange
	cursor := lo
	for {
		first, second, ok := seekpoint.Bracket(points, cursor)
		if !ok {
			break
		}
		out = append(out, scheduler.SeekRange{First: first, Second: second})
		if second == seekpoint.MaxPTS || second >= hi {
			break
		}
		cursor = second
	}
	return out
}

// priorityFor returns the scheduler.Priority function for the given cache
// window, read position, and direction (spec §4.1): in-view tasks always
// outrank out-of-view ones, and distance is measured from the read pointer
// in the current playback direction, with tasks on the wrong side pushed
// behind every same-direction task via behindPenalty.
func priorityFor(cacheLo, cacheHi, readPos int64, forward bool) func(*gop.Task) scheduler.Priority {
	return func(t *gop.Task) scheduler.Priority {
		inView := t.SeekPTSFirst < cacheHi && t.SeekPTSSecond > cacheLo

		var dist int64
		if forward {
			dist = t.SeekPTSFirst - readPos
		} else {
			dist = readPos - t.SeekPTSSecond
		}
		if dist < 0 {
			dist = -dist + behindPenalty
		}
		return scheduler.Priority{InView: inView, Distance: dist}
	}
}
